package shell

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/example/foodshare/internal/conversation"
	"github.com/example/foodshare/internal/listing/domain"
	"github.com/example/foodshare/internal/listing/service"
)

const rule = "============================================================"

func money(v float64) string { return "$" + strconv.FormatFloat(v, 'f', -1, 64) }

func km(v float64) string { return strconv.FormatFloat(v, 'f', 2, 64) + " km" }

func banner(m Mode) string {
	title := "HOTEL MODE"
	if m == ModeWorker {
		title = "WORKER MODE"
	}
	return fmt.Sprintf("%s\n%s\n%s\n%s\n", rule, title, help(m), rule)
}

func help(m Mode) string {
	lines := []string{"Commands:"}
	if m == ModeHotel {
		lines = append(lines, "  publish <hotel> <food> <price> <qty> [lat,lon]")
	} else {
		lines = append(lines,
			"  search <max_price> [food=<name>] [within=<km>] [at=<lat,lon>]",
			"  book <hotel> <food>")
	}
	lines = append(lines,
		"  inventory | locate | history | mode hotel|worker | exit",
		`Quote names with spaces: publish "Taj Palace" "Veg Biryani" 120 5`)
	return strings.Join(lines, "\n")
}

func renderError(err error) string {
	switch {
	case errors.Is(err, ErrUsage):
		return err.Error()
	case errors.Is(err, domain.ErrStorageUnavailable):
		return "error: listing store unavailable, try again later"
	}
	return "error: " + err.Error()
}

func renderPublished(resp service.PublishResponse, active int) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Stored '%s' from %s: %d at %s each, location %s\n",
		resp.FoodName, resp.HotelName, resp.Quantity, money(resp.Price), resp.Location)
	fmt.Fprintf(&b, "Listing ID: %s", resp.ID)
	if active >= 0 {
		fmt.Fprintf(&b, "\nTotal active items: %d", active)
	}
	return b.String()
}

func renderMatches(filter domain.Filter, matches []domain.Match) string {
	within := ""
	if filter.Radius() {
		within = " within " + km(*filter.MaxDistanceKM)
	}
	if len(matches) == 0 {
		if filter.FoodName != "" {
			return fmt.Sprintf("No '%s' found under %s%s. Try adjusting your search criteria.", filter.FoodName, money(filter.MaxPrice), within)
		}
		return fmt.Sprintf("No food found under %s%s. Try adjusting your search criteria.", money(filter.MaxPrice), within)
	}

	var b strings.Builder
	what := ""
	if filter.FoodName != "" {
		what = filter.FoodName + " "
	}
	fmt.Fprintf(&b, "Found %d %soption(s)%s under %s:\n\n", len(matches), what, within, money(filter.MaxPrice))
	for i, m := range matches {
		fmt.Fprintf(&b, "%d. %s\n", i+1, m.FoodName)
		fmt.Fprintf(&b, "   Hotel: %s\n", m.HotelName)
		fmt.Fprintf(&b, "   Price: %s\n", money(m.Price))
		fmt.Fprintf(&b, "   Quantity: %d\n", m.Quantity)
		fmt.Fprintf(&b, "   Location: %s\n", m.LocationText)
		if m.DistanceKM != nil {
			fmt.Fprintf(&b, "   Distance: %s\n", km(*m.DistanceKM))
		}
		fmt.Fprintf(&b, "   Posted: %s\n\n", m.CreatedAt.Format(time.DateTime))
	}
	first := matches[0]
	if first.DistanceKM != nil {
		fmt.Fprintf(&b, "Nearest option: '%s' from %s at %s for %s", first.FoodName, first.HotelName, km(*first.DistanceKM), money(first.Price))
	} else {
		fmt.Fprintf(&b, "Best deal: '%s' from %s at %s", first.FoodName, first.HotelName, money(first.Price))
	}
	return b.String()
}

func renderReservation(r domain.Reservation) string {
	head := fmt.Sprintf("Booked '%s' from %s for %s!", r.FoodName, r.HotelName, money(r.Price))
	if r.SoldOut {
		return head + "\nThis was the last item available!"
	}
	return fmt.Sprintf("%s\nRemaining quantity: %d", head, r.Quantity)
}

func renderInventory(inv service.Inventory) string {
	if len(inv.Listings) == 0 {
		return "No food items in the store"
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%s\nCURRENT INVENTORY (%d active of %d)\n%s\n", rule, inv.Active, len(inv.Listings), rule)
	for i, l := range inv.Listings {
		fmt.Fprintf(&b, "\n%d. %s\n", i+1, l.FoodName)
		fmt.Fprintf(&b, "   Hotel: %s\n", l.HotelName)
		fmt.Fprintf(&b, "   Price: %s\n", money(l.Price))
		fmt.Fprintf(&b, "   Quantity: %d\n", l.Quantity)
		fmt.Fprintf(&b, "   Location: %s\n", l.LocationText)
		fmt.Fprintf(&b, "   Available: %t\n", l.Available)
		fmt.Fprintf(&b, "   Status: %s\n", l.Status)
		fmt.Fprintf(&b, "   Added: %s\n", l.CreatedAt.Format(time.DateTime))
		if l.LastBookedAt != nil {
			fmt.Fprintf(&b, "   Last Booked: %s\n", l.LastBookedAt.Format(time.DateTime))
		}
		fmt.Fprintf(&b, "   ID: %s\n", l.ID)
	}
	b.WriteString(rule)
	return b.String()
}

func renderHistory(msgs []conversation.Message) string {
	if len(msgs) == 0 {
		return "No history yet"
	}
	var b strings.Builder
	for i, m := range msgs {
		if i > 0 {
			b.WriteByte('\n')
		}
		prefix := ">"
		if m.Role == conversation.RoleAssistant {
			prefix = "<"
		}
		first, _, _ := strings.Cut(m.Content, "\n")
		fmt.Fprintf(&b, "%s %s", prefix, first)
	}
	return b.String()
}
