package shell

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/example/foodshare/internal/conversation"
	"github.com/example/foodshare/internal/geolocation"
	"github.com/example/foodshare/internal/listing/domain"
	"github.com/example/foodshare/internal/listing/repository"
	"github.com/example/foodshare/internal/listing/service"
)

func newShell(t *testing.T, locator geolocation.Provider, mode Mode) *Shell {
	t.Helper()
	svc := service.New(repository.NewMemoryRepository(), nil, nil, nil, nil)
	return New(svc, locator, conversation.NewSessions(4), mode, nil)
}

var here = geolocation.StaticProvider{Point: domain.GeoPoint{Lat: 12.97, Lng: 77.59}}

func TestHotelThenWorkerSession(t *testing.T) {
	sh := newShell(t, here, ModeHotel)
	ctx := context.Background()

	reply, _ := sh.Exec(ctx, `publish "Taj Palace" Biryani 120 2 12.90,77.59`)
	require.Contains(t, reply, "Stored 'Biryani' from Taj Palace")
	require.Contains(t, reply, "Total active items: 1")

	reply, _ = sh.Exec(ctx, `publish Oberoi "Veg Biryani" 80 1`)
	require.Contains(t, reply, "location 12.97,77.59", "missing location falls back to the provider")

	reply, _ = sh.Exec(ctx, "search 100")
	require.Contains(t, reply, "not available in hotel mode")

	sh.Exec(ctx, "mode worker")
	require.Equal(t, ModeWorker, sh.Mode())

	reply, _ = sh.Exec(ctx, "search 200 food=biryani")
	require.Contains(t, reply, "Found 2 biryani option(s) under $200")
	require.True(t, strings.HasSuffix(reply, "Best deal: 'Veg Biryani' from Oberoi at $80"), reply)

	reply, _ = sh.Exec(ctx, "search 200 within=1")
	require.Contains(t, reply, "Found 1 option(s) within 1.00 km")
	require.Contains(t, reply, "Nearest option: 'Veg Biryani' from Oberoi at 0.00 km for $80")

	reply, _ = sh.Exec(ctx, "search 200 within=10 at=12.90,77.59")
	require.Contains(t, reply, "Nearest option: 'Biryani' from Taj Palace at 0.00 km for $120")

	reply, _ = sh.Exec(ctx, `book "taj palace" BIRYANI`)
	require.Contains(t, reply, "Remaining quantity: 1")
	reply, _ = sh.Exec(ctx, `book "Taj Palace" Biryani`)
	require.Contains(t, reply, "This was the last item available!")
	reply, _ = sh.Exec(ctx, `book "Taj Palace" Biryani`)
	require.Equal(t, "Sorry, 'Biryani' from Taj Palace is not available. It may have been booked already.", reply)

	reply, _ = sh.Exec(ctx, "inventory")
	require.Contains(t, reply, "CURRENT INVENTORY (1 active of 2)")
	require.Contains(t, reply, "Status: sold_out")
	require.Contains(t, reply, "Last Booked:")

	reply, _ = sh.Exec(ctx, "search 10")
	require.Equal(t, "No food found under $10. Try adjusting your search criteria.", reply)
}

func TestLocationFailures(t *testing.T) {
	sh := newShell(t, nil, ModeWorker)
	ctx := context.Background()

	reply, _ := sh.Exec(ctx, "locate")
	require.True(t, strings.HasPrefix(reply, "error - "), reply)

	reply, _ = sh.Exec(ctx, "search 50 within=3")
	require.Contains(t, reply, "pass at=<lat,lon>")

	reply, _ = sh.Exec(ctx, "search 50 within=3 at=1,1")
	require.Contains(t, reply, "No food found under $50 within 3.00 km")

	sh.Exec(ctx, "mode hotel")
	reply, _ = sh.Exec(ctx, "publish Taj Idli 30 2")
	require.Contains(t, reply, "pass the location as lat,lon")
}

type lostFix struct{}

func (lostFix) CurrentLocation(context.Context) geolocation.Result {
	return geolocation.Failure(geolocation.ReasonNotFound)
}

func TestLocateReportsNotFound(t *testing.T) {
	sh := newShell(t, lostFix{}, ModeWorker)
	reply, _ := sh.Exec(context.Background(), "locate")
	require.Equal(t, "error - coordinates not found", reply)
}

func TestValidationErrorsAreReported(t *testing.T) {
	sh := newShell(t, here, ModeHotel)
	ctx := context.Background()

	reply, _ := sh.Exec(ctx, "publish Taj Idli 30 0 1,1")
	require.True(t, strings.HasPrefix(reply, "error: "), reply)
	reply, _ = sh.Exec(ctx, "publish Taj Idli 30 1 95,1")
	require.Contains(t, reply, "error: ")
	reply, _ = sh.Exec(ctx, `publish "Taj`)
	require.Contains(t, reply, "unterminated quote")
}

func TestHistoryIsBounded(t *testing.T) {
	sh := newShell(t, here, ModeWorker)
	ctx := context.Background()
	for _, line := range []string{"help", "locate", "search 5"} {
		sh.Exec(ctx, line)
	}
	reply, _ := sh.Exec(ctx, "history")
	lines := strings.Split(reply, "\n")
	require.Len(t, lines, 4)
	require.Equal(t, "> locate", lines[0])
	require.Equal(t, "> search 5", lines[2])

	sh.Exec(ctx, "mode hotel")
	reply, _ = sh.Exec(ctx, "history")
	require.Equal(t, "No history yet", reply, "each mode keeps its own conversation")
}

func TestRunScript(t *testing.T) {
	sh := newShell(t, here, ModeHotel)
	in := strings.NewReader("publish Taj Idli 30 2 1,1\n\nmode worker\nbook Taj Idli\nexit\nbook Taj Idli\n")
	var out bytes.Buffer

	require.NoError(t, sh.Run(context.Background(), in, &out))
	text := out.String()
	require.Contains(t, text, "HOTEL MODE")
	require.Contains(t, text, "WORKER MODE")
	require.Contains(t, text, "Remaining quantity: 1")
	require.Contains(t, text, "Exiting worker mode. Goodbye!")
	require.Equal(t, 1, strings.Count(text, "Booked 'Idli'"), "input after exit is ignored")
}

func TestRunStopsAtEOF(t *testing.T) {
	sh := newShell(t, here, ModeWorker)
	var out bytes.Buffer
	require.NoError(t, sh.Run(context.Background(), strings.NewReader("locate"), &out))
	require.Contains(t, out.String(), "Current location: 12.97,77.59")
}
