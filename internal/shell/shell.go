package shell

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/example/foodshare/internal/conversation"
	"github.com/example/foodshare/internal/geolocation"
	"github.com/example/foodshare/internal/listing/domain"
	"github.com/example/foodshare/internal/listing/service"
)

type Mode string

const (
	ModeHotel  Mode = "hotel"
	ModeWorker Mode = "worker"
)

func ParseMode(s string) (Mode, error) {
	switch Mode(strings.ToLower(strings.TrimSpace(s))) {
	case ModeHotel:
		return ModeHotel, nil
	case ModeWorker:
		return ModeWorker, nil
	}
	return "", fmt.Errorf("%w: mode must be hotel or worker, got %q", ErrUsage, s)
}

func (m Mode) allows(k Kind) bool {
	switch k {
	case CmdPublish:
		return m == ModeHotel
	case CmdSearch, CmdBook:
		return m == ModeWorker
	}
	return true
}

// Shell is an interactive front end to the listing engine. Hotel and
// worker modes are separate conversations, each with its own history.
type Shell struct {
	svc      *service.Service
	locator  geolocation.Provider
	sessions *conversation.Sessions
	mode     Mode
	logger   *zap.Logger
}

func New(svc *service.Service, locator geolocation.Provider, sessions *conversation.Sessions, mode Mode, logger *zap.Logger) *Shell {
	if locator == nil {
		locator = geolocation.Unavailable{}
	}
	if sessions == nil {
		sessions = conversation.NewSessions(10)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Shell{svc: svc, locator: locator, sessions: sessions, mode: mode, logger: logger}
}

func (s *Shell) Mode() Mode { return s.mode }

func (s *Shell) history() *conversation.History { return s.sessions.Get(string(s.mode)) }

// Run reads commands from in until exit, EOF or cancellation.
func (s *Shell) Run(ctx context.Context, in io.Reader, out io.Writer) error {
	fmt.Fprint(out, banner(s.mode))
	scanner := bufio.NewScanner(in)
	for {
		fmt.Fprintf(out, "%s> ", s.mode)
		if !scanner.Scan() {
			fmt.Fprintln(out)
			return scanner.Err()
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		reply, exit := s.Exec(ctx, line)
		fmt.Fprintln(out, reply)
		if exit {
			return nil
		}
	}
}

// Exec runs a single line and returns the reply. exit reports whether the
// session should end. The exchange is recorded in the history of the mode
// the line was typed in.
func (s *Shell) Exec(ctx context.Context, line string) (reply string, exit bool) {
	history := s.history()
	reply, exit = s.exec(ctx, line)
	if exit {
		return reply, exit
	}
	if cmd, _ := Tokenize(line); len(cmd) > 0 && Kind(strings.ToLower(cmd[0])) == CmdHistory {
		return reply, exit
	}
	now := time.Now()
	history.Append(conversation.Message{Role: conversation.RoleUser, Content: line, At: now})
	history.Append(conversation.Message{Role: conversation.RoleAssistant, Content: reply, At: now})
	return reply, exit
}

func (s *Shell) exec(ctx context.Context, line string) (string, bool) {
	tokens, err := Tokenize(line)
	if err != nil {
		return renderError(err), false
	}
	cmd, err := Parse(tokens)
	if err != nil {
		return renderError(err), false
	}
	if !s.mode.allows(cmd.Kind) {
		return fmt.Sprintf("%s is not available in %s mode; switch with: mode %s", cmd.Kind, s.mode, otherMode(s.mode)), false
	}

	switch cmd.Kind {
	case CmdExit:
		s.sessions.End(string(s.mode))
		return fmt.Sprintf("Exiting %s mode. Goodbye!", s.mode), true
	case CmdHelp:
		return help(s.mode), false
	case CmdMode:
		s.mode = cmd.Mode
		return banner(s.mode), false
	case CmdHistory:
		return renderHistory(s.history().Messages()), false
	case CmdLocate:
		res := s.locator.CurrentLocation(ctx)
		if !res.OK() {
			return res.Message(), false
		}
		return "Current location: " + res.Point.String(), false
	case CmdPublish:
		return s.publish(ctx, cmd), false
	case CmdSearch:
		return s.search(ctx, cmd), false
	case CmdBook:
		return s.book(ctx, cmd), false
	case CmdInventory:
		inv, err := s.svc.Inventory(ctx)
		if err != nil {
			return renderError(err), false
		}
		return renderInventory(inv), false
	}
	return renderError(fmt.Errorf("%w: unhandled command %s", ErrUsage, cmd.Kind)), false
}

func (s *Shell) publish(ctx context.Context, cmd Command) string {
	if cmd.Location == nil {
		res := s.locator.CurrentLocation(ctx)
		if !res.OK() {
			return res.Message() + "; pass the location as lat,lon"
		}
		cmd.Location = &res.Point
	}
	resp, err := s.svc.Publish(ctx, "", service.PublishRequest{
		HotelName: cmd.HotelName,
		FoodName:  cmd.FoodName,
		Price:     cmd.Price,
		Quantity:  cmd.Quantity,
		Location:  cmd.Location.String(),
	})
	if err != nil {
		return renderError(err)
	}
	active := -1
	if inv, err := s.svc.Inventory(ctx); err == nil {
		active = inv.Active
	} else {
		s.logger.Warn("inventory after publish failed", zap.Error(err))
	}
	return renderPublished(resp, active)
}

func (s *Shell) search(ctx context.Context, cmd Command) string {
	filter := domain.Filter{MaxPrice: cmd.MaxPrice, FoodName: cmd.FoodName, MaxDistanceKM: cmd.MaxDistanceKM}
	if cmd.MaxDistanceKM != nil {
		if cmd.Location == nil {
			res := s.locator.CurrentLocation(ctx)
			if !res.OK() {
				return res.Message() + "; pass at=<lat,lon>"
			}
			cmd.Location = &res.Point
		}
		filter.Origin = cmd.Location
	}
	matches, err := s.svc.Search(ctx, filter)
	if err != nil {
		return renderError(err)
	}
	return renderMatches(filter, matches)
}

func (s *Shell) book(ctx context.Context, cmd Command) string {
	res, err := s.svc.Reserve(ctx, cmd.HotelName, cmd.FoodName)
	switch {
	case errors.Is(err, domain.ErrNotFound):
		return fmt.Sprintf("Sorry, '%s' from %s is not available. It may have been booked already.", cmd.FoodName, cmd.HotelName)
	case errors.Is(err, domain.ErrConflict):
		return fmt.Sprintf("'%s' from %s was booked by someone else at the same moment. Please try again.", cmd.FoodName, cmd.HotelName)
	case err != nil:
		return renderError(err)
	}
	return renderReservation(res)
}

func otherMode(m Mode) Mode {
	if m == ModeHotel {
		return ModeWorker
	}
	return ModeHotel
}
