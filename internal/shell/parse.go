package shell

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/example/foodshare/internal/listing/domain"
	"github.com/example/foodshare/internal/listing/geo"
)

var ErrUsage = errors.New("usage")

// Tokenize splits a line on whitespace. Single or double quotes group
// words; a backslash inside double quotes escapes the next rune.
func Tokenize(line string) ([]string, error) {
	var (
		tokens  []string
		current strings.Builder
		quote   rune
		inToken bool
		escaped bool
	)
	for _, r := range line {
		switch {
		case escaped:
			current.WriteRune(r)
			escaped = false
		case quote != 0:
			switch {
			case r == quote:
				quote = 0
			case r == '\\' && quote == '"':
				escaped = true
			default:
				current.WriteRune(r)
			}
		case r == '"' || r == '\'':
			quote = r
			inToken = true
		case r == ' ' || r == '\t':
			if inToken {
				tokens = append(tokens, current.String())
				current.Reset()
				inToken = false
			}
		default:
			current.WriteRune(r)
			inToken = true
		}
	}
	if quote != 0 || escaped {
		return nil, fmt.Errorf("%w: unterminated quote", ErrUsage)
	}
	if inToken {
		tokens = append(tokens, current.String())
	}
	return tokens, nil
}

type Kind string

const (
	CmdPublish   Kind = "publish"
	CmdSearch    Kind = "search"
	CmdBook      Kind = "book"
	CmdInventory Kind = "inventory"
	CmdLocate    Kind = "locate"
	CmdHistory   Kind = "history"
	CmdMode      Kind = "mode"
	CmdHelp      Kind = "help"
	CmdExit      Kind = "exit"
)

// Command is a parsed shell line.
type Command struct {
	Kind Kind

	HotelName string
	FoodName  string
	Price     float64
	Quantity  int
	// Location is nil when the caller wants the current position.
	Location *domain.GeoPoint

	MaxPrice      float64
	MaxDistanceKM *float64

	Mode Mode
}

// Parse turns tokens into a Command.
func Parse(tokens []string) (Command, error) {
	if len(tokens) == 0 {
		return Command{}, fmt.Errorf("%w: empty command", ErrUsage)
	}
	name, args := strings.ToLower(tokens[0]), tokens[1:]
	switch Kind(name) {
	case CmdPublish:
		return parsePublish(args)
	case CmdSearch:
		return parseSearch(args)
	case CmdBook:
		if len(args) != 2 {
			return Command{}, fmt.Errorf("%w: book <hotel> <food>", ErrUsage)
		}
		return Command{Kind: CmdBook, HotelName: args[0], FoodName: args[1]}, nil
	case CmdMode:
		if len(args) != 1 {
			return Command{}, fmt.Errorf("%w: mode hotel|worker", ErrUsage)
		}
		m, err := ParseMode(args[0])
		if err != nil {
			return Command{}, err
		}
		return Command{Kind: CmdMode, Mode: m}, nil
	case CmdInventory, CmdLocate, CmdHistory, CmdHelp, CmdExit:
		if len(args) != 0 {
			return Command{}, fmt.Errorf("%w: %s takes no arguments", ErrUsage, name)
		}
		return Command{Kind: Kind(name)}, nil
	case "quit":
		return Command{Kind: CmdExit}, nil
	default:
		return Command{}, fmt.Errorf("%w: unknown command %q, try help", ErrUsage, name)
	}
}

func parsePublish(args []string) (Command, error) {
	if len(args) != 4 && len(args) != 5 {
		return Command{}, fmt.Errorf("%w: publish <hotel> <food> <price> <qty> [lat,lon]", ErrUsage)
	}
	price, err := strconv.ParseFloat(args[2], 64)
	if err != nil {
		return Command{}, fmt.Errorf("%w: price %q is not a number", domain.ErrInvalidArgument, args[2])
	}
	qty, err := strconv.Atoi(args[3])
	if err != nil {
		return Command{}, fmt.Errorf("%w: quantity %q is not a whole number", domain.ErrInvalidArgument, args[3])
	}
	cmd := Command{Kind: CmdPublish, HotelName: args[0], FoodName: args[1], Price: price, Quantity: qty}
	if len(args) == 5 {
		p, err := geo.ParseCoordinate(args[4])
		if err != nil {
			return Command{}, err
		}
		cmd.Location = &p
	}
	return cmd, nil
}

func parseSearch(args []string) (Command, error) {
	if len(args) == 0 {
		return Command{}, fmt.Errorf("%w: search <max_price> [food=<name>] [within=<km>] [at=<lat,lon>]", ErrUsage)
	}
	price, err := strconv.ParseFloat(args[0], 64)
	if err != nil {
		return Command{}, fmt.Errorf("%w: max price %q is not a number", domain.ErrInvalidArgument, args[0])
	}
	cmd := Command{Kind: CmdSearch, MaxPrice: price}
	for _, arg := range args[1:] {
		key, value, ok := strings.Cut(arg, "=")
		if !ok {
			return Command{}, fmt.Errorf("%w: expected key=value, got %q", ErrUsage, arg)
		}
		switch strings.ToLower(key) {
		case "food":
			cmd.FoodName = value
		case "within":
			km, err := strconv.ParseFloat(value, 64)
			if err != nil {
				return Command{}, fmt.Errorf("%w: within %q is not a number", domain.ErrInvalidArgument, value)
			}
			cmd.MaxDistanceKM = &km
		case "at":
			p, err := geo.ParseCoordinate(value)
			if err != nil {
				return Command{}, err
			}
			cmd.Location = &p
		default:
			return Command{}, fmt.Errorf("%w: unknown search option %q", ErrUsage, key)
		}
	}
	return cmd, nil
}
