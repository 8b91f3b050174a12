package console

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/rocketscienceinc/renju-client/internal/entity"
)

var (
	ErrEmptyCommand     = errors.New("empty command")
	ErrUnknownCommand   = errors.New("unknown command")
	ErrInvalidArguments = errors.New("invalid arguments")
)

const Help = `commands:
  move <index>           place a mark on cell 0..224
  move <row> <col>       place a mark by coordinates, both 0..14
  reset                  start a new game
  connect <addr> <name>  connect to tcp://, ws:// or redis:// address
  quit                   leave`

type CommandKind uint8

const (
	CommandMove CommandKind = iota + 1
	CommandReset
	CommandConnect
	CommandQuit
)

// Command is one parsed line of user input.
type Command struct {
	Kind     CommandKind
	Index    int
	Address  string
	Username string
}

// ParseCommand turns a line like "move 7 7" into a Command.
func ParseCommand(line string) (Command, error) {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return Command{}, ErrEmptyCommand
	}

	name, args := strings.ToLower(fields[0]), fields[1:]

	switch name {
	case "move", "m":
		return parseMove(args)
	case "reset":
		if len(args) != 0 {
			return Command{}, fmt.Errorf("%w: reset takes no arguments", ErrInvalidArguments)
		}
		return Command{Kind: CommandReset}, nil
	case "connect":
		if len(args) != 2 {
			return Command{}, fmt.Errorf("%w: usage connect <address> <username>", ErrInvalidArguments)
		}
		return Command{Kind: CommandConnect, Address: args[0], Username: args[1]}, nil
	case "quit", "exit", "q":
		return Command{Kind: CommandQuit}, nil
	default:
		return Command{}, fmt.Errorf("%w: %q", ErrUnknownCommand, name)
	}
}

func parseMove(args []string) (Command, error) {
	numbers := make([]int, 0, len(args))
	for _, arg := range args {
		n, err := strconv.Atoi(arg)
		if err != nil {
			return Command{}, fmt.Errorf("%w: %q is not a number", ErrInvalidArguments, arg)
		}
		numbers = append(numbers, n)
	}

	switch len(numbers) {
	case 1:
		return Command{Kind: CommandMove, Index: numbers[0]}, nil
	case 2:
		index := entity.Index(numbers[0], numbers[1])
		if index < 0 {
			return Command{}, fmt.Errorf("%w: row and column must be within 0..%d", ErrInvalidArguments, entity.BoardSize-1)
		}
		return Command{Kind: CommandMove, Index: index}, nil
	default:
		return Command{}, fmt.Errorf("%w: usage move <index> or move <row> <col>", ErrInvalidArguments)
	}
}
