package console

import (
	"fmt"
	"io"
	"strings"

	"github.com/muesli/termenv"

	"github.com/rocketscienceinc/renju-client/internal/entity"
)

// Snapshot is what the renderer needs from a session for one frame.
type Snapshot struct {
	Board      entity.Board
	Status     entity.GameStatus
	Connection entity.ConnectionState
	Offline    bool
	Messages   []string
}

type palette struct {
	one, two, empty, accent string
}

var (
	darkPalette  = palette{one: "#FF5F5F", two: "#5FAFFF", empty: "#585858", accent: "#FFD75F"}
	lightPalette = palette{one: "#AF0000", two: "#005FAF", empty: "#A8A8A8", accent: "#875F00"}
)

// Renderer draws snapshots as text, coloured when the output supports it.
type Renderer struct {
	output  *termenv.Output
	palette palette
}

func NewRenderer(w io.Writer, dark bool, opts ...termenv.OutputOption) *Renderer {
	colours := lightPalette
	if dark {
		colours = darkPalette
	}

	return &Renderer{
		output:  termenv.NewOutput(w, opts...),
		palette: colours,
	}
}

// Clear wipes the terminal before a new frame.
func (that *Renderer) Clear() {
	that.output.ClearScreen()
	that.output.MoveCursor(1, 1)
}

// Render writes the board followed by the status lines and messages.
func (that *Renderer) Render(snapshot Snapshot) error {
	var b strings.Builder

	b.WriteString("   ")
	for col := 0; col < entity.BoardSize; col++ {
		fmt.Fprintf(&b, "%3d", col)
	}
	b.WriteByte('\n')

	for row := 0; row < entity.BoardSize; row++ {
		fmt.Fprintf(&b, "%3d", row)
		for col := 0; col < entity.BoardSize; col++ {
			b.WriteString("  ")
			b.WriteString(that.cell(snapshot.Board[entity.Index(row, col)]))
		}
		b.WriteByte('\n')
	}

	b.WriteByte('\n')
	fmt.Fprintf(&b, "status:     %s\n", that.output.String(snapshot.Status.String()).Bold())
	fmt.Fprintf(&b, "connection: %s\n", that.connection(snapshot))

	for _, message := range snapshot.Messages {
		fmt.Fprintf(&b, "%s %s\n", that.output.String(">").Foreground(that.output.Color(that.palette.accent)), message)
	}

	if _, err := io.WriteString(that.output, b.String()); err != nil {
		return fmt.Errorf("failed to render frame: %w", err)
	}

	return nil
}

func (that *Renderer) cell(cell entity.Cell) string {
	switch cell {
	case entity.PlayerOne:
		return that.output.String("X").Foreground(that.output.Color(that.palette.one)).Bold().String()
	case entity.PlayerTwo:
		return that.output.String("O").Foreground(that.output.Color(that.palette.two)).Bold().String()
	default:
		return that.output.String(".").Foreground(that.output.Color(that.palette.empty)).String()
	}
}

func (that *Renderer) connection(snapshot Snapshot) string {
	if snapshot.Offline {
		return "offline"
	}

	text := snapshot.Connection.String()
	if snapshot.Connection.Kind == entity.ConnectionFailed {
		return that.output.String(text).Foreground(that.output.Color(that.palette.one)).String()
	}

	return text
}
