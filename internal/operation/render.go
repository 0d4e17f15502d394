package operation

import (
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/lipgloss"
)

var renderColors = struct {
	Name    lipgloss.Color
	Muted   lipgloss.Color
	Failure lipgloss.Color
	Pending lipgloss.Color
}{
	Name:    lipgloss.Color("#DFE6E9"),
	Muted:   lipgloss.Color("#636E72"),
	Failure: lipgloss.Color("#D63031"),
	Pending: lipgloss.Color("#FDCB6E"),
}

type renderStyles struct {
	Name    lipgloss.Style
	Muted   lipgloss.Style
	Failure lipgloss.Style
	Pending lipgloss.Style
}

// newRenderStyles binds the styles to r, so that colors are only emitted when
// the destination is a terminal.
func newRenderStyles(r *lipgloss.Renderer) renderStyles {
	return renderStyles{
		Name:    r.NewStyle().Foreground(renderColors.Name).Bold(true),
		Muted:   r.NewStyle().Foreground(renderColors.Muted),
		Failure: r.NewStyle().Foreground(renderColors.Failure),
		Pending: r.NewStyle().Foreground(renderColors.Pending),
	}
}

// RenderOptions controls Render.
type RenderOptions struct {
	// Details includes the details and result documents of each operation.
	Details bool
}

// Render writes the trace as an indented tree, one operation per line, in
// start order.
func Render(w io.Writer, t *Trace, opts RenderOptions) error {
	styles := newRenderStyles(lipgloss.NewRenderer(w))
	depth := make(map[ID]int, t.Len())
	for _, op := range t.ops {
		d := 0
		if parent, ok := depth[op.ParentID]; ok && op.ParentID != "" {
			d = parent + 1
		}
		depth[op.ID] = d
		if _, err := io.WriteString(w, renderLine(styles, op, d, opts)); err != nil {
			return err
		}
	}
	return nil
}

func renderLine(styles renderStyles, op CompleteOperation, depth int, opts RenderOptions) string {
	indent := strings.Repeat("  ", depth)
	var b strings.Builder
	b.WriteString(indent)
	name := op.DisplayName
	if name == "" {
		name = op.Name
	}
	b.WriteString(styles.Name.Render(name))

	switch {
	case !op.Finished:
		b.WriteString(" " + styles.Pending.Render("(pending)"))
	default:
		b.WriteString(" " + styles.Muted.Render(fmt.Sprintf("%dms", op.Duration())))
	}
	if op.Failure != nil {
		b.WriteString(" " + styles.Failure.Render("FAILED: "+op.Failure.Error()))
	}
	b.WriteByte('\n')

	if opts.Details {
		if op.DetailsType != "" {
			b.WriteString(indent + "  " + styles.Muted.Render("details: "+op.Details.String()) + "\n")
		}
		if op.ResultType != "" {
			b.WriteString(indent + "  " + styles.Muted.Render("result: "+op.Result.String()) + "\n")
		}
	}
	for _, pe := range op.PayloadErrors {
		b.WriteString(indent + "  " + styles.Failure.Render(pe.Error()) + "\n")
	}
	return b.String()
}
