package tui

import (
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"github.com/aretw0/scenesync/pkg/domain"
	"github.com/muesli/termenv"
	"golang.org/x/term"
)

// TreePrinter renders entity snapshots as an indented tree.
type TreePrinter struct {
	w     io.Writer
	out   *termenv.Output
	width int
	// ShowFields lists field values under each entity.
	ShowFields bool
}

// NewTreePrinter writes to w. Colors follow the terminal profile. Uncolored
// lines are clipped to the terminal width when w is a terminal.
func NewTreePrinter(w io.Writer, opts ...termenv.OutputOption) *TreePrinter {
	p := &TreePrinter{w: w, out: termenv.NewOutput(w, opts...)}
	if f, ok := w.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		if width, _, err := term.GetSize(int(f.Fd())); err == nil {
			p.width = width
		}
	}
	return p
}

// Print writes snap and its descendants.
func (p *TreePrinter) Print(snap domain.EntitySnapshot) {
	p.line(p.label(snap))
	p.fields(snap, "")
	p.children(snap.Children, "")
}

func (p *TreePrinter) children(children []domain.EntitySnapshot, prefix string) {
	for i, c := range children {
		branch, indent := "├── ", "│   "
		if i == len(children)-1 {
			branch, indent = "└── ", "    "
		}
		p.line(p.out.String(prefix+branch).Faint().String() + p.label(c))
		p.fields(c, prefix+indent)
		p.children(c.Children, prefix+indent)
	}
}

func (p *TreePrinter) label(snap domain.EntitySnapshot) string {
	var color string
	switch snap.Type {
	case domain.TypeFolder:
		color = "#818cf8"
	case domain.TypeGeometry:
		color = "#34d399"
	default:
		color = "#fbbf24"
	}
	label := p.out.String(snap.ID).Foreground(p.out.Color(color)).Bold().String()
	if name, ok := snap.Fields[domain.FieldName].(string); ok && name != "" {
		label += " " + p.out.String(fmt.Sprintf("%q", name)).String()
	}
	return label + p.out.String(fmt.Sprintf(" (%s r%d)", snap.Type, snap.Rev)).Faint().String()
}

func (p *TreePrinter) fields(snap domain.EntitySnapshot, prefix string) {
	if !p.ShowFields {
		return
	}
	keys := make([]string, 0, len(snap.Fields))
	for k := range snap.Fields {
		if k != domain.FieldName {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	for _, k := range keys {
		p.line(p.out.String(fmt.Sprintf("%s  · %s = %v", prefix, k, snap.Fields[k])).Faint().String())
	}
	if snap.CustomProperties != "" {
		p.line(p.out.String(fmt.Sprintf("%s  · custom = %s", prefix, snap.CustomProperties)).Faint().String())
	}
}

func (p *TreePrinter) line(s string) {
	if p.width > 0 && p.out.Profile == termenv.Ascii {
		if r := []rune(s); len(r) > p.width {
			s = string(r[:p.width-1]) + "…"
		}
	}
	fmt.Fprintln(p.w, strings.TrimRight(s, " "))
}
