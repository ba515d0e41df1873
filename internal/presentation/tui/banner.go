package tui

import (
	"fmt"
	"io"

	"github.com/muesli/termenv"
)

// PrintBanner writes the scenesync banner to w.
func PrintBanner(w io.Writer, opts ...termenv.OutputOption) {
	out := termenv.NewOutput(w, opts...)
	lines := []struct {
		text, color string
	}{
		{"  ___  ___ ___ _ __   ___  ___ _   _ _ __   ___", "#818cf8"},
		{" / __|/ __/ _ \\ '_ \\ / _ \\/ __| | | | '_ \\ / __|", "#a78bfa"},
		{" \\__ \\ (_|  __/ | | |  __/\\__ \\ |_| | | | | (__", "#c084fc"},
		{" |___/\\___\\___|_| |_|\\___||___/\\__, |_| |_|\\___|", "#e879f9"},
		{"                                |___/", "#f472b6"},
	}

	fmt.Fprintln(w)
	for _, l := range lines {
		fmt.Fprintln(w, out.String(l.text).Foreground(out.Color(l.color)))
	}
	fmt.Fprintln(w)
}
