// Package filter decides what happens to each chunk of output from the game server:
// whether it is echoed to the console, written to the raw log, or dropped.
package filter

import (
	"fmt"
	"io"
	"strings"
)

// Sink receives text destined for the raw console log.
type Sink interface {
	Raw(text string)
}

// Filter is not goroutine-safe. It is owned by a single control loop.
type Filter struct {
	rules   Rules
	console io.Writer
	sink    Sink

	// quiet stops echoing raw output once RCON mirrors the informative output.
	quiet bool
	// seenProgress lives as long as the Filter, which is one server run.
	seenProgress map[string]struct{}
}

func New(rules Rules, console io.Writer, sink Sink) *Filter {
	return &Filter{
		rules:        rules,
		console:      console,
		sink:         sink,
		seenProgress: map[string]struct{}{},
	}
}

// Process handles one chunk of output text.
func (f *Filter) Process(text string) {
	for _, s := range f.rules.Suppress {
		if s != "" && strings.Contains(text, s) {
			f.sink.Raw(text)
			return
		}
	}

	if f.rules.ProgressPrefix != "" && strings.HasPrefix(text, f.rules.ProgressPrefix) {
		key := trimEOL(strings.TrimPrefix(text, f.rules.ProgressPrefix))
		if _, ok := f.seenProgress[key]; ok {
			return
		}
		f.seenProgress[key] = struct{}{}
	}

	if f.rules.StartupMarker != "" && strings.HasPrefix(text, f.rules.StartupMarker) {
		f.quiet = true
		// Always shown: panel log viewers sometimes miss this line.
		f.echo(text)
	}

	if !f.quiet {
		f.echo(text)
	}
	f.sink.Raw(text)
}

// SetQuiet stops console echo of raw output.
func (f *Filter) SetQuiet() {
	f.quiet = true
}

func (f *Filter) Quiet() bool {
	return f.quiet
}

func (f *Filter) echo(text string) {
	fmt.Fprintln(f.console, trimEOL(text))
}

func trimEOL(s string) string {
	return strings.TrimRight(s, "\r\n")
}
