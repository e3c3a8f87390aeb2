package cmd

import (
	"fmt"
	"io"

	"github.com/cloudchase/ollama-organizer/organizer"
)

// progressPrinter renders batch events as one line per finished version.
// On a terminal the running "[n/total]" counter is redrawn in place.
type progressPrinter struct {
	w       io.Writer
	tty     bool
	pending bool
}

func newProgressPrinter(w io.Writer) *progressPrinter {
	return &progressPrinter{w: w, tty: isTerminal(w)}
}

// drain renders events until the channel is closed.
func (p *progressPrinter) drain(events <-chan organizer.Event) {
	for e := range events {
		p.render(e)
	}
	p.clear()
}

func (p *progressPrinter) render(e organizer.Event) {
	switch e.Kind {
	case organizer.EventProgress:
		if p.tty {
			fmt.Fprintf(p.w, "\r\033[K[%d/%d]", e.Finished, e.Total)
			p.pending = true
		}
	case organizer.EventSkipped:
		p.line("skipped    %s (already backed up)", e.Task)
	case organizer.EventDone:
		p.line("done       %s (%d blobs)", e.Task, e.Blobs)
	case organizer.EventFailed:
		p.line("failed     %v", e.Err)
	case organizer.EventCancelled:
		p.line("cancelled  %s", e.Task)
	case organizer.EventDeleted:
		p.line("deleted    %s", e.Task)
	case organizer.EventNotFound:
		p.line("not found  %s", e.Task)
	}
}

func (p *progressPrinter) line(format string, args ...any) {
	p.clear()
	fmt.Fprintf(p.w, format+"\n", args...)
}

func (p *progressPrinter) clear() {
	if p.pending {
		fmt.Fprint(p.w, "\r\033[K")
		p.pending = false
	}
}
