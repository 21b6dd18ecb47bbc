package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/jedib0t/go-pretty/v6/progress"
)

// barProgress renders a retrieval as a go-pretty progress bar counting
// fetched pages.
type barProgress struct {
	out io.Writer

	// in supplies alert acknowledgements. nil means alerts are not awaited.
	in io.Reader

	// One goroutine owns in. Each line is handed to the Alert that is
	// waiting, or to the next one if the waiting Alert gave up.
	readOnce sync.Once
	lines    chan error

	mu       sync.Mutex
	label    string
	tracker  *progress.Tracker
	rendered chan struct{}
}

func newBarProgress(out io.Writer, in io.Reader) *barProgress {
	return &barProgress{out: out, in: in}
}

func (p *barProgress) SetLabel(label string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.label = label
}

func (p *barProgress) SetNumPages(n int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.tracker != nil && n > 0 {
		p.tracker.UpdateTotal(int64(n))
		p.tracker.SetValue(1)
	}
}

// SetPage is called before page is fetched, so page-1 pages are done.
func (p *barProgress) SetPage(page int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.tracker != nil && page > 0 {
		p.tracker.SetValue(int64(page - 1))
	}
}

func (p *barProgress) Show() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.tracker != nil {
		return
	}

	pw := progress.NewWriter()
	pw.SetOutputWriter(p.out)
	pw.SetAutoStop(true)
	pw.SetTrackerLength(30)
	pw.SetUpdateFrequency(100 * time.Millisecond)
	pw.SetStyle(progress.StyleDefault)

	p.tracker = &progress.Tracker{Message: p.label, Units: progress.UnitsDefault}
	pw.AppendTracker(p.tracker)

	p.rendered = make(chan struct{})
	go func(done chan struct{}) {
		pw.Render()
		close(done)
	}(p.rendered)
}

func (p *barProgress) Hide() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.finish(false)
}

// finish marks the tracker and waits for the renderer to exit. Callers hold mu.
func (p *barProgress) finish(errored bool) {
	if p.tracker == nil {
		return
	}
	if errored {
		p.tracker.MarkAsErrored()
	} else {
		p.tracker.MarkAsDone()
	}
	<-p.rendered
	p.tracker = nil
}

// Alert stops the bar, prints msg and, when attached to a terminal, waits
// for Enter.
func (p *barProgress) Alert(ctx context.Context, msg string) error {
	p.mu.Lock()
	p.finish(true)
	p.mu.Unlock()

	fmt.Fprintf(p.out, "\n%s\n", msg)
	if p.in == nil {
		return nil
	}

	fmt.Fprint(p.out, "Press Enter to continue.")
	p.readOnce.Do(p.startReader)

	select {
	case err, ok := <-p.lines:
		if !ok || err == nil || err == io.EOF {
			return nil
		}
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// startReader reads acknowledgement lines until in fails. The channel is
// closed after the final error so later alerts do not block.
func (p *barProgress) startReader() {
	p.lines = make(chan error)
	go func() {
		defer close(p.lines)
		r := bufio.NewReader(p.in)
		for {
			_, err := r.ReadString('\n')
			p.lines <- err
			if err != nil {
				return
			}
		}
	}()
}
