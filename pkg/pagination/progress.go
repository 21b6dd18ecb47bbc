package pagination

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

// Progress receives retrieval progress. Alert blocks until the message has
// been acknowledged and is used only when a ceiling aborts a retrieval.
type Progress interface {
	SetLabel(label string)
	SetNumPages(n int)
	SetPage(page int)
	Show()
	Hide()
	Alert(ctx context.Context, msg string) error
}

// NopProgress discards all progress.
type NopProgress struct{}

func (NopProgress) SetLabel(string)                     {}
func (NopProgress) SetNumPages(int)                     {}
func (NopProgress) SetPage(int)                         {}
func (NopProgress) Show()                               {}
func (NopProgress) Hide()                               {}
func (NopProgress) Alert(context.Context, string) error { return nil }

// LogProgress reports progress as structured log lines. Page updates are
// sampled so long retrievals do not flood the log.
type LogProgress struct {
	logger zerolog.Logger

	mu       sync.Mutex
	label    string
	numPages int
	sample   *rate.Sometimes
}

// NewLogProgress creates a LogProgress writing to logger. Page updates are
// logged at most once per every interval (the first and last always are).
func NewLogProgress(logger zerolog.Logger, every time.Duration) *LogProgress {
	return &LogProgress{
		logger: logger,
		sample: &rate.Sometimes{First: 1, Interval: every},
	}
}

func (p *LogProgress) SetLabel(label string) {
	p.mu.Lock()
	p.label = label
	p.mu.Unlock()
}

func (p *LogProgress) SetNumPages(n int) {
	p.mu.Lock()
	p.numPages = n
	label := p.label
	p.mu.Unlock()

	if n > 0 {
		p.logger.Info().Str("label", label).Int("num_pages", n).Msg("Retrieving pages")
	}
}

func (p *LogProgress) SetPage(page int) {
	p.mu.Lock()
	label, numPages, sample := p.label, p.numPages, p.sample
	p.mu.Unlock()

	if page == 0 {
		return
	}
	if page == numPages {
		p.logger.Info().Str("label", label).Int("page", page).Int("num_pages", numPages).Msg("Fetching last page")
		return
	}
	sample.Do(func() {
		p.logger.Info().Str("label", label).Int("page", page).Int("num_pages", numPages).Msg("Fetching page")
	})
}

func (p *LogProgress) Show() {
	p.mu.Lock()
	label := p.label
	p.sample = &rate.Sometimes{First: 1, Interval: p.sample.Interval}
	p.mu.Unlock()

	p.logger.Info().Str("label", label).Msg("Retrieval started")
}

func (p *LogProgress) Hide() {
	p.mu.Lock()
	label := p.label
	p.mu.Unlock()

	p.logger.Debug().Str("label", label).Msg("Retrieval finished")
}

// Alert logs msg as a warning. There is nobody to acknowledge it, so it
// returns immediately.
func (p *LogProgress) Alert(_ context.Context, msg string) error {
	p.mu.Lock()
	label := p.label
	p.mu.Unlock()

	p.logger.Warn().Str("label", label).Msg(msg)
	return nil
}
