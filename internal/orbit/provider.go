// Package orbit resolves ephemeris sources for bounded time windows and
// answers satellite position queries against them. Ephemeris files are
// fetched per UTC day into a caller-specified or ephemeral workspace and
// reused on later runs; their format (named TLE groups) is opaque to every
// other package.
package orbit

import (
	"context"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/jonboulle/clockwork"
)

const (
	datePlaceholder = "{date}"
	fileNameFormat  = "eph_%s.tle"

	initialBackoff = 500 * time.Millisecond
	maxBackoff     = 8 * time.Second
)

// Window is a half-open [Start, End) time span.
type Window struct {
	Start time.Time
	End   time.Time
}

// Contains reports whether t falls inside the window.
func (w Window) Contains(t time.Time) bool {
	return !t.Before(w.Start) && t.Before(w.End)
}

// Covers reports whether the window fully contains other.
func (w Window) Covers(other Window) bool {
	return !other.Start.Before(w.Start) && !other.End.After(w.End)
}

// days returns the UTC days the window touches.
func (w Window) days() []time.Time {
	var days []time.Time
	d := w.Start.UTC().Truncate(24 * time.Hour)
	for d.Before(w.End) {
		days = append(days, d)
		d = d.Add(24 * time.Hour)
	}
	if len(days) == 0 {
		days = append(days, d)
	}
	return days
}

// Provider downloads and caches daily ephemeris files and turns them into
// queryable Sources. Download failures are retried with exponential backoff
// before being surfaced as a DownloadError for the affected window.
type Provider struct {
	urlTemplate string // contains {date}, substituted as YYYYMMDD
	maxRetries  int
	client      *http.Client
	clock       clockwork.Clock
	log         *log.Logger
}

// NewProvider returns a provider fetching from urlTemplate, retrying each
// file at most maxRetries times.
func NewProvider(urlTemplate string, maxRetries int, logger *log.Logger) *Provider {
	if maxRetries < 1 {
		maxRetries = 1
	}
	return &Provider{
		urlTemplate: urlTemplate,
		maxRetries:  maxRetries,
		client:      &http.Client{Timeout: 30 * time.Second},
		clock:       clockwork.NewRealClock(),
		log:         logger,
	}
}

// SetClock swaps the time source used for retry backoff. Tests inject a
// fake clock; passing nil resets to real time.
func (p *Provider) SetClock(c clockwork.Clock) {
	if c == nil {
		c = clockwork.NewRealClock()
	}
	p.clock = c
}

// Resolve ensures ephemeris files covering the window exist under dir,
// downloading any that are missing, and returns a Source spanning the
// window's UTC days. Files already present are reused as-is.
func (p *Provider) Resolve(ctx context.Context, w Window, dir string) (*Source, error) {
	days := w.days()

	var paths []string
	for _, day := range days {
		path := filepath.Join(dir, fmt.Sprintf(fileNameFormat, day.Format("20060102")))
		if info, err := os.Stat(path); err == nil && info.Size() > 0 {
			paths = append(paths, path)
			continue
		}

		if err := p.download(ctx, day, path); err != nil {
			return nil, err
		}
		paths = append(paths, path)
	}

	coverage := Window{
		Start: days[0],
		End:   days[len(days)-1].Add(24 * time.Hour),
	}
	return newSource(paths, coverage)
}

// download fetches one day's ephemeris file with bounded retries.
func (p *Provider) download(ctx context.Context, day time.Time, dest string) error {
	url := strings.ReplaceAll(p.urlTemplate, datePlaceholder, day.Format("20060102"))

	backoff := initialBackoff
	var lastErr error
	for attempt := 1; attempt <= p.maxRetries; attempt++ {
		lastErr = p.fetch(ctx, url, dest)
		if lastErr == nil {
			p.log.Printf("orbit: downloaded %s", filepath.Base(dest))
			return nil
		}
		if ctx.Err() != nil {
			break
		}

		p.log.Printf("orbit: fetch %s attempt %d/%d failed: %v", url, attempt, p.maxRetries, lastErr)
		if attempt < p.maxRetries {
			if !p.sleep(ctx, backoff) {
				break
			}
			backoff *= 2
			if backoff > maxBackoff {
				backoff = maxBackoff
			}
		}
	}

	return &DownloadError{URL: url, Attempts: p.maxRetries, Err: lastErr}
}

// fetch performs a single HTTP GET, writing the body to dest via a temp
// file and rename so other readers never see a half-written file.
func (p *Provider) fetch(ctx context.Context, url, dest string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("HTTP %d", resp.StatusCode)
	}

	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(dest), "eph-*.tmp")
	if err != nil {
		return err
	}
	if _, err := io.Copy(tmp, resp.Body); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	return os.Rename(tmp.Name(), dest)
}

// sleep waits for d on the provider clock, returning false if the context
// is cancelled first.
func (p *Provider) sleep(ctx context.Context, d time.Duration) bool {
	select {
	case <-ctx.Done():
		return false
	case <-p.clock.After(d):
		return true
	}
}
