// Package barcode selects the canonical per-device barcode (the
// five-priority ladder) and links scanned values to canonical device
// identifiers through an external service.
package barcode

import (
	"context"
	"io"
	"log"
	"net/http"
	"strings"
	"time"
)

// Linker calls the external linking service. All failure modes
// (timeout, transport error, non-2xx, empty body, literal "null")
// collapse into "linking not applied" and the scanned value is used
// verbatim; linking never blocks a verdict.
type Linker struct {
	url     string
	enabled bool
	client  *http.Client
	cache   LinkCache
	logger  *log.Logger

	onOutcome  func(outcome string)
	onDuration func(seconds float64)
}

// NewLinker creates a linker. url may be empty, which disables
// linking entirely. cache may be nil.
func NewLinker(url string, enabled bool, timeout time.Duration, cache LinkCache) *Linker {
	return &Linker{
		url:     url,
		enabled: enabled && url != "",
		client:  &http.Client{Timeout: timeout},
		cache:   cache,
		logger:  log.New(log.Writer(), "[LINKER] ", log.LstdFlags),
	}
}

// Hooks installs observability callbacks.
func (l *Linker) Hooks(onOutcome func(string), onDuration func(float64)) {
	l.onOutcome = onOutcome
	l.onDuration = onDuration
}

// Enabled reports whether linking is configured at all.
func (l *Linker) Enabled() bool { return l.enabled }

// Link posts the raw scalar value to the linking endpoint and returns
// (canonical, true) on success or ("", false) when linking was not
// applied. The caller must pass a scalar: lists are unwrapped by the
// ladder before linking, never stringified.
func (l *Linker) Link(ctx context.Context, raw string) (string, bool) {
	if !l.enabled || raw == "" {
		l.outcome("skipped")
		return "", false
	}

	if l.cache != nil {
		if v, ok := l.cache.Get(ctx, raw); ok {
			l.outcome("cached")
			return v, true
		}
	}

	start := time.Now()
	canonical, ok := l.post(ctx, raw)
	if l.onDuration != nil {
		l.onDuration(time.Since(start).Seconds())
	}
	if !ok {
		l.outcome("unavailable")
		return "", false
	}

	if l.cache != nil {
		l.cache.Set(ctx, raw, canonical)
	}
	l.outcome("linked")
	return canonical, true
}

func (l *Linker) post(ctx context.Context, raw string) (string, bool) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, l.url, strings.NewReader(raw))
	if err != nil {
		l.logger.Printf("building link request: %v", err)
		return "", false
	}
	req.Header.Set("Content-Type", "text/plain")

	resp, err := l.client.Do(req)
	if err != nil {
		l.logger.Printf("link request failed for %q: %v", raw, err)
		return "", false
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		l.logger.Printf("link service returned %d for %q", resp.StatusCode, raw)
		return "", false
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if err != nil {
		l.logger.Printf("reading link response for %q: %v", raw, err)
		return "", false
	}

	canonical := strings.TrimSpace(string(body))
	// The service wraps its answer in double quotes; strip one outer
	// matching pair.
	if len(canonical) >= 2 && canonical[0] == '"' && canonical[len(canonical)-1] == '"' {
		canonical = canonical[1 : len(canonical)-1]
	}
	if canonical == "" || canonical == "null" {
		return "", false
	}
	return canonical, true
}

func (l *Linker) outcome(o string) {
	if l.onOutcome != nil {
		l.onOutcome(o)
	}
}
