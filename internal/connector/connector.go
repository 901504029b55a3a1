// Package connector implements the per-platform source connectors: the
// pagination engine that walks an upstream result set to exhaustion and the
// normalizers that map raw payloads onto the unified listing schema.
package connector

import (
	"context"
	"errors"
	"time"

	"github.com/JCapurro/PropScraper/internal/models"
)

// Configuration errors: the orchestrator logs these and skips the affected
// zone×operation combination instead of aborting the run.
var (
	ErrUnknownZone      = errors.New("unknown zone key")
	ErrUnknownOperation = errors.New("unknown operation key")
)

// ErrMissingListingID marks an item that cannot be upserted for lack of a key.
var ErrMissingListingID = errors.New("posting has no listing id")

// Connector fetches listings for a zone×operation filter from one platform.
type Connector interface {
	Platform() models.Platform

	// Fetch resolves the keys against the catalog and returns a lazy stream
	// of unified listings. maxPages == 0 means walk all pages. Unknown keys
	// return ErrUnknownZone / ErrUnknownOperation and no stream.
	Fetch(ctx context.Context, zoneKey, operationKey string, maxPages int) (*Stream, error)
}

// pageFetch fetches one page (1-indexed) and returns its normalized items,
// the number of items skipped for normalization failures, and whether
// upstream flagged this page as the last one.
type pageFetch func(ctx context.Context, page int) (items []*models.UnifiedListing, itemErrors int, last bool, err error)

// Stream is a pull-based iterator over one zone×operation result set. The
// page-fetch-and-buffer logic is hidden behind Next; callers see one listing
// at a time.
type Stream struct {
	fetch    pageFetch
	delay    time.Duration
	maxPages int

	page         int
	pagesFetched int
	buffer       []*models.UnifiedListing
	done         bool
	err          error
	itemErrors   int
}

func newStream(fetch pageFetch, delay time.Duration, maxPages int) *Stream {
	return &Stream{
		fetch:    fetch,
		delay:    delay,
		maxPages: maxPages,
		page:     1,
	}
}

// Next yields the next listing, fetching further pages on demand. It returns
// false when the stream is exhausted; Err reports whether exhaustion was
// caused by a transport failure or cancellation.
func (s *Stream) Next(ctx context.Context) (*models.UnifiedListing, bool) {
	for len(s.buffer) == 0 && !s.done {
		s.fill(ctx)
	}
	if len(s.buffer) == 0 {
		return nil, false
	}
	listing := s.buffer[0]
	s.buffer = s.buffer[1:]
	return listing, true
}

func (s *Stream) fill(ctx context.Context) {
	// Cancellation is observed before each page fetch.
	if err := ctx.Err(); err != nil {
		s.err = err
		s.done = true
		return
	}

	// The page cap is checked before issuing the request, never after.
	if s.maxPages > 0 && s.pagesFetched >= s.maxPages {
		s.done = true
		return
	}

	// Politeness delay between successive page fetches.
	if s.pagesFetched > 0 && s.delay > 0 {
		select {
		case <-ctx.Done():
			s.err = ctx.Err()
			s.done = true
			return
		case <-time.After(s.delay):
		}
	}

	items, itemErrs, last, err := s.fetch(ctx, s.page)
	if err != nil {
		// Transport failure ends pagination for this combination.
		s.err = err
		s.done = true
		return
	}

	s.pagesFetched++
	s.itemErrors += itemErrs

	if len(items) == 0 && itemErrs == 0 {
		s.done = true
		return
	}

	s.buffer = append(s.buffer, items...)
	if last {
		s.done = true
		return
	}
	s.page++
}

// Err returns the transport or cancellation error that terminated the
// stream, if any. A normally exhausted stream returns nil.
func (s *Stream) Err() error {
	return s.err
}

// ItemErrors returns how many raw items were skipped because they failed
// normalization or validation.
func (s *Stream) ItemErrors() int {
	return s.itemErrors
}

// PagesFetched returns how many upstream pages were requested successfully.
func (s *Stream) PagesFetched() int {
	return s.pagesFetched
}
