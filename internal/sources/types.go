package sources

import (
	"context"
	"fmt"
	"time"

	"github.com/stacklok/toolhive-registry-aggregator/internal/config"
	"github.com/stacklok/toolhive-registry-aggregator/internal/registry"
)

//go:generate mockgen -destination=mocks/mock_fetcher.go -package=mocks -source=types.go Fetcher,FetcherFactory

// Mode selects how a fetch walks a source's listing
type Mode string

const (
	// ModeFull walks the whole listing from the beginning
	ModeFull Mode = "full"

	// ModeIncremental walks the listing filtered to records updated since a timestamp.
	// Sources without server-side filtering fall back to a full walk.
	ModeIncremental Mode = "incremental"

	// ModeResume continues from the position an interrupted run left behind
	ModeResume Mode = "resume"
)

// ParseMode converts a user supplied mode name
func ParseMode(s string) (Mode, error) {
	switch m := Mode(s); m {
	case ModeFull, ModeIncremental, ModeResume:
		return m, nil
	default:
		return "", fmt.Errorf("unknown fetch mode '%s'", s)
	}
}

// Position is a point in a source's listing. Cursor sources use Cursor,
// page sources use Page. Offset counts entries of that page already consumed.
type Position struct {
	Cursor string
	Page   int
	Offset int
}

// FetchRequest describes one fetch run
type FetchRequest struct {
	Mode Mode

	// Since filters an incremental run (and a resumed incremental run)
	Since *time.Time

	// Start is where a resumed run picks up
	Start Position

	// Limit caps the number of records handed out; zero means no limit
	Limit int
}

// Page is one batch of records ready to be persisted
type Page struct {
	Records []*registry.SourceEntityRecord

	// Skipped counts entries dropped because they could not be decoded or detailed
	Skipped int

	// Filtered counts entries rejected by the source's name filter
	Filtered int

	// Next is the position to resume from once this page is durable
	Next Position

	// Last is set when no further page exists
	Last bool
}

// PageHandler persists a page. Returning an error stops the fetch.
type PageHandler func(ctx context.Context, page *Page) error

// FetchResult summarises a fetch run
type FetchResult struct {
	Fetched  int
	Skipped  int
	Filtered int
	Pages    int
	Duration time.Duration

	// Next is the position after the last handled page
	Next Position

	// Complete is set when the listing was walked to its end
	Complete bool

	// Truncated is set when the run stopped because it reached the limit
	Truncated bool
}

// Fetcher retrieves records from one source registry
type Fetcher interface {
	// Source returns the source name records are attributed to
	Source() string

	// Fetch walks the listing and calls handle once per page, in order.
	// The returned result is valid even when an error is returned and reflects
	// the pages handled before the failure.
	Fetch(ctx context.Context, req *FetchRequest, handle PageHandler) (*FetchResult, error)
}

// FetcherFactory creates fetchers for configured sources
type FetcherFactory interface {
	// CreateFetcher builds the fetcher matching the source's format
	CreateFetcher(src *config.SourceConfig) (Fetcher, error)
}

// countLimit tracks how many more records a run may hand out
type countLimit struct {
	limit int
	used  int
}

func (l *countLimit) reached() bool {
	return l.limit > 0 && l.used >= l.limit
}

func (l *countLimit) take() {
	l.used++
}
