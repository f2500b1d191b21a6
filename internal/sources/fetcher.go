package sources

import (
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/stacklok/toolhive-registry-aggregator/internal/filtering"
	"github.com/stacklok/toolhive-registry-aggregator/internal/httpclient"
)

const serversPath = "/servers"

// FetcherOption configures a fetcher
type FetcherOption func(*fetcherBase)

// WithPageSize sets the number of entries requested per page
func WithPageSize(n int) FetcherOption {
	return func(b *fetcherBase) {
		if n > 0 {
			b.pageSize = n
		}
	}
}

// WithNameFilter drops records whose native name the filter rejects
func WithNameFilter(filter filtering.NameFilter) FetcherOption {
	return func(b *fetcherBase) {
		if filter != nil {
			b.filter = filter
		}
	}
}

// WithRequestDelay spaces consecutive requests to the source by at least d
func WithRequestDelay(d time.Duration) FetcherOption {
	return func(b *fetcherBase) {
		b.limiter = newRequestLimiter(d)
	}
}

// WithDetails toggles the per-record detail request of page-paginated sources
func WithDetails(enabled bool) FetcherOption {
	return func(b *fetcherBase) {
		b.details = enabled
	}
}

// WithClock overrides the clock used for fetch timestamps
func WithClock(now func() time.Time) FetcherOption {
	return func(b *fetcherBase) {
		if now != nil {
			b.now = now
		}
	}
}

// fetcherBase holds what every pagination strategy needs
type fetcherBase struct {
	name     string
	endpoint string
	pageSize int
	details  bool
	client   httpclient.Client
	filter   filtering.NameFilter
	limiter  *rate.Limiter
	now      func() time.Time
}

func newFetcherBase(name, endpoint string, defaultPageSize int, client httpclient.Client, opts []FetcherOption) fetcherBase {
	b := fetcherBase{
		name:     name,
		endpoint: strings.TrimRight(endpoint, "/"),
		pageSize: defaultPageSize,
		details:  true,
		client:   client,
		filter:   filtering.AllowAll(),
		limiter:  newRequestLimiter(0),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(&b)
	}
	return b
}

// Source implements Fetcher
func (b *fetcherBase) Source() string {
	return b.name
}

func (b *fetcherBase) listURL() string {
	return b.endpoint + serversPath
}

// newRequestLimiter allows one request per interval. The first request is
// never delayed.
func newRequestLimiter(interval time.Duration) *rate.Limiter {
	if interval <= 0 {
		return rate.NewLimiter(rate.Inf, 1)
	}
	return rate.NewLimiter(rate.Every(interval), 1)
}

func parseTimestamp(raw string) *time.Time {
	if raw == "" {
		return nil
	}
	t, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return nil
	}
	t = t.UTC()
	return &t
}
