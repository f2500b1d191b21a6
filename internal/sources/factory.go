package sources

import (
	"fmt"
	"log/slog"
	"slices"

	"github.com/stacklok/toolhive-registry-aggregator/internal/config"
	"github.com/stacklok/toolhive-registry-aggregator/internal/filtering"
	"github.com/stacklok/toolhive-registry-aggregator/internal/httpclient"
)

// defaultFetcherFactory is the default implementation of FetcherFactory
type defaultFetcherFactory struct {
	clientOpts []httpclient.Option
}

var _ FetcherFactory = (*defaultFetcherFactory)(nil)

// NewFetcherFactory creates a fetcher factory. The client options (retry
// policy, transport) apply to every source; timeouts and credentials come
// from each source's configuration.
func NewFetcherFactory(clientOpts ...httpclient.Option) FetcherFactory {
	return &defaultFetcherFactory{clientOpts: clientOpts}
}

// CreateFetcher implements FetcherFactory
func (f *defaultFetcherFactory) CreateFetcher(src *config.SourceConfig) (Fetcher, error) {
	if src == nil {
		return nil, fmt.Errorf("source configuration cannot be nil")
	}

	token, err := src.GetToken()
	if err != nil {
		return nil, fmt.Errorf("failed to resolve credentials for source '%s': %w", src.Name, err)
	}
	if src.Auth != nil && token == "" {
		slog.Warn("Source declares credentials but none were found, requests will be anonymous",
			"source", src.Name)
	}

	filter := filtering.AllowAll()
	if src.Filter != nil {
		filter, err = filtering.NewNameFilter(src.Filter.Include, src.Filter.Exclude)
		if err != nil {
			return nil, fmt.Errorf("invalid filter for source '%s': %w", src.Name, err)
		}
	}

	clientOpts := append(slices.Clone(f.clientOpts),
		httpclient.WithTimeout(src.GetTimeout()),
		httpclient.WithBearerToken(token),
	)
	client := httpclient.New(clientOpts...)

	opts := []FetcherOption{
		WithPageSize(src.GetPageSize()),
		WithNameFilter(filter),
		WithRequestDelay(src.GetPageDelay()),
		WithDetails(src.DetailsEnabled()),
	}

	switch src.Format {
	case config.SourceFormatUpstream:
		return NewUpstreamFetcher(src.Name, src.Endpoint, client, opts...), nil
	case config.SourceFormatSmithery:
		return NewSmitheryFetcher(src.Name, src.Endpoint, client, opts...), nil
	default:
		return nil, fmt.Errorf("unsupported source format: %s", src.Format)
	}
}
