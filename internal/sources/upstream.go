package sources

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"strconv"
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/stacklok/toolhive-registry-aggregator/internal/httpclient"
	"github.com/stacklok/toolhive-registry-aggregator/internal/otel"
	"github.com/stacklok/toolhive-registry-aggregator/internal/registry"
	"github.com/stacklok/toolhive-registry-aggregator/internal/validators"
)

const (
	// DefaultUpstreamPageSize is the largest page the upstream registry serves
	DefaultUpstreamPageSize = 100

	statusDeprecated = "deprecated"
)

// upstreamListResponse is GET /servers of the upstream registry
type upstreamListResponse struct {
	Servers  []json.RawMessage `json:"servers"`
	Metadata struct {
		NextCursor string `json:"nextCursor"`
		Count      int    `json:"count"`
	} `json:"metadata"`
}

type upstreamEntry struct {
	Server upstreamServer `json:"server"`
	Meta   struct {
		Official *upstreamOfficialMeta `json:"io.modelcontextprotocol.registry/official"`
	} `json:"_meta"`
}

type upstreamServer struct {
	Name        string `json:"name"`
	Version     string `json:"version"`
	Title       string `json:"title"`
	Description string `json:"description"`
	Repository  *struct {
		URL    string `json:"url"`
		Source string `json:"source"`
	} `json:"repository"`
	Icons []struct {
		Src string `json:"src"`
	} `json:"icons"`
	Packages []upstreamPackage `json:"packages"`
	Remotes  []upstreamRemote  `json:"remotes"`
}

type upstreamPackage struct {
	RegistryType string `json:"registryType"`
	Identifier   string `json:"identifier"`
	Version      string `json:"version"`
	Transport    struct {
		Type string `json:"type"`
	} `json:"transport"`
}

type upstreamRemote struct {
	Type    string `json:"type"`
	URL     string `json:"url"`
	Headers []struct {
		Name     string `json:"name"`
		Value    string `json:"value"`
		IsSecret bool   `json:"isSecret"`
	} `json:"headers"`
}

type upstreamOfficialMeta struct {
	Status      string `json:"status"`
	IsLatest    bool   `json:"isLatest"`
	PublishedAt string `json:"publishedAt"`
	UpdatedAt   string `json:"updatedAt"`
}

// upstreamFetcher walks a cursor-paginated upstream registry
type upstreamFetcher struct {
	fetcherBase
}

var _ Fetcher = (*upstreamFetcher)(nil)

// NewUpstreamFetcher creates a cursor-paginated fetcher. endpoint is the API
// base including its version prefix, e.g. https://registry.modelcontextprotocol.io/v0
func NewUpstreamFetcher(name, endpoint string, client httpclient.Client, opts ...FetcherOption) Fetcher {
	return &upstreamFetcher{
		fetcherBase: newFetcherBase(name, endpoint, DefaultUpstreamPageSize, client, opts),
	}
}

// Fetch implements Fetcher
func (f *upstreamFetcher) Fetch(ctx context.Context, req *FetchRequest, handle PageHandler) (*FetchResult, error) {
	start := time.Now()
	result := &FetchResult{}
	defer func() { result.Duration = time.Since(start) }()

	ctx, span := otel.StartSpan(ctx, otel.Tracer(), "sources.upstream.Fetch",
		trace.WithAttributes(
			otel.AttrSourceName.String(f.name),
			otel.AttrSyncMode.String(string(req.Mode)),
			otel.AttrPageSize.Int(f.pageSize),
		),
	)
	defer span.End()

	var pos Position
	if req.Mode == ModeResume {
		pos = Position{Cursor: req.Start.Cursor, Offset: req.Start.Offset}
	}
	result.Next = pos
	limit := &countLimit{limit: req.Limit}

	for {
		resp, err := f.listPage(ctx, req, pos.Cursor)
		if err != nil {
			otel.RecordError(span, err)
			return result, err
		}

		page := f.buildPage(resp, pos, limit)
		if err := handle(ctx, page); err != nil {
			otel.RecordError(span, err)
			return result, err
		}

		result.Pages++
		result.Fetched += len(page.Records)
		result.Skipped += page.Skipped
		result.Filtered += page.Filtered
		result.Next = page.Next

		if page.Last {
			result.Complete = true
			break
		}
		if limit.reached() {
			result.Truncated = true
			break
		}
		pos = page.Next
	}

	span.SetAttributes(otel.AttrResultCount.Int(result.Fetched))
	return result, nil
}

func (f *upstreamFetcher) listPage(ctx context.Context, req *FetchRequest, cursor string) (*upstreamListResponse, error) {
	if err := f.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	params := url.Values{}
	params.Set("limit", strconv.Itoa(f.pageSize))
	if cursor != "" {
		params.Set("cursor", cursor)
	}
	if req.Since != nil && req.Mode != ModeFull {
		params.Set("updated_since", req.Since.UTC().Format(time.RFC3339))
	}

	body, err := f.client.GetJSON(ctx, f.listURL(), params)
	if err != nil {
		return nil, fmt.Errorf("failed to list servers of source '%s': %w", f.name, err)
	}

	var resp upstreamListResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("failed to decode server list of source '%s': %w", f.name, err)
	}
	return &resp, nil
}

// buildPage decodes the entries of one listing response starting at pos.Offset
func (f *upstreamFetcher) buildPage(resp *upstreamListResponse, pos Position, limit *countLimit) *Page {
	page := &Page{}
	fetchedAt := f.now().UTC()

	entries := resp.Servers
	consumed := min(pos.Offset, len(entries))
	for _, raw := range entries[consumed:] {
		if limit.reached() {
			break
		}
		consumed++

		rec, err := decodeUpstreamEntry(f.name, raw, fetchedAt)
		if err != nil {
			page.Skipped++
			slog.Warn("Skipping undecodable record", "source", f.name, "error", err)
			continue
		}
		if ok, reason := f.filter.Allows(rec.NativeName); !ok {
			page.Filtered++
			slog.Debug("Record filtered out", "source", f.name, "name", rec.NativeName, "reason", reason)
			continue
		}
		page.Records = append(page.Records, rec)
		limit.take()
	}

	switch {
	case consumed < len(entries):
		page.Next = Position{Cursor: pos.Cursor, Offset: consumed}
	case len(entries) == 0 || resp.Metadata.NextCursor == "":
		page.Last = true
	default:
		page.Next = Position{Cursor: resp.Metadata.NextCursor}
	}
	return page
}

func decodeUpstreamEntry(source string, raw json.RawMessage, fetchedAt time.Time) (*registry.SourceEntityRecord, error) {
	var entry upstreamEntry
	if err := json.Unmarshal(raw, &entry); err != nil {
		return nil, fmt.Errorf("invalid server entry: %w", err)
	}
	srv := entry.Server
	name, err := validators.ValidateServerName(srv.Name)
	if err != nil {
		return nil, err
	}
	srv.Name = name

	rec := &registry.SourceEntityRecord{
		SourceID:    source,
		NativeName:  srv.Name,
		Version:     srv.Version,
		DisplayName: srv.Title,
		Description: srv.Description,
		Publication: registry.PublicationUnknown,
		FetchedAt:   fetchedAt,
		Raw:         append(json.RawMessage(nil), raw...),
	}
	if rec.DisplayName == "" {
		rec.DisplayName = srv.Name
	}
	if srv.Repository != nil {
		rec.RepositoryURL = srv.Repository.URL
	}
	if len(srv.Icons) > 0 {
		rec.IconURL = srv.Icons[0].Src
	}

	for _, remote := range srv.Remotes {
		if remote.URL == "" {
			continue
		}
		ep := registry.Endpoint{Transport: remote.Type, URL: remote.URL}
		for _, h := range remote.Headers {
			ep.Headers = append(ep.Headers, registry.Header{Name: h.Name, Value: h.Value, IsSecret: h.IsSecret})
		}
		rec.Endpoints = append(rec.Endpoints, ep)
	}
	for _, pkg := range srv.Packages {
		rec.Packages = append(rec.Packages, registry.PackageRef{
			RegistryType: pkg.RegistryType,
			Identifier:   pkg.Identifier,
			Version:      pkg.Version,
			Transport:    pkg.Transport.Type,
		})
	}

	if meta := entry.Meta.Official; meta != nil {
		rec.Status = meta.Status
		rec.PublishedAt = parseTimestamp(meta.PublishedAt)
		rec.UpdatedAt = parseTimestamp(meta.UpdatedAt)
		switch {
		case meta.IsLatest:
			rec.Publication = registry.PublicationLatest
		case meta.Status == statusDeprecated:
			rec.Publication = registry.PublicationDeprecated
		}
	}
	return rec, nil
}
