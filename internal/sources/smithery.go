package sources

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/tidwall/gjson"
	"go.opentelemetry.io/otel/trace"

	"github.com/stacklok/toolhive-registry-aggregator/internal/httpclient"
	"github.com/stacklok/toolhive-registry-aggregator/internal/otel"
	"github.com/stacklok/toolhive-registry-aggregator/internal/registry"
)

const (
	// DefaultSmitheryPageSize is the page size used when none is configured
	DefaultSmitheryPageSize = 50

	smitheryStatusActive = "active"
)

// smitheryListResponse is GET /servers of a page-paginated registry
type smitheryListResponse struct {
	Servers    []json.RawMessage `json:"servers"`
	Pagination struct {
		CurrentPage int `json:"currentPage"`
		PageSize    int `json:"pageSize"`
		TotalPages  int `json:"totalPages"`
		TotalCount  int `json:"totalCount"`
	} `json:"pagination"`
}

// smitheryServer covers both list items and GET /servers/{qualifiedName} details.
// Only details carry connections and tools.
type smitheryServer struct {
	QualifiedName string               `json:"qualifiedName"`
	DisplayName   string               `json:"displayName"`
	Description   string               `json:"description"`
	IconURL       string               `json:"iconUrl"`
	Verified      bool                 `json:"verified"`
	UseCount      int64                `json:"useCount"`
	Remote        bool                 `json:"remote"`
	CreatedAt     string               `json:"createdAt"`
	DeploymentURL string               `json:"deploymentUrl"`
	Connections   []smitheryConnection `json:"connections"`
	Tools         json.RawMessage      `json:"tools"`
}

type smitheryConnection struct {
	Type          string `json:"type"`
	DeploymentURL string `json:"deploymentUrl"`
	URL           string `json:"url"`
}

// smitheryFetcher walks a page-paginated registry
type smitheryFetcher struct {
	fetcherBase
}

var _ Fetcher = (*smitheryFetcher)(nil)

// NewSmitheryFetcher creates a page-paginated fetcher
func NewSmitheryFetcher(name, endpoint string, client httpclient.Client, opts ...FetcherOption) Fetcher {
	return &smitheryFetcher{
		fetcherBase: newFetcherBase(name, endpoint, DefaultSmitheryPageSize, client, opts),
	}
}

// Fetch implements Fetcher. The first listing request also reports the page
// count; failing it fails the run.
func (f *smitheryFetcher) Fetch(ctx context.Context, req *FetchRequest, handle PageHandler) (*FetchResult, error) {
	start := time.Now()
	result := &FetchResult{}
	defer func() { result.Duration = time.Since(start) }()

	ctx, span := otel.StartSpan(ctx, otel.Tracer(), "sources.smithery.Fetch",
		trace.WithAttributes(
			otel.AttrSourceName.String(f.name),
			otel.AttrSyncMode.String(string(req.Mode)),
			otel.AttrPageSize.Int(f.pageSize),
		),
	)
	defer span.End()

	pageNum, offset := 1, 0
	if req.Mode == ModeResume && req.Start.Page > 0 {
		pageNum, offset = req.Start.Page, req.Start.Offset
	}
	if req.Mode == ModeIncremental {
		slog.Debug("Source has no updated-since filter, walking the full listing", "source", f.name)
	}
	result.Next = Position{Page: pageNum, Offset: offset}
	limit := &countLimit{limit: req.Limit}

	resp, err := f.listPage(ctx, pageNum)
	if err != nil {
		otel.RecordError(span, err)
		return result, fmt.Errorf("failed to probe page count: %w", err)
	}
	totalPages := resp.Pagination.TotalPages
	slog.Info("Listing source",
		"source", f.name,
		"total_pages", totalPages,
		"total_count", resp.Pagination.TotalCount,
		"start_page", pageNum)

	for {
		page, interrupted := f.buildPage(ctx, resp, pageNum, offset, totalPages, limit)

		handleCtx := ctx
		if interrupted != nil {
			// flush what was detailed before the interruption
			handleCtx = context.WithoutCancel(ctx)
		}
		if err := handle(handleCtx, page); err != nil {
			otel.RecordError(span, err)
			return result, err
		}

		result.Pages++
		result.Fetched += len(page.Records)
		result.Skipped += page.Skipped
		result.Filtered += page.Filtered
		result.Next = page.Next

		if interrupted != nil {
			return result, interrupted
		}
		if page.Last {
			result.Complete = true
			break
		}
		if limit.reached() {
			result.Truncated = true
			break
		}

		pageNum, offset = page.Next.Page, 0
		if resp, err = f.listPage(ctx, pageNum); err != nil {
			otel.RecordError(span, err)
			return result, err
		}
	}

	span.SetAttributes(otel.AttrResultCount.Int(result.Fetched))
	return result, nil
}

func (f *smitheryFetcher) listPage(ctx context.Context, pageNum int) (*smitheryListResponse, error) {
	if err := f.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	params := url.Values{}
	params.Set("page", strconv.Itoa(pageNum))
	params.Set("pageSize", strconv.Itoa(f.pageSize))

	body, err := f.client.GetJSON(ctx, f.listURL(), params)
	if err != nil {
		return nil, fmt.Errorf("failed to list page %d of source '%s': %w", pageNum, f.name, err)
	}

	var resp smitheryListResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("failed to decode page %d of source '%s': %w", pageNum, f.name, err)
	}
	return &resp, nil
}

// buildPage turns one listing into records, fetching details per entry when
// enabled. A cancelled context stops the page early and is returned so the
// caller can persist the partial page before giving up.
func (f *smitheryFetcher) buildPage(
	ctx context.Context,
	resp *smitheryListResponse,
	pageNum, offset, totalPages int,
	limit *countLimit,
) (*Page, error) {
	page := &Page{}
	fetchedAt := f.now().UTC()

	var interrupted error
	entries := resp.Servers
	consumed := min(offset, len(entries))
	for _, raw := range entries[consumed:] {
		if limit.reached() {
			break
		}

		var item smitheryServer
		if err := json.Unmarshal(raw, &item); err != nil || item.QualifiedName == "" {
			consumed++
			page.Skipped++
			slog.Warn("Skipping undecodable record", "source", f.name, "error", err)
			continue
		}
		if ok, reason := f.filter.Allows(item.QualifiedName); !ok {
			consumed++
			page.Filtered++
			slog.Debug("Record filtered out", "source", f.name, "name", item.QualifiedName, "reason", reason)
			continue
		}

		detail, detailRaw := &item, json.RawMessage(raw)
		if f.details {
			d, dRaw, err := f.getDetail(ctx, item.QualifiedName)
			if err != nil {
				if ctxErr := ctx.Err(); ctxErr != nil {
					interrupted = ctxErr
					break
				}
				consumed++
				page.Skipped++
				slog.Warn("Skipping record whose details could not be fetched",
					"source", f.name,
					"name", item.QualifiedName,
					"error", err)
				continue
			}
			detail, detailRaw = d, dRaw
			mergeListItem(detail, &item)
		}

		consumed++
		page.Records = append(page.Records, f.toRecord(detail, detailRaw, fetchedAt))
		limit.take()
	}

	knownTotal := totalPages > 0
	switch {
	case consumed < len(entries):
		page.Next = Position{Page: pageNum, Offset: consumed}
	case len(entries) == 0 || (knownTotal && pageNum >= totalPages):
		page.Last = true
	default:
		page.Next = Position{Page: pageNum + 1}
	}
	return page, interrupted
}

func (f *smitheryFetcher) getDetail(ctx context.Context, qualifiedName string) (*smitheryServer, json.RawMessage, error) {
	if err := f.limiter.Wait(ctx); err != nil {
		return nil, nil, err
	}

	body, err := f.client.GetJSON(ctx, f.detailURL(qualifiedName), nil)
	if err != nil {
		return nil, nil, err
	}

	var detail smitheryServer
	if err := json.Unmarshal(body, &detail); err != nil {
		return nil, nil, fmt.Errorf("invalid server detail: %w", err)
	}
	if detail.QualifiedName != "" && detail.QualifiedName != qualifiedName {
		return nil, nil, errors.New("server detail names a different server: " + detail.QualifiedName)
	}
	detail.QualifiedName = qualifiedName
	return &detail, body, nil
}

// detailURL escapes each path segment of a qualified name such as "@owner/repo"
func (f *smitheryFetcher) detailURL(qualifiedName string) string {
	segments := strings.Split(qualifiedName, "/")
	for i, s := range segments {
		segments[i] = url.PathEscape(s)
	}
	return f.listURL() + "/" + strings.Join(segments, "/")
}

// mergeListItem fills fields only the list item carried
func mergeListItem(detail, item *smitheryServer) {
	if detail.DisplayName == "" {
		detail.DisplayName = item.DisplayName
	}
	if detail.Description == "" {
		detail.Description = item.Description
	}
	if detail.IconURL == "" {
		detail.IconURL = item.IconURL
	}
	if detail.CreatedAt == "" {
		detail.CreatedAt = item.CreatedAt
	}
	if detail.UseCount == 0 {
		detail.UseCount = item.UseCount
	}
	detail.Verified = detail.Verified || item.Verified
}

func (f *smitheryFetcher) toRecord(srv *smitheryServer, raw json.RawMessage, fetchedAt time.Time) *registry.SourceEntityRecord {
	rec := &registry.SourceEntityRecord{
		SourceID:    f.name,
		NativeName:  srv.QualifiedName,
		DisplayName: srv.DisplayName,
		Description: srv.Description,
		IconURL:     srv.IconURL,
		Endpoints:   smitheryEndpoints(srv),
		Quality:     registry.QualitySignals{Verified: srv.Verified, UseCount: srv.UseCount},
		// unversioned listings only ever show the current release
		Publication: registry.PublicationLatest,
		Status:      smitheryStatusActive,
		PublishedAt: parseTimestamp(srv.CreatedAt),
		FetchedAt:   fetchedAt,
		Raw:         append(json.RawMessage(nil), raw...),
	}
	if rec.DisplayName == "" {
		rec.DisplayName = srv.QualifiedName
	}

	// null or absent tools means "unknown", an empty array means "none"
	if tools := gjson.ParseBytes(srv.Tools); tools.IsArray() {
		rec.Embedded = &registry.Capabilities{Tools: registry.ParseCapabilityList(tools)}
	}
	return rec
}

// smitheryEndpoints lists HTTP connections in declaration order, then the
// top-level deployment URL if no connection already points at it
func smitheryEndpoints(srv *smitheryServer) []registry.Endpoint {
	var out []registry.Endpoint
	seen := make(map[string]bool)
	add := func(u string) {
		if u == "" || seen[u] {
			return
		}
		seen[u] = true
		out = append(out, registry.Endpoint{Transport: registry.TransportStreamableHTTP, URL: u})
	}

	for _, conn := range srv.Connections {
		if conn.Type != registry.TransportHTTP && conn.Type != registry.TransportStreamableHTTP {
			continue
		}
		if conn.DeploymentURL != "" {
			add(conn.DeploymentURL)
		} else {
			add(conn.URL)
		}
	}
	add(srv.DeploymentURL)
	return out
}
