package sources_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/stacklok/toolhive-registry-aggregator/internal/registry"
	"github.com/stacklok/toolhive-registry-aggregator/internal/sources"
)

// smitheryRegistry serves a page-paginated listing plus per-server details
type smitheryRegistry struct {
	mu         sync.Mutex
	pages      [][]map[string]any
	totalPages int
	details    map[string]any
	failDetail map[string]int
	onDetail   func(w http.ResponseWriter, r *http.Request, name string) bool
	listed     []url.Values
	detailed   []string
}

func (s *smitheryRegistry) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	if r.URL.Path == "/servers" {
		s.mu.Lock()
		s.listed = append(s.listed, r.URL.Query())
		s.mu.Unlock()

		page, _ := strconv.Atoi(r.URL.Query().Get("page"))
		var items []map[string]any
		if page >= 1 && page <= len(s.pages) {
			items = s.pages[page-1]
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"servers": items,
			"pagination": map[string]any{
				"currentPage": page,
				"pageSize":    len(items),
				"totalPages":  s.totalPages,
				"totalCount":  3,
			},
		})
		return
	}

	name := strings.TrimPrefix(r.URL.Path, "/servers/")
	s.mu.Lock()
	s.detailed = append(s.detailed, name)
	s.mu.Unlock()

	if s.onDetail != nil && s.onDetail(w, r, name) {
		return
	}
	if code, ok := s.failDetail[name]; ok {
		http.Error(w, "detail unavailable", code)
		return
	}
	detail, ok := s.details[name]
	if !ok {
		http.NotFound(w, r)
		return
	}
	_ = json.NewEncoder(w).Encode(detail)
}

func (s *smitheryRegistry) listQueries() []url.Values {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]url.Values(nil), s.listed...)
}

func (s *smitheryRegistry) detailRequests() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.detailed...)
}

func findRecord(recorder *pageRecorder, name string) *registry.SourceEntityRecord {
	for _, p := range recorder.pages {
		for _, rec := range p.Records {
			if rec.NativeName == name {
				return rec
			}
		}
	}
	return nil
}

var _ = Describe("SmitheryFetcher", func() {
	var (
		ctx      context.Context
		smithery *smitheryRegistry
		recorder *pageRecorder
	)

	newFetcher := func(opts ...sources.FetcherOption) sources.Fetcher {
		server := newTestServer(smithery)
		opts = append([]sources.FetcherOption{sources.WithPageSize(2)}, opts...)
		return sources.NewSmitheryFetcher("smithery", server.URL, newSingleShotClient(), opts...)
	}

	BeforeEach(func() {
		ctx = context.Background()
		recorder = &pageRecorder{}
		smithery = &smitheryRegistry{
			pages: [][]map[string]any{
				{
					{
						"qualifiedName": "@acme/weather",
						"displayName":   "Acme Weather",
						"description":   "Forecasts",
						"verified":      true,
						"useCount":      420,
						"createdAt":     "2025-03-01T08:00:00Z",
					},
					{"qualifiedName": "files", "displayName": "Files", "useCount": 7},
				},
				{
					{"qualifiedName": "@other/notes", "displayName": "Notes"},
				},
			},
			totalPages: 2,
			details: map[string]any{
				"@acme/weather": map[string]any{
					"qualifiedName": "@acme/weather",
					"deploymentUrl": "https://weather.run.tools/mcp",
					"connections": []any{
						map[string]any{"type": "stdio"},
						map[string]any{"type": "http", "deploymentUrl": "https://weather.run.tools/mcp"},
					},
					"tools": []any{
						map[string]any{"name": "forecast", "description": "Get a forecast"},
						map[string]any{"name": "alerts"},
					},
				},
				"files": map[string]any{
					"qualifiedName": "files",
					"connections": []any{
						map[string]any{"type": "streamable-http", "url": "https://files.example.com/mcp"},
					},
					"tools": nil,
				},
				"@other/notes": map[string]any{
					"qualifiedName": "@other/notes",
					"tools":         []any{},
				},
			},
		}
	})

	Describe("walking the listing", func() {
		It("fetches every page up to the reported page count", func() {
			fetcher := newFetcher()

			result, err := fetcher.Fetch(ctx, &sources.FetchRequest{Mode: sources.ModeFull}, recorder.handle)
			Expect(err).NotTo(HaveOccurred())
			Expect(result.Complete).To(BeTrue())
			Expect(result.Pages).To(Equal(2))
			Expect(result.Fetched).To(Equal(3))
			Expect(recorder.names()).To(Equal([]string{"@acme/weather", "files", "@other/notes"}))

			queries := smithery.listQueries()
			Expect(queries).To(HaveLen(2))
			Expect(queries[0].Get("page")).To(Equal("1"))
			Expect(queries[0].Get("pageSize")).To(Equal("2"))
			Expect(queries[1].Get("page")).To(Equal("2"))
			Expect(smithery.detailRequests()).To(Equal([]string{"@acme/weather", "files", "@other/notes"}))
		})

		It("walks the full listing in incremental mode", func() {
			fetcher := newFetcher()
			since := time.Now().Add(-time.Hour)

			result, err := fetcher.Fetch(ctx, &sources.FetchRequest{Mode: sources.ModeIncremental, Since: &since}, recorder.handle)
			Expect(err).NotTo(HaveOccurred())
			Expect(result.Fetched).To(Equal(3))
			for _, q := range smithery.listQueries() {
				Expect(q.Has("updated_since")).To(BeFalse())
			}
		})

		It("stops at an empty page when the page count is unknown", func() {
			smithery.totalPages = 0
			fetcher := newFetcher()

			result, err := fetcher.Fetch(ctx, &sources.FetchRequest{Mode: sources.ModeFull}, recorder.handle)
			Expect(err).NotTo(HaveOccurred())
			Expect(result.Complete).To(BeTrue())
			Expect(result.Pages).To(Equal(3))
			Expect(result.Fetched).To(Equal(3))
		})
	})

	Describe("records", func() {
		It("combines list items and details", func() {
			fetcher := newFetcher()

			_, err := fetcher.Fetch(ctx, &sources.FetchRequest{Mode: sources.ModeFull}, recorder.handle)
			Expect(err).NotTo(HaveOccurred())

			weather := findRecord(recorder, "@acme/weather")
			Expect(weather).NotTo(BeNil())
			Expect(weather.SourceID).To(Equal("smithery"))
			Expect(weather.Version).To(BeEmpty())
			Expect(weather.DisplayName).To(Equal("Acme Weather"))
			Expect(weather.Description).To(Equal("Forecasts"))
			Expect(weather.Quality).To(Equal(registry.QualitySignals{Verified: true, UseCount: 420}))
			Expect(weather.Publication).To(Equal(registry.PublicationLatest))
			Expect(weather.Status).To(Equal("active"))
			Expect(weather.PublishedAt).NotTo(BeNil())
			Expect(*weather.PublishedAt).To(Equal(time.Date(2025, 3, 1, 8, 0, 0, 0, time.UTC)))
			Expect(weather.Endpoints).To(Equal([]registry.Endpoint{
				{Transport: registry.TransportStreamableHTTP, URL: "https://weather.run.tools/mcp"},
			}))
			Expect(weather.HasEmbeddedCapabilities()).To(BeTrue())
			Expect(registry.CapabilityNames(weather.Embedded.Tools)).To(Equal([]string{"forecast", "alerts"}))
		})

		It("treats null tools as unknown and an empty array as none", func() {
			fetcher := newFetcher()

			_, err := fetcher.Fetch(ctx, &sources.FetchRequest{Mode: sources.ModeFull}, recorder.handle)
			Expect(err).NotTo(HaveOccurred())

			files := findRecord(recorder, "files")
			Expect(files.Embedded).To(BeNil())
			Expect(files.HasEmbeddedCapabilities()).To(BeFalse())
			Expect(files.Endpoints).To(Equal([]registry.Endpoint{
				{Transport: registry.TransportStreamableHTTP, URL: "https://files.example.com/mcp"},
			}))

			notes := findRecord(recorder, "@other/notes")
			Expect(notes.HasEmbeddedCapabilities()).To(BeTrue())
			Expect(notes.Embedded.Count()).To(BeZero())
			Expect(notes.Endpoints).To(BeEmpty())
		})

		It("skips the detail request when details are disabled", func() {
			fetcher := newFetcher(sources.WithDetails(false))

			result, err := fetcher.Fetch(ctx, &sources.FetchRequest{Mode: sources.ModeFull}, recorder.handle)
			Expect(err).NotTo(HaveOccurred())
			Expect(result.Fetched).To(Equal(3))
			Expect(smithery.detailRequests()).To(BeEmpty())
			Expect(findRecord(recorder, "@acme/weather").Embedded).To(BeNil())
		})
	})

	Describe("failures", func() {
		It("fails the run when the first listing request fails", func() {
			server := newTestServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				http.Error(w, "down", http.StatusInternalServerError)
			}))
			fetcher := sources.NewSmitheryFetcher("smithery", server.URL, newSingleShotClient())

			result, err := fetcher.Fetch(ctx, &sources.FetchRequest{Mode: sources.ModeFull}, recorder.handle)
			Expect(err).To(HaveOccurred())
			Expect(err.Error()).To(ContainSubstring("failed to probe page count"))
			Expect(result.Pages).To(BeZero())
			Expect(recorder.pages).To(BeEmpty())
		})

		It("skips records whose details cannot be fetched", func() {
			smithery.failDetail = map[string]int{"files": http.StatusNotFound}
			fetcher := newFetcher()

			result, err := fetcher.Fetch(ctx, &sources.FetchRequest{Mode: sources.ModeFull}, recorder.handle)
			Expect(err).NotTo(HaveOccurred())
			Expect(result.Complete).To(BeTrue())
			Expect(result.Fetched).To(Equal(2))
			Expect(result.Skipped).To(Equal(1))
			Expect(findRecord(recorder, "files")).To(BeNil())
		})

		It("hands over the partial page when interrupted", func() {
			cancelCtx, cancel := context.WithCancel(ctx)
			defer cancel()
			smithery.onDetail = func(_ http.ResponseWriter, r *http.Request, name string) bool {
				if name != "files" {
					return false
				}
				cancel()
				select {
				case <-r.Context().Done():
				case <-time.After(5 * time.Second):
				}
				return true
			}
			fetcher := newFetcher()

			var handledCtxErr error
			result, err := fetcher.Fetch(cancelCtx, &sources.FetchRequest{Mode: sources.ModeFull},
				func(hctx context.Context, page *sources.Page) error {
					handledCtxErr = hctx.Err()
					return recorder.handle(hctx, page)
				})
			Expect(err).To(MatchError(context.Canceled))
			Expect(handledCtxErr).NotTo(HaveOccurred())
			Expect(recorder.names()).To(Equal([]string{"@acme/weather"}))
			Expect(result.Next).To(Equal(sources.Position{Page: 1, Offset: 1}))
			Expect(result.Complete).To(BeFalse())
		})
	})

	Describe("limit and resume", func() {
		It("remembers the page and offset where the limit was reached", func() {
			fetcher := newFetcher()

			result, err := fetcher.Fetch(ctx, &sources.FetchRequest{Mode: sources.ModeFull, Limit: 1}, recorder.handle)
			Expect(err).NotTo(HaveOccurred())
			Expect(result.Truncated).To(BeTrue())
			Expect(result.Next).To(Equal(sources.Position{Page: 1, Offset: 1}))
			Expect(smithery.detailRequests()).To(Equal([]string{"@acme/weather"}))
		})

		It("resumes from the saved page and offset", func() {
			fetcher := newFetcher()

			result, err := fetcher.Fetch(ctx, &sources.FetchRequest{
				Mode:  sources.ModeResume,
				Start: sources.Position{Page: 1, Offset: 1},
			}, recorder.handle)
			Expect(err).NotTo(HaveOccurred())
			Expect(result.Complete).To(BeTrue())
			Expect(recorder.names()).To(Equal([]string{"files", "@other/notes"}))
			Expect(smithery.listQueries()[0].Get("page")).To(Equal("1"))
		})

		It("resumes on a later page without re-listing earlier ones", func() {
			fetcher := newFetcher()

			_, err := fetcher.Fetch(ctx, &sources.FetchRequest{
				Mode:  sources.ModeResume,
				Start: sources.Position{Page: 2},
			}, recorder.handle)
			Expect(err).NotTo(HaveOccurred())
			Expect(recorder.names()).To(Equal([]string{"@other/notes"}))
			Expect(smithery.listQueries()).To(HaveLen(1))
		})
	})
})
