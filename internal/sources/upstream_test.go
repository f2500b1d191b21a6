package sources_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/stacklok/toolhive-registry-aggregator/internal/filtering"
	"github.com/stacklok/toolhive-registry-aggregator/internal/registry"
	"github.com/stacklok/toolhive-registry-aggregator/internal/sources"
)

func upstreamEntry(name, version string, latest bool) map[string]any {
	return map[string]any{
		"server": map[string]any{
			"name":        name,
			"version":     version,
			"description": name + " description",
		},
		"_meta": map[string]any{
			"io.modelcontextprotocol.registry/official": map[string]any{
				"status":      "active",
				"isLatest":    latest,
				"publishedAt": "2025-05-01T10:00:00Z",
				"updatedAt":   "2025-06-01T10:00:00Z",
			},
		},
	}
}

// upstreamRegistry serves cursor pages keyed by the incoming cursor ("" is the first page)
type upstreamRegistry struct {
	mu       sync.Mutex
	pages    map[string][]any
	next     map[string]string
	requests []url.Values
}

func (u *upstreamRegistry) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/v0/servers" {
		http.NotFound(w, r)
		return
	}
	u.mu.Lock()
	u.requests = append(u.requests, r.URL.Query())
	u.mu.Unlock()

	cursor := r.URL.Query().Get("cursor")
	entries, ok := u.pages[cursor]
	if !ok {
		http.Error(w, "unknown cursor", http.StatusBadRequest)
		return
	}
	resp := map[string]any{
		"servers":  entries,
		"metadata": map[string]any{"nextCursor": u.next[cursor], "count": len(entries)},
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(resp)
}

func (u *upstreamRegistry) queries() []url.Values {
	u.mu.Lock()
	defer u.mu.Unlock()
	return append([]url.Values(nil), u.requests...)
}

var _ = Describe("UpstreamFetcher", func() {
	var (
		ctx      context.Context
		upstream *upstreamRegistry
		fetcher  sources.Fetcher
		recorder *pageRecorder
	)

	newFetcher := func(opts ...sources.FetcherOption) sources.Fetcher {
		server := newTestServer(upstream)
		return sources.NewUpstreamFetcher("official", server.URL+"/v0/", newSingleShotClient(), opts...)
	}

	BeforeEach(func() {
		ctx = context.Background()
		recorder = &pageRecorder{}
		upstream = &upstreamRegistry{
			pages: map[string][]any{
				"": {
					upstreamEntry("io.github.acme/weather", "1.0.0", false),
					upstreamEntry("io.github.acme/weather", "1.1.0", true),
				},
				"c2": {
					upstreamEntry("io.github.acme/files", "0.3.0", true),
					upstreamEntry("io.github.other/notes", "2.0.0", true),
				},
			},
			next: map[string]string{"": "c2"},
		}
	})

	Describe("full walk", func() {
		It("follows cursors until the listing ends", func() {
			fetcher = newFetcher(sources.WithPageSize(2))

			result, err := fetcher.Fetch(ctx, &sources.FetchRequest{Mode: sources.ModeFull}, recorder.handle)
			Expect(err).NotTo(HaveOccurred())
			Expect(result.Complete).To(BeTrue())
			Expect(result.Truncated).To(BeFalse())
			Expect(result.Pages).To(Equal(2))
			Expect(result.Fetched).To(Equal(4))
			Expect(recorder.names()).To(Equal([]string{
				"io.github.acme/weather", "io.github.acme/weather",
				"io.github.acme/files", "io.github.other/notes",
			}))

			Expect(upstream.queries()).To(HaveLen(2))
			Expect(upstream.queries()[0].Get("limit")).To(Equal("2"))
			Expect(upstream.queries()[0].Has("cursor")).To(BeFalse())
			Expect(upstream.queries()[1].Get("cursor")).To(Equal("c2"))
			Expect(upstream.queries()[0].Has("updated_since")).To(BeFalse())
		})

		It("reports the next cursor on every intermediate page", func() {
			fetcher = newFetcher()

			_, err := fetcher.Fetch(ctx, &sources.FetchRequest{Mode: sources.ModeFull}, recorder.handle)
			Expect(err).NotTo(HaveOccurred())
			Expect(recorder.pages).To(HaveLen(2))
			Expect(recorder.pages[0].Next).To(Equal(sources.Position{Cursor: "c2"}))
			Expect(recorder.pages[0].Last).To(BeFalse())
			Expect(recorder.pages[1].Last).To(BeTrue())
		})

		It("ignores the since timestamp", func() {
			fetcher = newFetcher()
			since := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)

			_, err := fetcher.Fetch(ctx, &sources.FetchRequest{Mode: sources.ModeFull, Since: &since}, recorder.handle)
			Expect(err).NotTo(HaveOccurred())
			Expect(upstream.queries()[0].Has("updated_since")).To(BeFalse())
		})
	})

	Describe("incremental walk", func() {
		It("sends updated_since on every request", func() {
			fetcher = newFetcher()
			since := time.Date(2025, 6, 1, 12, 30, 0, 0, time.FixedZone("CEST", 2*60*60))

			_, err := fetcher.Fetch(ctx, &sources.FetchRequest{Mode: sources.ModeIncremental, Since: &since}, recorder.handle)
			Expect(err).NotTo(HaveOccurred())
			Expect(upstream.queries()).To(HaveLen(2))
			for _, q := range upstream.queries() {
				Expect(q.Get("updated_since")).To(Equal("2025-06-01T10:30:00Z"))
			}
		})
	})

	Describe("limit", func() {
		It("stops mid-page and remembers how much of the page was consumed", func() {
			fetcher = newFetcher()

			result, err := fetcher.Fetch(ctx, &sources.FetchRequest{Mode: sources.ModeFull, Limit: 3}, recorder.handle)
			Expect(err).NotTo(HaveOccurred())
			Expect(result.Fetched).To(Equal(3))
			Expect(result.Truncated).To(BeTrue())
			Expect(result.Complete).To(BeFalse())
			Expect(result.Next).To(Equal(sources.Position{Cursor: "c2", Offset: 1}))
		})

		It("stops on a page boundary with the next cursor", func() {
			fetcher = newFetcher()

			result, err := fetcher.Fetch(ctx, &sources.FetchRequest{Mode: sources.ModeFull, Limit: 2}, recorder.handle)
			Expect(err).NotTo(HaveOccurred())
			Expect(result.Truncated).To(BeTrue())
			Expect(result.Next).To(Equal(sources.Position{Cursor: "c2"}))
			Expect(upstream.queries()).To(HaveLen(1))
		})
	})

	Describe("resume", func() {
		It("continues from the saved cursor and offset", func() {
			fetcher = newFetcher()

			result, err := fetcher.Fetch(ctx, &sources.FetchRequest{
				Mode:  sources.ModeResume,
				Start: sources.Position{Cursor: "c2", Offset: 1},
			}, recorder.handle)
			Expect(err).NotTo(HaveOccurred())
			Expect(result.Complete).To(BeTrue())
			Expect(recorder.names()).To(Equal([]string{"io.github.other/notes"}))
			Expect(upstream.queries()).To(HaveLen(1))
			Expect(upstream.queries()[0].Get("cursor")).To(Equal("c2"))
		})

		It("keeps the incremental filter of the interrupted run", func() {
			fetcher = newFetcher()
			since := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

			_, err := fetcher.Fetch(ctx, &sources.FetchRequest{
				Mode:  sources.ModeResume,
				Since: &since,
				Start: sources.Position{Cursor: "c2"},
			}, recorder.handle)
			Expect(err).NotTo(HaveOccurred())
			Expect(upstream.queries()[0].Get("updated_since")).To(Equal("2025-01-01T00:00:00Z"))
		})
	})

	Describe("decoding", func() {
		It("maps official metadata onto the record", func() {
			upstream.pages[""] = []any{
				map[string]any{
					"server": map[string]any{
						"name":        "io.github.acme/weather",
						"version":     "1.1.0",
						"title":       "Acme Weather",
						"description": "Forecasts",
						"repository":  map[string]any{"url": "https://github.com/acme/weather", "source": "github"},
						"icons":       []any{map[string]any{"src": "https://acme.dev/icon.png"}},
						"remotes": []any{
							map[string]any{
								"type": "streamable-http",
								"url":  "https://weather.acme.dev/mcp",
								"headers": []any{
									map[string]any{"name": "X-Api-Key", "isSecret": true},
								},
							},
							map[string]any{"type": "sse"},
						},
						"packages": []any{
							map[string]any{
								"registryType": "npm",
								"identifier":   "@acme/weather",
								"version":      "1.1.0",
								"transport":    map[string]any{"type": "stdio"},
							},
						},
					},
					"_meta": map[string]any{
						"io.modelcontextprotocol.registry/official": map[string]any{
							"status":      "deprecated",
							"publishedAt": "2025-05-01T10:00:00Z",
						},
					},
				},
			}
			delete(upstream.next, "")
			fixed := time.Date(2025, 7, 1, 0, 0, 0, 0, time.UTC)
			fetcher = newFetcher(sources.WithClock(func() time.Time { return fixed }))

			_, err := fetcher.Fetch(ctx, &sources.FetchRequest{Mode: sources.ModeFull}, recorder.handle)
			Expect(err).NotTo(HaveOccurred())
			Expect(recorder.pages).To(HaveLen(1))
			Expect(recorder.pages[0].Records).To(HaveLen(1))

			rec := recorder.pages[0].Records[0]
			Expect(rec.SourceID).To(Equal("official"))
			Expect(rec.Key()).To(Equal("io.github.acme/weather:1.1.0"))
			Expect(rec.DisplayName).To(Equal("Acme Weather"))
			Expect(rec.RepositoryURL).To(Equal("https://github.com/acme/weather"))
			Expect(rec.IconURL).To(Equal("https://acme.dev/icon.png"))
			Expect(rec.Publication).To(Equal(registry.PublicationDeprecated))
			Expect(rec.Status).To(Equal("deprecated"))
			Expect(rec.PublishedAt).NotTo(BeNil())
			Expect(*rec.PublishedAt).To(Equal(time.Date(2025, 5, 1, 10, 0, 0, 0, time.UTC)))
			Expect(rec.UpdatedAt).To(BeNil())
			Expect(rec.FetchedAt).To(Equal(fixed))
			Expect(rec.Embedded).To(BeNil())
			Expect(rec.Raw).NotTo(BeEmpty())

			Expect(rec.Endpoints).To(HaveLen(1))
			Expect(rec.Endpoints[0].URL).To(Equal("https://weather.acme.dev/mcp"))
			Expect(rec.Endpoints[0].Headers).To(ConsistOf(registry.Header{Name: "X-Api-Key", IsSecret: true}))
			Expect(rec.Packages).To(ConsistOf(registry.PackageRef{
				RegistryType: "npm",
				Identifier:   "@acme/weather",
				Version:      "1.1.0",
				Transport:    "stdio",
			}))
		})

		It("flags the latest version and falls back to the name for display", func() {
			fetcher = newFetcher()

			_, err := fetcher.Fetch(ctx, &sources.FetchRequest{Mode: sources.ModeFull, Limit: 2}, recorder.handle)
			Expect(err).NotTo(HaveOccurred())
			records := recorder.pages[0].Records
			Expect(records[0].Publication).To(Equal(registry.PublicationUnknown))
			Expect(records[1].Publication).To(Equal(registry.PublicationLatest))
			Expect(records[1].DisplayName).To(Equal("io.github.acme/weather"))
		})

		It("skips entries that cannot be decoded", func() {
			upstream.pages[""] = []any{
				"not an object",
				map[string]any{"server": map[string]any{"description": "no name"}},
				upstreamEntry("weather", "1.0.0", true),
				upstreamEntry("io.github.acme/weather", "1.0.0", true),
			}
			delete(upstream.next, "")
			fetcher = newFetcher()

			result, err := fetcher.Fetch(ctx, &sources.FetchRequest{Mode: sources.ModeFull}, recorder.handle)
			Expect(err).NotTo(HaveOccurred())
			Expect(result.Fetched).To(Equal(1))
			Expect(result.Skipped).To(Equal(3))
			Expect(result.Complete).To(BeTrue())
		})
	})

	Describe("name filter", func() {
		It("drops filtered records without counting them as skipped", func() {
			filter, err := filtering.NewNameFilter([]string{"io.github.acme/*"}, []string{"*files*"})
			Expect(err).NotTo(HaveOccurred())
			fetcher = newFetcher(sources.WithNameFilter(filter))

			result, err := fetcher.Fetch(ctx, &sources.FetchRequest{Mode: sources.ModeFull}, recorder.handle)
			Expect(err).NotTo(HaveOccurred())
			Expect(result.Fetched).To(Equal(2))
			Expect(result.Filtered).To(Equal(2))
			Expect(result.Skipped).To(BeZero())
			Expect(recorder.names()).To(Equal([]string{"io.github.acme/weather", "io.github.acme/weather"}))
		})
	})

	Describe("failures", func() {
		It("returns the pages handled before a failing request", func() {
			upstream.next[""] = "missing"
			fetcher = newFetcher()

			result, err := fetcher.Fetch(ctx, &sources.FetchRequest{Mode: sources.ModeFull}, recorder.handle)
			Expect(err).To(HaveOccurred())
			Expect(err.Error()).To(ContainSubstring("failed to list servers of source 'official'"))
			Expect(result.Pages).To(Equal(1))
			Expect(result.Fetched).To(Equal(2))
			Expect(result.Next).To(Equal(sources.Position{Cursor: "missing"}))
		})

		It("stops when the page handler fails", func() {
			fetcher = newFetcher()
			boom := errors.New("disk full")

			result, err := fetcher.Fetch(ctx, &sources.FetchRequest{Mode: sources.ModeFull},
				func(context.Context, *sources.Page) error { return boom })
			Expect(err).To(MatchError(boom))
			Expect(result.Pages).To(BeZero())
			Expect(upstream.queries()).To(HaveLen(1))
		})

		It("rejects a response that is not a listing", func() {
			server := newTestServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				_, _ = fmt.Fprint(w, `{"servers": "nope"}`)
			}))
			fetcher = sources.NewUpstreamFetcher("official", server.URL, newSingleShotClient())

			_, err := fetcher.Fetch(ctx, &sources.FetchRequest{Mode: sources.ModeFull}, recorder.handle)
			Expect(err).To(HaveOccurred())
			Expect(err.Error()).To(ContainSubstring("failed to decode server list"))
		})
	})

	It("reports its source name", func() {
		fetcher = newFetcher()
		Expect(fetcher.Source()).To(Equal("official"))
	})
})
