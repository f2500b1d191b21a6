package sources_test

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/stacklok/toolhive-registry-aggregator/internal/config"
	"github.com/stacklok/toolhive-registry-aggregator/internal/httpclient"
	"github.com/stacklok/toolhive-registry-aggregator/internal/sources"
)

var _ = Describe("FetcherFactory", func() {
	var factory sources.FetcherFactory

	BeforeEach(func() {
		factory = sources.NewFetcherFactory(httpclient.WithRetryPolicy(httpclient.RetryPolicy{MaxAttempts: 1}))
	})

	It("rejects a nil source", func() {
		_, err := factory.CreateFetcher(nil)
		Expect(err).To(MatchError(ContainSubstring("cannot be nil")))
	})

	It("rejects an unknown format", func() {
		_, err := factory.CreateFetcher(&config.SourceConfig{Name: "x", Format: "toolhive", Endpoint: "https://example.com"})
		Expect(err).To(MatchError(ContainSubstring("unsupported source format")))
	})

	It("rejects an invalid name filter", func() {
		_, err := factory.CreateFetcher(&config.SourceConfig{
			Name:     "official",
			Format:   config.SourceFormatUpstream,
			Endpoint: "https://example.com",
			Filter:   &config.NameFilterConfig{Include: []string{"[unclosed"}},
		})
		Expect(err).To(MatchError(ContainSubstring("invalid filter for source 'official'")))
	})

	DescribeTable("creates a fetcher for each format",
		func(format string) {
			fetcher, err := factory.CreateFetcher(&config.SourceConfig{
				Name:     "src",
				Format:   format,
				Endpoint: "https://example.com",
			})
			Expect(err).NotTo(HaveOccurred())
			Expect(fetcher.Source()).To(Equal("src"))
		},
		Entry("upstream", config.SourceFormatUpstream),
		Entry("smithery", config.SourceFormatSmithery),
	)

	It("authenticates requests with the configured token and applies the filter", func() {
		var (
			mu    sync.Mutex
			auths []string
		)
		server := newTestServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			mu.Lock()
			auths = append(auths, r.Header.Get("Authorization"))
			mu.Unlock()
			_ = json.NewEncoder(w).Encode(map[string]any{
				"servers": []any{
					map[string]any{"server": map[string]any{"name": "keep/me", "version": "1.0.0"}},
					map[string]any{"server": map[string]any{"name": "drop/me", "version": "1.0.0"}},
				},
				"metadata": map[string]any{},
			})
		}))

		GinkgoT().Setenv("AGGR_FACTORY_TEST_TOKEN", "s3cret")
		fetcher, err := factory.CreateFetcher(&config.SourceConfig{
			Name:      "official",
			Format:    config.SourceFormatUpstream,
			Endpoint:  server.URL,
			PageDelay: "0s",
			Auth:      &config.AuthConfig{TokenEnv: []string{"AGGR_FACTORY_TEST_TOKEN"}},
			Filter:    &config.NameFilterConfig{Exclude: []string{"drop/*"}},
		})
		Expect(err).NotTo(HaveOccurred())

		recorder := &pageRecorder{}
		result, err := fetcher.Fetch(context.Background(), &sources.FetchRequest{Mode: sources.ModeFull}, recorder.handle)
		Expect(err).NotTo(HaveOccurred())
		Expect(recorder.names()).To(Equal([]string{"keep/me"}))
		Expect(result.Filtered).To(Equal(1))

		mu.Lock()
		defer mu.Unlock()
		Expect(auths).To(Equal([]string{"Bearer s3cret"}))
	})
})
