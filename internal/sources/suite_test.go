package sources_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/stacklok/toolhive-registry-aggregator/internal/httpclient"
	"github.com/stacklok/toolhive-registry-aggregator/internal/sources"
)

func TestSources(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Sources Suite")
}

// newTestServer starts a server with keep-alives disabled so cancelled
// requests are observed by the handler immediately
func newTestServer(handler http.Handler) *httptest.Server {
	server := httptest.NewUnstartedServer(handler)
	server.Config.SetKeepAlivesEnabled(false)
	server.Start()
	DeferCleanup(server.Close)
	return server
}

// newSingleShotClient never retries so failures surface on the first request
func newSingleShotClient() httpclient.Client {
	return httpclient.New(httpclient.WithRetryPolicy(httpclient.RetryPolicy{
		MaxAttempts: 1,
		BaseDelay:   time.Millisecond,
	}))
}

// pageRecorder collects every page handed to a PageHandler
type pageRecorder struct {
	pages []*sources.Page
}

func (r *pageRecorder) handle(_ context.Context, page *sources.Page) error {
	r.pages = append(r.pages, page)
	return nil
}

func (r *pageRecorder) names() []string {
	var out []string
	for _, p := range r.pages {
		for _, rec := range p.Records {
			out = append(out, rec.NativeName)
		}
	}
	return out
}
