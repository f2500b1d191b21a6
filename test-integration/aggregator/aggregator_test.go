package integration

import (
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/stacklok/toolhive-registry-aggregator/internal/pipeline"
	"github.com/stacklok/toolhive-registry-aggregator/test-integration/aggregator/helpers"
)

type serverPage struct {
	Servers []map[string]any `json:"servers"`
	Count   int              `json:"count"`
}

func names(page serverPage) []string {
	out := make([]string, 0, len(page.Servers))
	for _, s := range page.Servers {
		out = append(out, s["name"].(string))
	}
	return out
}

var _ = Describe("Aggregating two registries", Label("aggregator"), func() {
	var (
		tempDir    string
		weather    *helpers.MCPServer
		notes      *helpers.MCPServer
		serverHelp *helpers.ServerTestHelper
	)

	startAggregator := func(official helpers.SourceOptions) {
		smithery := helpers.NewSmitheryRegistry(
			helpers.SmitheryServer{
				QualifiedName: "io.github.acme/weather-mcp",
				DisplayName:   "Weather",
				Description:   "Weather from Smithery",
				UseCount:      120,
				Tools:         []string{"forecast"},
			},
			helpers.SmitheryServer{
				QualifiedName: "acme/notes",
				DisplayName:   "Notes",
				Description:   "Keeps notes",
				DeploymentURL: notes.URL,
			},
		)
		DeferCleanup(smithery.Close)

		configPath := helpers.WriteConfigYAML(tempDir,
			official,
			helpers.SourceOptions{Name: "smithery", Format: "smithery", Endpoint: smithery.URL, Priority: 2},
		)
		serverHelp = helpers.NewServerTestHelper(ctx, configPath)
		Expect(serverHelp.StartServer(pipeline.Options{})).To(Succeed())
		serverHelp.WaitForServerReady(10 * time.Second)
	}

	officialRegistry := func() string {
		registry := helpers.NewUpstreamRegistry(1,
			helpers.UpstreamServer{
				Name:        "io.github.acme/weather",
				Version:     "1.2.0",
				Description: "Forecasts and alerts",
				Repository:  "https://github.com/acme/weather",
				RemoteURL:   weather.URL,
				IsLatest:    true,
			},
			helpers.UpstreamServer{
				Name:        "io.github.acme/files",
				Version:     "0.3.0",
				Description: "Local files",
				NpmPackage:  "@acme/files",
				IsLatest:    true,
			},
		)
		DeferCleanup(registry.Close)
		return registry.URL + "/v0"
	}

	BeforeEach(func() {
		tempDir = createTempDir("aggregator-integration-")
		weather = helpers.NewMCPServer("forecast", "alerts")
		notes = helpers.NewMCPServer("take_note")
	})

	AfterEach(func() {
		if serverHelp != nil {
			Expect(serverHelp.StopServer()).To(Succeed())
		}
		weather.Close()
		notes.Close()
		cleanupTempDir(tempDir)
	})

	Context("with every record admitted", func() {
		BeforeEach(func() {
			startAggregator(helpers.SourceOptions{
				Name: "official", Format: "upstream", Endpoint: officialRegistry(), Priority: 1,
			})
		})

		It("serves one record per logical server", func() {
			info := serverHelp.WaitForSnapshot(3, 30*time.Second)
			Expect(info["with_tools"]).To(BeNumerically("==", 2))
			Expect(info["total_tools"]).To(BeNumerically("==", 3))
			Expect(info["duplicates_resolved"]).To(BeNumerically("==", 1))

			introspection := info["introspection"].(map[string]any)
			Expect(introspection["succeeded"]).To(BeNumerically("==", 2))
			Expect(introspection["skipped"]).To(BeNumerically("==", 1))
			Expect(weather.Calls()).To(BeNumerically(">", 0))
			Expect(notes.Calls()).To(BeNumerically(">", 0))
		})

		It("prefers the record with more capabilities and keeps every contributor", func() {
			serverHelp.WaitForSnapshot(3, 30*time.Second)

			var page serverPage
			status, err := serverHelp.GetJSON("/v0/servers?search=forecast", &page)
			Expect(err).NotTo(HaveOccurred())
			Expect(status).To(Equal(http.StatusOK))
			Expect(page.Count).To(Equal(1))

			rec := page.Servers[0]
			Expect(rec["name"]).To(Equal("io.github.acme/weather"))
			Expect(rec["primary_source"]).To(Equal("official"))
			Expect(rec["contributing_sources"]).To(ConsistOf("official", "smithery"))
			Expect(rec["tool_count"]).To(BeNumerically("==", 2))

			var detail map[string]any
			status, err = serverHelp.GetJSON("/v0/servers/"+url.PathEscape(rec["id"].(string)), &detail)
			Expect(err).NotTo(HaveOccurred())
			Expect(status).To(Equal(http.StatusOK))
			Expect(detail["description"]).To(Equal("Forecasts and alerts"))
		})

		It("filters listings by tools and source", func() {
			serverHelp.WaitForSnapshot(3, 30*time.Second)

			var withTools serverPage
			_, err := serverHelp.GetJSON("/v0/servers?has_tools=true", &withTools)
			Expect(err).NotTo(HaveOccurred())
			Expect(names(withTools)).To(ConsistOf("io.github.acme/weather", "acme/notes"))

			var fromSmithery serverPage
			_, err = serverHelp.GetJSON("/v0/servers?source=smithery", &fromSmithery)
			Expect(err).NotTo(HaveOccurred())
			Expect(names(fromSmithery)).To(ConsistOf("io.github.acme/weather", "acme/notes"))

			var paged serverPage
			_, err = serverHelp.GetJSON("/v0/servers?limit=2", &paged)
			Expect(err).NotTo(HaveOccurred())
			Expect(paged.Count).To(Equal(2))
		})

		It("reports sync progress per source", func() {
			serverHelp.WaitForSnapshot(3, 30*time.Second)

			var body struct {
				Sources []map[string]any `json:"sources"`
			}
			_, err := serverHelp.GetJSON("/v0/sources", &body)
			Expect(err).NotTo(HaveOccurred())
			Expect(body.Sources).To(HaveLen(2))
			for _, src := range body.Sources {
				Expect(src["phase"]).To(Equal("Complete"))
				Expect(src["total_records"]).To(BeNumerically("==", 2))
			}
		})

		It("exports the snapshot to the data directory", func() {
			serverHelp.WaitForSnapshot(3, 30*time.Second)

			for _, name := range []string{"snapshot.json", "index.json", "servers_with_tools.json"} {
				_, err := os.Stat(filepath.Join(tempDir, "data", "unified", name))
				Expect(err).NotTo(HaveOccurred(), name)
			}
		})

		It("returns 404 for unknown servers", func() {
			serverHelp.WaitForSnapshot(3, 30*time.Second)

			var body map[string]any
			status, err := serverHelp.GetJSON("/v0/servers/does-not-exist", &body)
			Expect(err).NotTo(HaveOccurred())
			Expect(status).To(Equal(http.StatusNotFound))
		})
	})

	Context("with a name filter on the official source", func() {
		BeforeEach(func() {
			startAggregator(helpers.SourceOptions{
				Name: "official", Format: "upstream", Endpoint: officialRegistry(), Priority: 1,
				Exclude: []string{"*files*"},
			})
		})

		It("never stores the filtered records", func() {
			info := serverHelp.WaitForSnapshot(2, 30*time.Second)

			sources := info["sources"].(map[string]any)
			official := sources["official"].(map[string]any)
			Expect(official["total"]).To(BeNumerically("==", 1))
		})
	})
})
