package integration

import (
	"os"
	"path/filepath"
	"regexp"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	aggapp "github.com/stacklok/toolhive-registry-aggregator/internal/app"
	appstorage "github.com/stacklok/toolhive-registry-aggregator/internal/app/storage"
	"github.com/stacklok/toolhive-registry-aggregator/internal/config"
	"github.com/stacklok/toolhive-registry-aggregator/internal/export"
	"github.com/stacklok/toolhive-registry-aggregator/internal/introspection"
	"github.com/stacklok/toolhive-registry-aggregator/internal/pipeline"
	pkgsync "github.com/stacklok/toolhive-registry-aggregator/internal/sync"
	"github.com/stacklok/toolhive-registry-aggregator/test-integration/aggregator/helpers"
)

var generatedAt = regexp.MustCompile(`"generated_at": "[^"]*"`)

var _ = Describe("Re-running the pipeline over unchanged registries", Label("aggregator", "idempotence"), func() {
	var (
		tempDir string
		weather *helpers.MCPServer
		notes   *helpers.MCPServer
		run     func() map[string][]byte
	)

	BeforeEach(func() {
		tempDir = createTempDir("aggregator-idempotence-")
		weather = helpers.NewMCPServer("forecast", "alerts")
		notes = helpers.NewMCPServer("take_note")
		DeferCleanup(weather.Close)
		DeferCleanup(notes.Close)

		official := helpers.NewUpstreamRegistry(1,
			helpers.UpstreamServer{
				Name:       "io.github.acme/weather",
				Version:    "1.2.0",
				Repository: "https://github.com/acme/weather",
				RemoteURL:  weather.URL,
				IsLatest:   true,
			},
			helpers.UpstreamServer{Name: "io.github.acme/files", Version: "0.3.0", NpmPackage: "@acme/files"},
			helpers.UpstreamServer{Name: "io.github.acme/files", Version: "0.4.0", NpmPackage: "@acme/files"},
		)
		DeferCleanup(official.Close)
		smithery := helpers.NewSmitheryRegistry(
			helpers.SmitheryServer{
				QualifiedName: "io.github.acme/weather-mcp",
				DisplayName:   "Weather",
				UseCount:      120,
				Tools:         []string{"forecast"},
			},
			helpers.SmitheryServer{QualifiedName: "acme/notes", DisplayName: "Notes", DeploymentURL: notes.URL},
		)
		DeferCleanup(smithery.Close)

		configPath := helpers.WriteConfigYAML(tempDir,
			helpers.SourceOptions{Name: "official", Format: "upstream", Endpoint: official.URL + "/v0", Priority: 1},
			helpers.SourceOptions{Name: "smithery", Format: "smithery", Endpoint: smithery.URL, Priority: 2},
		)
		cfg, err := config.LoadConfig(config.WithConfigPath(configPath))
		Expect(err).NotTo(HaveOccurred())

		components, err := aggapp.NewComponents(ctx, aggapp.WithConfig(cfg))
		Expect(err).NotTo(HaveOccurred())

		exportDir := filepath.Join(cfg.GetDataDir(), appstorage.ExportDir)
		run = func() map[string][]byte {
			_, err := components.Pipeline.Run(ctx, &pipeline.Options{
				Sync:          pkgsync.Request{Mode: pkgsync.RunModeFull},
				Introspection: introspection.RunOptions{Force: true},
			})
			Expect(err).NotTo(HaveOccurred())

			out := make(map[string][]byte)
			for _, name := range []string{export.SnapshotFile, export.IndexFile, export.WithToolsFile} {
				data, err := os.ReadFile(filepath.Join(exportDir, name))
				Expect(err).NotTo(HaveOccurred())
				out[name] = generatedAt.ReplaceAll(data, []byte(`"generated_at": ""`))
			}
			return out
		}
	})

	AfterEach(func() {
		cleanupTempDir(tempDir)
	})

	It("exports byte-identical files apart from the generation time", func() {
		first := run()
		second := run()

		Expect(first[export.SnapshotFile]).To(ContainSubstring(`"total_count": 3`))
		for name, data := range first {
			Expect(string(second[name])).To(Equal(string(data)), "%s changed between runs", name)
		}
	})
})
