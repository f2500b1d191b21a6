package helpers

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/onsi/gomega"

	aggapp "github.com/stacklok/toolhive-registry-aggregator/internal/app"
	"github.com/stacklok/toolhive-registry-aggregator/internal/config"
	"github.com/stacklok/toolhive-registry-aggregator/internal/pipeline"
)

// ServerTestHelper runs the aggregator with its refresh coordinator and read API
type ServerTestHelper struct {
	ctx        context.Context
	configPath string
	baseURL    string
	address    string
	httpClient *http.Client
	app        *aggapp.RegistryApp
}

// NewServerTestHelper creates a helper listening on a free local port
func NewServerTestHelper(ctx context.Context, configPath string) *ServerTestHelper {
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	gomega.Expect(err).NotTo(gomega.HaveOccurred())
	address := listener.Addr().String()
	gomega.Expect(listener.Close()).To(gomega.Succeed())

	return &ServerTestHelper{
		ctx:        ctx,
		configPath: configPath,
		address:    address,
		baseURL:    "http://" + address,
		httpClient: &http.Client{
			Timeout:   10 * time.Second,
			Transport: &http.Transport{DisableKeepAlives: true},
		},
	}
}

// StartServer builds the application and runs the pipeline once on start
func (s *ServerTestHelper) StartServer(opts pipeline.Options) error {
	cfg, err := config.LoadConfig(config.WithConfigPath(s.configPath))
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	app, err := aggapp.NewRegistryApp(s.ctx,
		aggapp.WithConfig(cfg),
		aggapp.WithAddress(s.address),
		aggapp.WithRefresh(time.Hour, opts, true),
		aggapp.WithCacheDuration(10*time.Millisecond),
	)
	if err != nil {
		return fmt.Errorf("failed to build app: %w", err)
	}
	s.app = app

	go func() {
		if err := app.Start(); err != nil {
			fmt.Fprintf(os.Stderr, "Server start failed: %v\n", err)
		}
	}()
	return nil
}

// StopServer gracefully stops the application
func (s *ServerTestHelper) StopServer() error {
	if s.app != nil {
		return s.app.Stop(5 * time.Second)
	}
	return nil
}

// WaitForServerReady waits until /health answers
func (s *ServerTestHelper) WaitForServerReady(timeout time.Duration) {
	gomega.Eventually(func() error {
		resp, err := s.httpClient.Get(s.baseURL + "/health")
		if err != nil {
			return err
		}
		defer func() {
			_ = resp.Body.Close()
		}()
		if resp.StatusCode != http.StatusOK {
			return fmt.Errorf("server returned status %d", resp.StatusCode)
		}
		return nil
	}, timeout, 100*time.Millisecond).Should(gomega.Succeed(), "Server should be ready")
}

// WaitForSnapshot waits until the served snapshot holds total servers
func (s *ServerTestHelper) WaitForSnapshot(total int, timeout time.Duration) map[string]any {
	var info map[string]any
	gomega.Eventually(func() (float64, error) {
		status, err := s.GetJSON("/v0/info", &info)
		if err != nil {
			return -1, err
		}
		if status != http.StatusOK {
			return -1, fmt.Errorf("info returned status %d", status)
		}
		count, _ := info["total_count"].(float64)
		return count, nil
	}, timeout, 100*time.Millisecond).Should(gomega.BeNumerically("==", total))
	return info
}

// GetJSON decodes the response body of a GET into out and returns the status
func (s *ServerTestHelper) GetJSON(path string, out any) (int, error) {
	resp, err := s.httpClient.Get(s.baseURL + path)
	if err != nil {
		return 0, err
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return resp.StatusCode, fmt.Errorf("failed to decode %s: %w", path, err)
	}
	return resp.StatusCode, nil
}

// GetBaseURL returns the base URL of the server
func (s *ServerTestHelper) GetBaseURL() string {
	return s.baseURL
}

// SourceOptions describes one source of a generated configuration
type SourceOptions struct {
	Name     string
	Format   string
	Endpoint string
	Priority int
	Include  []string
	Exclude  []string
}

// WriteConfigYAML writes a configuration file for the sources into dir
func WriteConfigYAML(dir string, srcs ...SourceOptions) string {
	var b strings.Builder
	fmt.Fprintf(&b, "dataDir: %s\n", filepath.Join(dir, "data"))
	b.WriteString("retry:\n  maxAttempts: 1\n  baseDelay: 10ms\n")
	b.WriteString("introspection:\n  concurrency: 2\n  timeout: 5s\n")
	b.WriteString("sources:\n")
	for _, src := range srcs {
		fmt.Fprintf(&b, "  - name: %s\n    format: %s\n    endpoint: %s\n    pageDelay: 1ms\n",
			src.Name, src.Format, src.Endpoint)
		if src.Priority != 0 {
			fmt.Fprintf(&b, "    priority: %d\n", src.Priority)
		}
		if len(src.Include) > 0 || len(src.Exclude) > 0 {
			b.WriteString("    filter:\n")
			writePatterns(&b, "include", src.Include)
			writePatterns(&b, "exclude", src.Exclude)
		}
	}

	configPath := filepath.Join(dir, "config.yaml")
	err := os.WriteFile(configPath, []byte(b.String()), 0600)
	gomega.Expect(err).NotTo(gomega.HaveOccurred())
	return configPath
}

func writePatterns(b *strings.Builder, key string, patterns []string) {
	if len(patterns) == 0 {
		return
	}
	fmt.Fprintf(b, "      %s:\n", key)
	for _, p := range patterns {
		fmt.Fprintf(b, "        - %q\n", p)
	}
}
