package helpers

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync/atomic"
)

// UpstreamServer is one entry of a fake upstream registry listing
type UpstreamServer struct {
	Name        string
	Version     string
	Description string
	Repository  string
	RemoteURL   string
	NpmPackage  string
	IsLatest    bool
}

func (s UpstreamServer) toJSON() map[string]any {
	server := map[string]any{
		"name":        s.Name,
		"version":     s.Version,
		"description": s.Description,
	}
	if s.Repository != "" {
		server["repository"] = map[string]any{"url": s.Repository, "source": "github"}
	}
	if s.RemoteURL != "" {
		server["remotes"] = []any{map[string]any{"type": "streamable-http", "url": s.RemoteURL}}
	}
	if s.NpmPackage != "" {
		server["packages"] = []any{map[string]any{
			"registryType": "npm",
			"identifier":   s.NpmPackage,
			"version":      s.Version,
			"transport":    map[string]any{"type": "stdio"},
		}}
	}
	return map[string]any{
		"server": server,
		"_meta": map[string]any{
			"io.modelcontextprotocol.registry/official": map[string]any{
				"status":   "active",
				"isLatest": s.IsLatest,
			},
		},
	}
}

// NewUpstreamRegistry serves the servers under /v0/servers, pageSize entries
// per cursor page. The cursor is the offset of the next page.
func NewUpstreamRegistry(pageSize int, servers ...UpstreamServer) *httptest.Server {
	return newServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v0/servers" {
			http.NotFound(w, r)
			return
		}
		start, _ := strconv.Atoi(r.URL.Query().Get("cursor"))
		end := min(start+pageSize, len(servers))

		entries := make([]any, 0, end-start)
		for _, s := range servers[start:end] {
			entries = append(entries, s.toJSON())
		}
		next := ""
		if end < len(servers) {
			next = strconv.Itoa(end)
		}
		writeJSON(w, map[string]any{
			"servers":  entries,
			"metadata": map[string]any{"nextCursor": next, "count": len(entries)},
		})
	}))
}

// SmitheryServer is one entry of a fake Smithery registry
type SmitheryServer struct {
	QualifiedName string
	DisplayName   string
	Description   string
	UseCount      int64
	Verified      bool
	DeploymentURL string

	// Tools are embedded in the detail response; nil leaves them unknown
	Tools []string
}

// NewSmitheryRegistry serves every server on a single page plus one detail
// document per server
func NewSmitheryRegistry(servers ...SmitheryServer) *httptest.Server {
	byName := make(map[string]SmitheryServer, len(servers))
	for _, s := range servers {
		byName[s.QualifiedName] = s
	}

	return newServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/servers" {
			page, _ := strconv.Atoi(r.URL.Query().Get("page"))
			items := []any{}
			if page <= 1 {
				for _, s := range servers {
					items = append(items, map[string]any{
						"qualifiedName": s.QualifiedName,
						"displayName":   s.DisplayName,
						"description":   s.Description,
						"useCount":      s.UseCount,
						"verified":      s.Verified,
						"remote":        s.DeploymentURL != "",
					})
				}
			}
			writeJSON(w, map[string]any{
				"servers": items,
				"pagination": map[string]any{
					"currentPage": page,
					"pageSize":    len(items),
					"totalPages":  1,
					"totalCount":  len(servers),
				},
			})
			return
		}

		s, ok := byName[strings.TrimPrefix(r.URL.Path, "/servers/")]
		if !ok {
			http.NotFound(w, r)
			return
		}
		detail := map[string]any{
			"qualifiedName": s.QualifiedName,
			"displayName":   s.DisplayName,
			"description":   s.Description,
			"deploymentUrl": s.DeploymentURL,
		}
		if s.DeploymentURL != "" {
			detail["connections"] = []any{map[string]any{"type": "http", "deploymentUrl": s.DeploymentURL}}
		}
		if s.Tools != nil {
			tools := make([]any, 0, len(s.Tools))
			for _, name := range s.Tools {
				tools = append(tools, map[string]any{"name": name})
			}
			detail["tools"] = tools
		}
		writeJSON(w, detail)
	}))
}

// MCPServer is a fake MCP endpoint answering the three list methods
type MCPServer struct {
	*httptest.Server
	calls atomic.Int32
}

// Calls returns how many JSON-RPC requests the server received
func (m *MCPServer) Calls() int {
	return int(m.calls.Load())
}

// NewMCPServer answers tools/list with the given tools and the other lists empty
func NewMCPServer(tools ...string) *MCPServer {
	m := &MCPServer{}
	m.Server = newServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		m.calls.Add(1)
		body, _ := io.ReadAll(r.Body)
		var req struct {
			ID     any    `json:"id"`
			Method string `json:"method"`
		}
		if err := json.Unmarshal(body, &req); err != nil {
			http.Error(w, "bad request", http.StatusBadRequest)
			return
		}

		result := map[string]any{}
		switch req.Method {
		case "tools/list":
			list := make([]any, 0, len(tools))
			for _, name := range tools {
				list = append(list, map[string]any{"name": name, "description": "does " + name})
			}
			result["tools"] = list
		case "prompts/list":
			result["prompts"] = []any{}
		case "resources/list":
			result["resources"] = []any{}
		}
		writeJSON(w, map[string]any{"jsonrpc": "2.0", "id": req.ID, "result": result})
	}))
	return m
}

func newServer(h http.Handler) *httptest.Server {
	srv := httptest.NewUnstartedServer(h)
	srv.Config.SetKeepAlivesEnabled(false)
	srv.Start()
	return srv
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}
