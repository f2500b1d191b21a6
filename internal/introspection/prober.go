package introspection

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/tidwall/gjson"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/stacklok/toolhive-registry-aggregator/internal/registry"
)

const (
	// DefaultQueryTimeout bounds every capability query
	DefaultQueryTimeout = 30 * time.Second

	// DefaultMaxErrorLength bounds the response body kept in a query error
	DefaultMaxErrorLength = 200

	// MaxReplySize is the largest reply body read from an endpoint (10MB)
	MaxReplySize = 10 * 1024 * 1024

	contentTypeJSON  = "application/json"
	contentTypeSSE   = "text/event-stream"
	acceptBothHeader = "application/json, text/event-stream"
	sseDataPrefix    = "data:"
)

// Query is one of the three capability list methods
type Query struct {
	// Method is the JSON-RPC method name
	Method string

	// ResultKey is the member of the result object holding the list
	ResultKey string
}

// Queries are issued against every endpoint in this order
var Queries = []Query{
	{Method: string(mcp.MethodToolsList), ResultKey: "tools"},
	{Method: string(mcp.MethodPromptsList), ResultKey: "prompts"},
	{Method: string(mcp.MethodResourcesList), ResultKey: "resources"},
}

// Prober issues a single capability query against one endpoint
//
//go:generate mockgen -destination=mocks/mock_prober.go -package=mocks -source=prober.go Prober
type Prober interface {
	// Query returns the capability list of one category. A reply without the
	// list yields an empty slice. Failures are reported as *QueryError.
	Query(ctx context.Context, ep registry.Endpoint, q Query) ([]registry.Capability, error)
}

// ProberOption configures the HTTP prober
type ProberOption func(*httpProber)

// WithQueryTimeout bounds each query independently of the batch
func WithQueryTimeout(timeout time.Duration) ProberOption {
	return func(p *httpProber) {
		if timeout > 0 {
			p.client.Timeout = timeout
		}
	}
}

// WithMaxErrorLength bounds how much of an error body is kept
func WithMaxErrorLength(n int) ProberOption {
	return func(p *httpProber) {
		if n > 0 {
			p.maxErrorLength = n
		}
	}
}

// WithMaxReplySize bounds how much of a reply body is read
func WithMaxReplySize(n int64) ProberOption {
	return func(p *httpProber) {
		if n > 0 {
			p.maxReplySize = n
		}
	}
}

// WithTransport sets the base round tripper (primarily for tests)
func WithTransport(rt http.RoundTripper) ProberOption {
	return func(p *httpProber) {
		if rt != nil {
			p.client.Transport = otelhttp.NewTransport(rt)
		}
	}
}

// httpProber speaks JSON-RPC over HTTP POST and accepts plain JSON or
// event-stream replies
type httpProber struct {
	client         *http.Client
	maxErrorLength int
	maxReplySize   int64
	nextID         atomic.Int64
}

var _ Prober = (*httpProber)(nil)

// NewHTTPProber creates a prober for streamable-http and sse endpoints
func NewHTTPProber(opts ...ProberOption) Prober {
	p := &httpProber{
		client: &http.Client{
			Timeout:   DefaultQueryTimeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
		maxErrorLength: DefaultMaxErrorLength,
		maxReplySize:   MaxReplySize,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// rpcRequest is the JSON-RPC 2.0 envelope of a list call
type rpcRequest struct {
	JSONRPC string         `json:"jsonrpc"`
	ID      mcp.RequestId  `json:"id"`
	Method  string         `json:"method"`
	Params  map[string]any `json:"params"`
}

// Query implements Prober
func (p *httpProber) Query(ctx context.Context, ep registry.Endpoint, q Query) ([]registry.Capability, error) {
	payload, err := json.Marshal(rpcRequest{
		JSONRPC: mcp.JSONRPC_VERSION,
		ID:      mcp.NewRequestId(p.nextID.Add(1)),
		Method:  q.Method,
		Params:  map[string]any{},
	})
	if err != nil {
		return nil, &QueryError{Kind: KindProtocol, Message: fmt.Sprintf("failed to encode request: %v", err)}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, ep.URL, bytes.NewReader(payload))
	if err != nil {
		return nil, &QueryError{Kind: KindProtocol, Message: fmt.Sprintf("invalid endpoint: %v", err)}
	}
	req.Header.Set("Content-Type", contentTypeJSON)
	req.Header.Set("Accept", acceptBothHeader)
	for _, h := range ep.Headers {
		if h.Forwardable() {
			req.Header.Set(h.Name, h.Value)
		}
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, &QueryError{Kind: KindNetwork, Message: err.Error()}
	}
	defer func() {
		// drain so the stream is read to its end before closing
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, p.maxReplySize))
		_ = resp.Body.Close()
	}()

	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, int64(p.maxErrorLength)))
		return nil, &QueryError{
			Kind:    KindHTTPStatus,
			Status:  resp.StatusCode,
			Message: strings.TrimSpace(string(snippet)),
		}
	}

	body := io.LimitReader(resp.Body, p.maxReplySize)
	var result gjson.Result
	if strings.Contains(resp.Header.Get("Content-Type"), contentTypeSSE) {
		result, err = scanEventStream(body, int(p.maxReplySize))
	} else {
		result, err = readJSONReply(body)
	}
	if err != nil {
		return nil, err
	}

	list := result.Get(q.ResultKey)
	if !list.Exists() || list.Type == gjson.Null {
		return []registry.Capability{}, nil
	}
	if !list.IsArray() {
		return nil, &QueryError{Kind: KindProtocol, Message: fmt.Sprintf("result.%s is not a list", q.ResultKey)}
	}
	return registry.ParseCapabilityList(list), nil
}

// readJSONReply extracts the result of a plain JSON reply
func readJSONReply(r io.Reader) (gjson.Result, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return gjson.Result{}, &QueryError{Kind: KindNetwork, Message: fmt.Sprintf("failed to read reply: %v", err)}
	}
	if !gjson.ValidBytes(data) {
		return gjson.Result{}, &QueryError{Kind: KindProtocol, Message: "reply is not valid JSON"}
	}
	return rpcResult(gjson.ParseBytes(data))
}

// scanEventStream reads data: lines until one carries a JSON-RPC result.
// Malformed lines and other messages are skipped; an error message is only
// reported when the stream ends without a result.
func scanEventStream(r io.Reader, maxLine int) (gjson.Result, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, min(64*1024, maxLine)), maxLine)

	var lastErr error
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, sseDataPrefix) {
			continue
		}
		data := strings.TrimSpace(strings.TrimPrefix(line, sseDataPrefix))
		if !gjson.Valid(data) {
			continue
		}
		msg := gjson.Parse(data)
		if msg.Get("result").Exists() {
			return msg.Get("result"), nil
		}
		if _, err := rpcResult(msg); err != nil {
			lastErr = err
		}
	}
	if err := scanner.Err(); err != nil {
		if errors.Is(err, bufio.ErrTooLong) {
			return gjson.Result{}, &QueryError{Kind: KindProtocol, Message: "event stream line exceeds the reply size limit"}
		}
		return gjson.Result{}, &QueryError{Kind: KindNetwork, Message: fmt.Sprintf("failed to read event stream: %v", err)}
	}
	if lastErr != nil {
		return gjson.Result{}, lastErr
	}
	return gjson.Result{}, &QueryError{Kind: KindProtocol, Message: "no valid JSON-RPC response in event stream"}
}

// rpcResult converts a JSON-RPC message into its result or a query error
func rpcResult(msg gjson.Result) (gjson.Result, error) {
	if rpcErr := msg.Get("error"); rpcErr.Exists() && rpcErr.Type != gjson.Null {
		return gjson.Result{}, &QueryError{
			Kind:    KindRPC,
			Code:    rpcErr.Get("code").Int(),
			Message: rpcErr.Get("message").String(),
		}
	}
	return msg.Get("result"), nil
}
