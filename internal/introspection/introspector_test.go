package introspection_test

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/stacklok/toolhive-registry-aggregator/internal/introspection"
	"github.com/stacklok/toolhive-registry-aggregator/internal/introspection/mocks"
	"github.com/stacklok/toolhive-registry-aggregator/internal/registry"
)

var probedAt = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

func networkErr(msg string) error {
	return &introspection.QueryError{Kind: introspection.KindNetwork, Message: msg}
}

func statusErr(status int, msg string) error {
	return &introspection.QueryError{Kind: introspection.KindHTTPStatus, Status: status, Message: msg}
}

// expectQueries registers one reply per query, in query order
func expectQueries(prober *mocks.MockProber, ep registry.Endpoint, replies ...func() ([]registry.Capability, error)) {
	for i, q := range introspection.Queries {
		reply := replies[i]
		prober.EXPECT().Query(gomock.Any(), ep, q).DoAndReturn(
			func(context.Context, registry.Endpoint, introspection.Query) ([]registry.Capability, error) {
				return reply()
			})
	}
}

func list(names ...string) func() ([]registry.Capability, error) {
	return func() ([]registry.Capability, error) { return registry.NewTestCapabilities(names...), nil }
}

func fail(err error) func() ([]registry.Capability, error) {
	return func() ([]registry.Capability, error) { return nil, err }
}

func newIntrospector(prober introspection.Prober, opts ...introspection.IntrospectorOption) introspection.Introspector {
	opts = append([]introspection.IntrospectorOption{
		introspection.WithIntrospectorClock(func() time.Time { return probedAt }),
	}, opts...)
	return introspection.NewIntrospector(prober, opts...)
}

func TestIntrospect_FallsBackToSecondEndpoint(t *testing.T) {
	t.Parallel()
	ctrl := gomock.NewController(t)

	rec := registry.NewTestRecord("official", "io.github.acme/weather",
		registry.WithRecordVersion("1.0.0"),
		registry.WithEndpoint(registry.TransportSSE, "https://a.example.com/sse"),
		registry.WithEndpoint(registry.TransportStreamableHTTP, "https://b.example.com/mcp"),
	)
	first, second := rec.Endpoints[0], rec.Endpoints[1]

	prober := mocks.NewMockProber(ctrl)
	expectQueries(prober, first,
		fail(statusErr(500, "boom")),
		fail(statusErr(500, "boom")),
		fail(statusErr(500, "boom")))
	expectQueries(prober, second,
		list("forecast", "alerts"),
		list(),
		fail(statusErr(404, "not found")))

	outcome := newIntrospector(prober).Introspect(context.Background(), rec)

	assert.Equal(t, registry.OutcomeSuccess, outcome.State)
	assert.True(t, outcome.Succeeded)
	assert.Equal(t, registry.TransportStreamableHTTP, outcome.TransportUsed)
	assert.Equal(t, second.URL, outcome.EndpointTried)
	assert.Equal(t, []string{"forecast", "alerts"}, registry.CapabilityNames(outcome.Tools))
	assert.NotNil(t, outcome.Prompts)
	assert.Empty(t, outcome.Prompts)
	assert.Nil(t, outcome.Resources)
	assert.Empty(t, outcome.Error)
	assert.Equal(t, "official", outcome.SourceID)
	assert.Equal(t, "1.0.0", outcome.Version)
	assert.Equal(t, probedAt, outcome.IntrospectedAt)
}

func TestIntrospect_FirstSuccessStopsWalk(t *testing.T) {
	t.Parallel()
	ctrl := gomock.NewController(t)

	rec := registry.NewTestRecord("official", "notes",
		registry.WithEndpoint(registry.TransportStreamableHTTP, "https://a.example.com/mcp"),
		registry.WithEndpoint(registry.TransportSSE, "https://b.example.com/sse"),
	)

	// the second endpoint has no expectations: any call fails the test
	prober := mocks.NewMockProber(ctrl)
	expectQueries(prober, rec.Endpoints[0], list(), list("summarise"), list())

	outcome := newIntrospector(prober).Introspect(context.Background(), rec)

	assert.Equal(t, registry.OutcomeSuccess, outcome.State)
	assert.Equal(t, registry.TransportStreamableHTTP, outcome.TransportUsed)
	assert.Equal(t, []string{"summarise"}, registry.CapabilityNames(outcome.Prompts))
}

func TestIntrospect_Unreachable(t *testing.T) {
	t.Parallel()
	ctrl := gomock.NewController(t)

	rec := registry.NewTestRecord("official", "offline",
		registry.WithEndpoint(registry.TransportSSE, "https://a.example.com/sse"),
		registry.WithEndpoint(registry.TransportHTTP, "https://b.example.com/rpc"),
	)

	prober := mocks.NewMockProber(ctrl)
	expectQueries(prober, rec.Endpoints[0],
		fail(networkErr("connection refused")),
		fail(networkErr("connection reset")),
		fail(networkErr("timeout")))
	expectQueries(prober, rec.Endpoints[1],
		fail(networkErr("no such host")),
		fail(networkErr("no such host")),
		fail(networkErr("no such host")))

	outcome := newIntrospector(prober).Introspect(context.Background(), rec)

	assert.Equal(t, registry.OutcomeUnreachable, outcome.State)
	assert.False(t, outcome.Succeeded)
	assert.Equal(t, "tools/list: connection refused; prompts/list: connection reset", outcome.Error)
	assert.Equal(t, "https://a.example.com/sse", outcome.EndpointTried)
	require.Len(t, outcome.EndpointErrors, 2)
	assert.Equal(t, "https://b.example.com/rpc: tools/list: no such host; prompts/list: no such host", outcome.EndpointErrors[1])
	assert.Empty(t, outcome.TransportUsed)
}

func TestIntrospect_PartialFailureKeepsFirstEndpointError(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		first     []func() ([]registry.Capability, error)
		second    []func() ([]registry.Capability, error)
		wantError string
	}{
		{
			name:      "first endpoint answered empty",
			first:     []func() ([]registry.Capability, error){list(), list(), list()},
			second:    []func() ([]registry.Capability, error){fail(statusErr(401, "denied")), list(), list()},
			wantError: "no capabilities reported",
		},
		{
			name:      "network and status failures mixed",
			first:     []func() ([]registry.Capability, error){fail(networkErr("refused")), fail(networkErr("refused")), fail(networkErr("refused"))},
			second:    []func() ([]registry.Capability, error){fail(statusErr(401, "denied")), list(), list()},
			wantError: "tools/list: refused; prompts/list: refused",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			ctrl := gomock.NewController(t)

			rec := registry.NewTestRecord("official", "quiet",
				registry.WithEndpoint(registry.TransportStreamableHTTP, "https://a.example.com/mcp"),
				registry.WithEndpoint(registry.TransportSSE, "https://b.example.com/sse"),
			)
			prober := mocks.NewMockProber(ctrl)
			expectQueries(prober, rec.Endpoints[0], tt.first...)
			expectQueries(prober, rec.Endpoints[1], tt.second...)

			outcome := newIntrospector(prober).Introspect(context.Background(), rec)

			assert.Equal(t, registry.OutcomePartialFailure, outcome.State)
			assert.False(t, outcome.Succeeded)
			assert.Equal(t, tt.wantError, outcome.Error)
			assert.Equal(t, "https://a.example.com/mcp", outcome.EndpointTried)
			assert.Equal(t, []string{
				"https://a.example.com/mcp: " + tt.wantError,
				"https://b.example.com/sse: tools/list: HTTP 401: denied",
			}, outcome.EndpointErrors)
		})
	}
}

func TestIntrospect_NotApplicable(t *testing.T) {
	t.Parallel()
	ctrl := gomock.NewController(t)

	rec := registry.NewTestRecord("official", "local-only",
		registry.WithPackage("npm", "@acme/local-only"),
		registry.WithEndpoint(registry.TransportStdio, ""),
	)

	outcome := newIntrospector(mocks.NewMockProber(ctrl)).Introspect(context.Background(), rec)

	assert.Equal(t, registry.OutcomeNotApplicable, outcome.State)
	assert.False(t, outcome.Succeeded)
	assert.Equal(t, "no network endpoint, only local packages", outcome.Error)
	require.Len(t, outcome.Packages, 1)
	assert.Equal(t, "@acme/local-only", outcome.Packages[0].Identifier)
	assert.Empty(t, outcome.EndpointTried)
}

func TestIntrospect_TruncatesQueryErrors(t *testing.T) {
	t.Parallel()
	ctrl := gomock.NewController(t)

	rec := registry.NewTestRecord("official", "verbose",
		registry.WithEndpoint(registry.TransportStreamableHTTP, "https://a.example.com/mcp"))

	prober := mocks.NewMockProber(ctrl)
	long := strings.Repeat("é", 50)
	expectQueries(prober, rec.Endpoints[0],
		fail(&introspection.QueryError{Kind: introspection.KindProtocol, Message: long}),
		list(),
		list())

	// "tools/list: " is 12 bytes; a 15 byte cut lands inside the second é
	outcome := newIntrospector(prober, introspection.WithErrorLength(15)).Introspect(context.Background(), rec)

	assert.Equal(t, registry.OutcomePartialFailure, outcome.State)
	assert.Equal(t, "tools/list: é", outcome.Error)
}
