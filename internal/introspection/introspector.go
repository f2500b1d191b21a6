package introspection

import (
	"context"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"go.opentelemetry.io/otel/trace"

	"github.com/stacklok/toolhive-registry-aggregator/internal/otel"
	"github.com/stacklok/toolhive-registry-aggregator/internal/registry"
)

const (
	// errNoNetworkEndpoint is recorded on NotApplicable outcomes
	errNoNetworkEndpoint = "no network endpoint, only local packages"

	// errNoCapabilities is recorded when every query answered with an empty list
	errNoCapabilities = "no capabilities reported"

	// maxReportedErrors is how many query errors of an endpoint make up its error
	maxReportedErrors = 2
)

// Introspector discovers the capabilities of one entity
type Introspector interface {
	// Introspect probes the entity's endpoints in declared order and returns
	// the outcome. It never fails: every failure is captured in the outcome.
	Introspect(ctx context.Context, rec *registry.SourceEntityRecord) *registry.IntrospectionOutcome
}

// IntrospectorOption configures the introspector
type IntrospectorOption func(*endpointIntrospector)

// WithIntrospectorClock overrides the clock used to stamp outcomes
func WithIntrospectorClock(now func() time.Time) IntrospectorOption {
	return func(i *endpointIntrospector) {
		if now != nil {
			i.now = now
		}
	}
}

// WithErrorLength bounds each recorded query error
func WithErrorLength(n int) IntrospectorOption {
	return func(i *endpointIntrospector) {
		if n > 0 {
			i.maxErrorLength = n
		}
	}
}

// endpointIntrospector walks endpoints until one of them reports capabilities
type endpointIntrospector struct {
	prober         Prober
	maxErrorLength int
	now            func() time.Time
}

var _ Introspector = (*endpointIntrospector)(nil)

// NewIntrospector creates an introspector that queries through the prober
func NewIntrospector(prober Prober, opts ...IntrospectorOption) Introspector {
	i := &endpointIntrospector{
		prober:         prober,
		maxErrorLength: DefaultMaxErrorLength,
		now:            time.Now,
	}
	for _, opt := range opts {
		opt(i)
	}
	return i
}

// endpointResult aggregates the three queries against one endpoint
type endpointResult struct {
	lists         [][]registry.Capability
	errs          []string
	networkFailed int
}

func (r *endpointResult) succeeded() bool {
	for _, l := range r.lists {
		if len(l) > 0 {
			return true
		}
	}
	return false
}

// allNetwork reports whether every query failed at the network level
func (r *endpointResult) allNetwork() bool {
	return r.networkFailed == len(Queries)
}

func (r *endpointResult) summary() string {
	if len(r.errs) == 0 {
		return errNoCapabilities
	}
	return strings.Join(r.errs[:min(len(r.errs), maxReportedErrors)], "; ")
}

// Introspect implements Introspector
func (i *endpointIntrospector) Introspect(ctx context.Context, rec *registry.SourceEntityRecord) *registry.IntrospectionOutcome {
	ctx, span := otel.StartSpan(ctx, otel.Tracer(), "introspection.Introspect",
		trace.WithAttributes(
			otel.AttrSourceName.String(rec.SourceID),
			otel.AttrServerName.String(rec.NativeName),
			otel.AttrServerVersion.String(rec.Version),
		),
	)
	defer span.End()

	outcome := &registry.IntrospectionOutcome{
		SourceID:       rec.SourceID,
		NativeName:     rec.NativeName,
		Version:        rec.Version,
		IntrospectedAt: i.now().UTC(),
	}

	endpoints := rec.ProbeableEndpoints()
	if len(endpoints) == 0 {
		outcome.State = registry.OutcomeNotApplicable
		outcome.Error = errNoNetworkEndpoint
		outcome.Packages = rec.Packages
		span.SetAttributes(otel.AttrOutcomeState.String(string(outcome.State)))
		return outcome
	}

	unreachable := true
	for n, ep := range endpoints {
		res := i.probeEndpoint(ctx, ep)
		if res.succeeded() {
			outcome.State = registry.OutcomeSuccess
			outcome.Succeeded = true
			outcome.TransportUsed = ep.Transport
			outcome.EndpointTried = ep.URL
			outcome.Tools, outcome.Prompts, outcome.Resources = res.lists[0], res.lists[1], res.lists[2]
			outcome.Error = ""
			span.SetAttributes(
				otel.AttrOutcomeState.String(string(outcome.State)),
				otel.AttrTransport.String(ep.Transport),
				otel.AttrEndpointURL.String(ep.URL),
			)
			return outcome
		}

		unreachable = unreachable && res.allNetwork()
		summary := res.summary()
		outcome.EndpointErrors = append(outcome.EndpointErrors, ep.URL+": "+summary)
		if n == 0 {
			outcome.Error = summary
			outcome.EndpointTried = ep.URL
		}
		slog.DebugContext(ctx, "Endpoint reported no capabilities",
			"source", rec.SourceID,
			"name", rec.NativeName,
			"endpoint", ep.URL,
			"transport", ep.Transport,
			"error", summary)
	}

	outcome.State = registry.OutcomePartialFailure
	if unreachable {
		outcome.State = registry.OutcomeUnreachable
	}
	span.SetAttributes(otel.AttrOutcomeState.String(string(outcome.State)))
	return outcome
}

// probeEndpoint issues every query against one endpoint; a failing query
// does not stop its siblings
func (i *endpointIntrospector) probeEndpoint(ctx context.Context, ep registry.Endpoint) *endpointResult {
	res := &endpointResult{lists: make([][]registry.Capability, len(Queries))}
	for n, q := range Queries {
		list, err := i.prober.Query(ctx, ep, q)
		if err != nil {
			if isNetworkError(err) {
				res.networkFailed++
			}
			res.errs = append(res.errs, truncate(q.Method+": "+err.Error(), i.maxErrorLength))
			continue
		}
		res.lists[n] = list
	}
	return res
}

// truncate cuts s to at most n bytes without splitting a UTF-8 sequence
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	cut := n
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}
