package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics contains all Prometheus metrics for the session workflow engine.
// Metrics are organized by subsystem: command bus, event log and bus, expansion
// orchestration, collaborators, and relays.
//
// A nil *Metrics is valid and records nothing, so components can be built
// without metrics in tests.
type Metrics struct {
	// CommandsDispatched counts commands accepted by the command bus, labeled by type.
	CommandsDispatched *prometheus.CounterVec

	// CommandHandlerFailures counts handler errors and panics, labeled by command type.
	CommandHandlerFailures *prometheus.CounterVec

	// EventsAppended counts events durably written to the log, labeled by type.
	EventsAppended *prometheus.CounterVec

	// EventDeliveries counts subscriber deliveries, labeled by resolved qos.
	EventDeliveries *prometheus.CounterVec

	// EventHandlerFailures counts subscriber errors and panics, labeled by qos and event type.
	EventHandlerFailures *prometheus.CounterVec

	// IdentityResolutionFailures counts events appended without a resolved user.
	IdentityResolutionFailures prometheus.Counter

	// RunsActive tracks the number of expansion runs in the registry.
	RunsActive prometheus.Gauge

	// RoundsTotal counts finished expansion rounds, labeled by outcome
	// (continue, saturated, failed, stopped).
	RoundsTotal *prometheus.CounterVec

	// RoundDuration observes the wall time of a round in seconds.
	RoundDuration prometheus.Histogram

	// PapersAdded counts net-new papers merged into collections.
	PapersAdded prometheus.Counter

	// Saturations counts saturation decisions, labeled by reason.
	Saturations *prometheus.CounterVec

	// StageFailures counts stage failures, labeled by stage.
	StageFailures *prometheus.CounterVec

	// CollaboratorCalls counts calls to external collaborators, labeled by collaborator and result.
	CollaboratorCalls *prometheus.CounterVec

	// CollaboratorDuration observes collaborator call duration in seconds, labeled by collaborator.
	CollaboratorDuration *prometheus.HistogramVec

	// QueryFallbacks counts rounds planned by the heuristic instead of the generator.
	QueryFallbacks prometheus.Counter

	// RelayPublished counts events forwarded to external brokers, labeled by sink.
	RelayPublished *prometheus.CounterVec

	// RelayFailures counts failed forwards, labeled by sink.
	RelayFailures *prometheus.CounterVec

	// SourceRequestsTotal counts HTTP requests to paper source APIs, labeled by source and endpoint.
	SourceRequestsTotal *prometheus.CounterVec

	// SourceRequestDuration observes HTTP request duration to paper source APIs in seconds.
	SourceRequestDuration *prometheus.HistogramVec

	// SourceRateLimited counts rate-limited responses from paper source APIs, labeled by source.
	SourceRateLimited *prometheus.CounterVec
}

// NewMetrics creates a new Metrics instance registered with the default registry.
// The namespace is used as a prefix for all metric names.
func NewMetrics(namespace string) *Metrics {
	return NewMetricsWith(prometheus.DefaultRegisterer, namespace)
}

// NewMetricsWith creates a new Metrics instance registered with reg.
func NewMetricsWith(reg prometheus.Registerer, namespace string) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		// Command bus
		CommandsDispatched: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "commands_dispatched_total",
			Help:      "Total number of commands dispatched",
		}, []string{"type"}),
		CommandHandlerFailures: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "command_handler_failures_total",
			Help:      "Total number of command handler failures",
		}, []string{"type"}),

		// Event log and bus
		EventsAppended: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_appended_total",
			Help:      "Total number of events appended to the event log",
		}, []string{"type"}),
		EventDeliveries: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "event_deliveries_total",
			Help:      "Total number of event deliveries to subscribers",
		}, []string{"qos"}),
		EventHandlerFailures: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "event_handler_failures_total",
			Help:      "Total number of event subscriber failures",
		}, []string{"qos", "type"}),
		IdentityResolutionFailures: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "identity_resolution_failures_total",
			Help:      "Total number of events appended without a resolved user id",
		}),

		// Orchestration
		RunsActive: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "expansion_runs_active",
			Help:      "Number of active expansion runs",
		}),
		RoundsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "expansion_rounds_total",
			Help:      "Total number of expansion rounds by outcome",
		}, []string{"outcome"}),
		RoundDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "expansion_round_duration_seconds",
			Help:      "Duration of expansion rounds in seconds",
			Buckets:   []float64{0.5, 1, 2.5, 5, 10, 30, 60, 120},
		}),
		PapersAdded: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "papers_added_total",
			Help:      "Total number of net-new papers merged into collections",
		}),
		Saturations: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "expansion_saturations_total",
			Help:      "Total number of saturation decisions by reason",
		}, []string{"reason"}),
		StageFailures: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stage_failures_total",
			Help:      "Total number of workflow stage failures",
		}, []string{"stage"}),

		// Collaborators
		CollaboratorCalls: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "collaborator_calls_total",
			Help:      "Total number of external collaborator calls",
		}, []string{"collaborator", "result"}),
		CollaboratorDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "collaborator_call_duration_seconds",
			Help:      "Duration of external collaborator calls in seconds",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		}, []string{"collaborator"}),
		QueryFallbacks: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "query_fallbacks_total",
			Help:      "Total number of rounds planned by the heuristic fallback",
		}),

		// Relays
		RelayPublished: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "relay_published_total",
			Help:      "Total number of events forwarded to external brokers",
		}, []string{"sink"}),
		RelayFailures: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "relay_failures_total",
			Help:      "Total number of failed event forwards",
		}, []string{"sink"}),

		// Paper sources
		SourceRequestsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "source_requests_total",
			Help:      "Total number of requests to paper source APIs",
		}, []string{"source", "endpoint"}),
		SourceRequestDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "source_request_duration_seconds",
			Help:      "Duration of paper source API requests in seconds",
			Buckets:   []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}, []string{"source", "endpoint"}),
		SourceRateLimited: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "source_rate_limited_total",
			Help:      "Total number of rate-limited responses from paper sources",
		}, []string{"source"}),
	}
}

// RecordCommandDispatched records a dispatched command.
func (m *Metrics) RecordCommandDispatched(commandType string) {
	if m == nil {
		return
	}
	m.CommandsDispatched.WithLabelValues(commandType).Inc()
}

// RecordCommandHandlerFailure records a failed command handler.
func (m *Metrics) RecordCommandHandlerFailure(commandType string) {
	if m == nil {
		return
	}
	m.CommandHandlerFailures.WithLabelValues(commandType).Inc()
}

// RecordEventAppended records an event written to the log.
func (m *Metrics) RecordEventAppended(eventType string) {
	if m == nil {
		return
	}
	m.EventsAppended.WithLabelValues(eventType).Inc()
}

// RecordEventDelivery records one subscriber delivery.
func (m *Metrics) RecordEventDelivery(qos string) {
	if m == nil {
		return
	}
	m.EventDeliveries.WithLabelValues(qos).Inc()
}

// RecordEventHandlerFailure records a failed subscriber.
func (m *Metrics) RecordEventHandlerFailure(qos, eventType string) {
	if m == nil {
		return
	}
	m.EventHandlerFailures.WithLabelValues(qos, eventType).Inc()
}

// RecordIdentityResolutionFailure records an event appended without a user.
func (m *Metrics) RecordIdentityResolutionFailure() {
	if m == nil {
		return
	}
	m.IdentityResolutionFailures.Inc()
}

// SetRunsActive sets the active run gauge.
func (m *Metrics) SetRunsActive(n int) {
	if m == nil {
		return
	}
	m.RunsActive.Set(float64(n))
}

// RecordRound records a finished round.
func (m *Metrics) RecordRound(outcome string, added int, durationSeconds float64) {
	if m == nil {
		return
	}
	m.RoundsTotal.WithLabelValues(outcome).Inc()
	m.RoundDuration.Observe(durationSeconds)
	if added > 0 {
		m.PapersAdded.Add(float64(added))
	}
}

// RecordSaturation records a saturation decision.
func (m *Metrics) RecordSaturation(reason string) {
	if m == nil {
		return
	}
	m.Saturations.WithLabelValues(reason).Inc()
}

// RecordStageFailure records a stage failure.
func (m *Metrics) RecordStageFailure(stage string) {
	if m == nil {
		return
	}
	m.StageFailures.WithLabelValues(stage).Inc()
}

// RecordCollaboratorCall records a collaborator call and its outcome.
func (m *Metrics) RecordCollaboratorCall(collaborator string, err error, durationSeconds float64) {
	if m == nil {
		return
	}
	result := "success"
	if err != nil {
		result = "error"
	}
	m.CollaboratorCalls.WithLabelValues(collaborator, result).Inc()
	m.CollaboratorDuration.WithLabelValues(collaborator).Observe(durationSeconds)
}

// RecordQueryFallback records a round planned by the heuristic.
func (m *Metrics) RecordQueryFallback() {
	if m == nil {
		return
	}
	m.QueryFallbacks.Inc()
}

// RecordRelayPublished records a forwarded event.
func (m *Metrics) RecordRelayPublished(sink string) {
	if m == nil {
		return
	}
	m.RelayPublished.WithLabelValues(sink).Inc()
}

// RecordRelayFailure records a failed forward.
func (m *Metrics) RecordRelayFailure(sink string) {
	if m == nil {
		return
	}
	m.RelayFailures.WithLabelValues(sink).Inc()
}

// RecordSourceRequest records a request to a paper source.
func (m *Metrics) RecordSourceRequest(source, endpoint string, durationSeconds float64) {
	if m == nil {
		return
	}
	m.SourceRequestsTotal.WithLabelValues(source, endpoint).Inc()
	m.SourceRequestDuration.WithLabelValues(source, endpoint).Observe(durationSeconds)
}

// RecordSourceRateLimited records a rate limit response from a source.
func (m *Metrics) RecordSourceRateLimited(source string) {
	if m == nil {
		return
	}
	m.SourceRateLimited.WithLabelValues(source).Inc()
}
