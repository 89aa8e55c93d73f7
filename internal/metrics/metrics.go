package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the instrumentation for the decision pipeline.  All helper
// methods are nil-safe so components can run uninstrumented in tests.
type Metrics struct {
	ObservationsTotal      *prometheus.CounterVec
	ValidationsTotal       *prometheus.CounterVec
	DecisionsTotal         *prometheus.CounterVec
	UnauthorizedExitsTotal prometheus.Counter
	GateCommandsTotal      *prometheus.CounterVec
	PaymentsTotal          *prometheus.CounterVec
}

// New registers against the default registry.
func New() *Metrics {
	return NewWith(prometheus.DefaultRegisterer)
}

// NewWith registers against reg; tests pass a fresh prometheus.NewRegistry().
func NewWith(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		ObservationsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "plategate_observations_total",
			Help: "Validated plate observations accepted into an aggregation window",
		}, []string{"station"}),
		ValidationsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "plategate_validations_total",
			Help: "Raw OCR strings checked against the plate format",
		}, []string{"result"}),
		DecisionsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "plategate_decisions_total",
			Help: "Access decisions by station and outcome",
		}, []string{"station", "outcome"}),
		UnauthorizedExitsTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "plategate_unauthorized_exits_total",
			Help: "Exit attempts with no open paid session",
		}),
		GateCommandsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "plategate_gate_commands_total",
			Help: "Commands sent to the gate actuator by command and result",
		}, []string{"command", "result"}),
		PaymentsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "plategate_payments_total",
			Help: "Payment attempts by result",
		}, []string{"result"}),
	}
}

func (m *Metrics) Observation(station string) {
	if m == nil {
		return
	}
	m.ObservationsTotal.WithLabelValues(station).Inc()
}

func (m *Metrics) Validation(result string) {
	if m == nil {
		return
	}
	m.ValidationsTotal.WithLabelValues(result).Inc()
}

func (m *Metrics) Decision(station, outcome string) {
	if m == nil {
		return
	}
	m.DecisionsTotal.WithLabelValues(station, outcome).Inc()
}

func (m *Metrics) UnauthorizedExit() {
	if m == nil {
		return
	}
	m.UnauthorizedExitsTotal.Inc()
}

func (m *Metrics) GateCommand(command, result string) {
	if m == nil {
		return
	}
	m.GateCommandsTotal.WithLabelValues(command, result).Inc()
}

func (m *Metrics) Payment(result string) {
	if m == nil {
		return
	}
	m.PaymentsTotal.WithLabelValues(result).Inc()
}
