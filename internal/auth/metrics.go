package auth

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
)

// Auth event labels.
const (
	EventLoginSuccess   = "login_success"
	EventLoginFailure   = "login_failure"
	EventAccountBlocked = "account_blocked"
	EventRefreshRotated = "refresh_rotated"
	EventGateRejected   = "gate_rejected"
)

// Metrics counts authentication outcomes. A nil *Metrics records nothing.
type Metrics struct {
	Events *prometheus.CounterVec
}

// NewMetrics registers member_auth_events_total with reg (default registerer when nil).
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	events := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "member",
		Subsystem: "auth",
		Name:      "events_total",
		Help:      "Authentication outcomes partitioned by event.",
	}, []string{"event"})

	if err := reg.Register(events); err != nil {
		already, ok := err.(prometheus.AlreadyRegisteredError)
		if !ok {
			return nil, fmt.Errorf("register auth events collector: %w", err)
		}
		existing, ok := already.ExistingCollector.(*prometheus.CounterVec)
		if !ok {
			return nil, fmt.Errorf("existing auth events collector has unexpected type %T", already.ExistingCollector)
		}
		events = existing
	}
	return &Metrics{Events: events}, nil
}

func (m *Metrics) inc(event string) {
	if m == nil || m.Events == nil {
		return
	}
	m.Events.WithLabelValues(event).Inc()
}
