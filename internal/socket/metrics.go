package socket

import "github.com/prometheus/client_golang/prometheus"

var (
	// sessionsGauge tracks registered sessions by state (active, grace).
	sessionsGauge = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "socket_sessions",
			Help: "Registered websocket sessions by state.",
		},
		[]string{"state"},
	)

	// requestsTotal counts resolved negotiation requests by verdict.
	requestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "socket_requests_total",
			Help: "Resolved socket requests by verdict.",
		},
		[]string{"verdict"},
	)

	// eventsTotal counts frames by direction (in/out) and event name. Event
	// names come from a fixed set; unknown inbound events are folded into "other".
	eventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "socket_events_total",
			Help: "Websocket frames by direction and event.",
		},
		[]string{"direction", "event"},
	)

	terminationsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "socket_terminations_total",
			Help: "Identities terminated after grace expiry or explicit deletion.",
		},
	)
)

func init() {
	prometheus.MustRegister(sessionsGauge, requestsTotal, eventsTotal, terminationsTotal)
}

var knownInbound = map[string]bool{
	EventIdentify:           true,
	EventResponse:           true,
	EventGeolocationUpdated: true,
}

func inboundLabel(event string) string {
	if knownInbound[event] {
		return event
	}
	return "other"
}
