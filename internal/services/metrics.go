package services

import "github.com/prometheus/client_golang/prometheus"

// Domain counters, exposed on /metrics next to the HTTP collectors.
var (
	requestsCreated = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "lending_requests_created_total",
		Help: "Total number of lending requests created.",
	})

	// requestTransitions counts committed state changes by target state.
	requestTransitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lending_request_transitions_total",
			Help: "Total number of request state transitions by target state.",
		},
		[]string{"to"},
	)

	requestsExpired = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "lending_requests_expired_total",
		Help: "Total number of requests expired by the sweeper.",
	})

	messagesSent = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "lending_messages_sent_total",
		Help: "Total number of request messages sent.",
	})
)

func init() {
	prometheus.MustRegister(requestsCreated, requestTransitions, requestsExpired, messagesSent)
}
