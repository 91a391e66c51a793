package dispatch

import "github.com/prometheus/client_golang/prometheus"

var (
	forwardedMessages = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "ses_forwarder",
			Subsystem: "dispatch",
			Name:      "forwarded",
			Help:      "Number of messages handed to the transport successfully",
		},
	)
	forwardedDestinations = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "ses_forwarder",
			Subsystem: "dispatch",
			Name:      "destinations",
			Help:      "Number of delivery list addresses of successfully sent envelopes",
		},
	)
	skippedMessages = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "ses_forwarder",
			Subsystem: "dispatch",
			Name:      "skipped",
			Help:      "Number of messages that ended without a transport call",
		},
		[]string{"reason"},
	)
	failedMessages = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "ses_forwarder",
			Subsystem: "dispatch",
			Name:      "failed",
			Help:      "Number of messages that failed, by processing stage",
		},
		[]string{"stage"},
	)
	gatedRecipients = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "ses_forwarder",
			Subsystem: "dispatch",
			Name:      "recipients",
			Help:      "Number of extracted recipients by domain gate result",
		},
		[]string{"result"},
	)
)

func init() {
	prometheus.MustRegister(forwardedMessages)
	prometheus.MustRegister(forwardedDestinations)
	prometheus.MustRegister(skippedMessages)
	prometheus.MustRegister(failedMessages)
	prometheus.MustRegister(gatedRecipients)
}
