package session

import "github.com/prometheus/client_golang/prometheus"

var (
	fragmentsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "chatd",
		Subsystem: "session",
		Name:      "fragments_total",
		Help:      "Total content fragments received from the chat worker",
	})

	streamsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "chatd",
		Subsystem: "session",
		Name:      "streams_total",
		Help:      "Completed generation streams by outcome",
	}, []string{"outcome"})

	prunesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "chatd",
		Subsystem: "session",
		Name:      "prunes_total",
		Help:      "Total conversation prunes",
	})

	probeAttemptsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "chatd",
		Subsystem: "session",
		Name:      "probe_attempts_total",
		Help:      "Total GPU offload probe attempts",
	})

	loadsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "chatd",
		Subsystem: "session",
		Name:      "loads_total",
		Help:      "Model load operations by outcome",
	}, []string{"outcome"})

	forceCancelsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "chatd",
		Subsystem: "session",
		Name:      "force_cancels_total",
		Help:      "Streams that ignored cancellation and forced a worker restart",
	})

	downloadsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "chatd",
		Subsystem: "session",
		Name:      "downloads_total",
		Help:      "Model downloads by outcome",
	}, []string{"outcome"})

	savesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "chatd",
		Subsystem: "session",
		Name:      "saves_total",
		Help:      "Conversation store saves by outcome",
	}, []string{"outcome"})

	eventsDroppedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "chatd",
		Subsystem: "session",
		Name:      "events_dropped_total",
		Help:      "UI events dropped under display backpressure",
	})
)

func init() {
	prometheus.MustRegister(
		fragmentsTotal,
		streamsTotal,
		prunesTotal,
		probeAttemptsTotal,
		loadsTotal,
		forceCancelsTotal,
		downloadsTotal,
		savesTotal,
		eventsDroppedTotal,
	)
}
