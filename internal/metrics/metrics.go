package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	Submissions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ingestion_submissions_total",
		Help: "Total number of study submissions by result",
	}, []string{"result"})

	Polls = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ingestion_polls_total",
		Help: "Total number of import monitor polls by outcome",
	}, []string{"outcome"})

	TerminalTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ingestion_terminal_transitions_total",
		Help: "Total number of committed terminal transitions by status",
	}, []string{"status"})

	LostRaces = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ingestion_lost_races_total",
		Help: "Total number of conditional writes rejected because another poll got there first",
	})

	HTTPRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ingestion_http_requests_total",
		Help: "Total number of HTTP requests by route and status code",
	}, []string{"method", "path", "code"})

	HTTPRequestSeconds = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ingestion_http_request_seconds",
		Help: "Total amount of request time by route, in seconds",
	}, []string{"method", "path"})
)
