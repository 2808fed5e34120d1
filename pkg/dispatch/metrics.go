package dispatch

import "github.com/prometheus/client_golang/prometheus"

// Metrics counts dispatcher activity for Prometheus.
type Metrics struct {
	ChunksPushed     prometheus.Counter
	ResultsReceived  prometheus.Counter
	FaultsDetected   prometheus.Counter
	TasksResubmitted prometheus.Counter
}

// NewMetrics builds and registers the dispatcher counters.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		ChunksPushed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "foreman",
			Subsystem: "dispatch",
			Name:      "chunks_pushed_total",
			Help:      "Task chunks pushed onto the shared queue.",
		}),
		ResultsReceived: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "foreman",
			Subsystem: "dispatch",
			Name:      "results_received_total",
			Help:      "Result chunks collected from the out list.",
		}),
		FaultsDetected: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "foreman",
			Subsystem: "dispatch",
			Name:      "faults_detected_total",
			Help:      "Fault detector passes that found vanished workers.",
		}),
		TasksResubmitted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "foreman",
			Subsystem: "dispatch",
			Name:      "tasks_resubmitted_total",
			Help:      "Tasks re-pushed after worker faults or lost results.",
		}),
	}
	reg.MustRegister(m.ChunksPushed, m.ResultsReceived, m.FaultsDetected, m.TasksResubmitted)
	return m
}
