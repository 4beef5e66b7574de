package recorder

import "github.com/prometheus/client_golang/prometheus"

// metrics are the collectors of one Recorder.
type metrics struct {
	commits              prometheus.Counter
	commitRetries        prometheus.Counter
	tasks                *prometheus.CounterVec
	taskErrors           *prometheus.CounterVec
	backlogExceeded      prometheus.Counter
	corruptionRecoveries prometheus.Counter
	backlog              prometheus.GaugeFunc
}

func newMetrics(reg prometheus.Registerer, backlog func() int) *metrics {
	m := &metrics{
		commits: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "recorder_commits_total",
			Help: "Cumulative number of committed batches.",
		}),
		commitRetries: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "recorder_commit_retries_total",
			Help: "Cumulative number of commit attempts retried after a transient error.",
		}),
		tasks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "recorder_tasks_total",
			Help: "Cumulative number of tasks processed, by kind.",
		}, []string{"kind"}),
		taskErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "recorder_task_errors_total",
			Help: "Cumulative number of tasks that failed, by kind.",
		}, []string{"kind"}),
		backlogExceeded: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "recorder_backlog_exceeded_total",
			Help: "Number of times ingestion was disabled because the backlog exceeded its ceiling.",
		}),
		corruptionRecoveries: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "recorder_corruption_recoveries_total",
			Help: "Cumulative number of databases moved aside after corruption.",
		}),
		backlog: prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Name: "recorder_queue_backlog",
			Help: "Number of tasks waiting for the engine.",
		}, func() float64 { return float64(backlog()) }),
	}
	reg.MustRegister(
		m.commits, m.commitRetries, m.tasks, m.taskErrors,
		m.backlogExceeded, m.corruptionRecoveries, m.backlog,
	)
	return m
}
