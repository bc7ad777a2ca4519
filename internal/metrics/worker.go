package metrics

import "time"

// TaskCompleted records a successful janitor run and how many rows it removed.
func TaskCompleted(task string, duration time.Duration, deleted int64) {
	JanitorRunsTotal.WithLabelValues(task, "completed").Inc()
	JanitorRunDuration.WithLabelValues(task).Observe(duration.Seconds())
	if deleted > 0 {
		JanitorRowsDeleted.WithLabelValues(task).Add(float64(deleted))
	}
}

// TaskFailed records a janitor run that returned an error.
func TaskFailed(task string, duration time.Duration) {
	JanitorRunsTotal.WithLabelValues(task, "failed").Inc()
	JanitorRunDuration.WithLabelValues(task).Observe(duration.Seconds())
}
