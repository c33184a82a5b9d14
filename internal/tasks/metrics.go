package tasks

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	tasksTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "reportd_tasks_total",
			Help: "Task attempts by final state of the attempt.",
		},
		[]string{"task", "state"},
	)
	taskDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "reportd_task_duration_seconds",
			Help:    "Duration of a single task attempt.",
			Buckets: []float64{0.005, 0.025, 0.1, 0.25, 1, 2.5, 10},
		},
		[]string{"task"},
	)
)
