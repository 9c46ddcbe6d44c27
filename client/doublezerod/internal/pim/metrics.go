package pim

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	LabelEntryKind = "entry_kind"
	LabelReason    = "reason"
)

var (
	metricTaskQueueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "doublezero_pim_task_queue_depth",
			Help: "Number of queued MreTask entries awaiting the scheduler",
		},
	)

	metricTasksRun = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "doublezero_pim_tasks_run_total",
			Help: "Count of MreTask runs dispatched by the scheduler",
		},
	)

	metricEntriesVisited = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "doublezero_pim_entries_visited_total",
			Help: "Count of MRE entries visited while running a task, by entry kind",
		},
		[]string{LabelEntryKind},
	)

	metricTimeSliceYields = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "doublezero_pim_timeslice_yields_total",
			Help: "Count of tasks suspended mid-run because their time slice expired",
		},
	)

	metricMfcProgrammed = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "doublezero_pim_mfc_programmed_total",
			Help: "Count of forwarding-plane MFC entries programmed",
		},
	)

	metricMfcRemoved = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "doublezero_pim_mfc_removed_total",
			Help: "Count of forwarding-plane MFC entries removed",
		},
	)

	metricAssertsSent = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "doublezero_pim_asserts_sent_total",
			Help: "Count of PIM Assert messages sent",
		},
	)

	metricRegisterStopsSent = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "doublezero_pim_register_stops_sent_total",
			Help: "Count of PIM Register-Stop messages sent",
		},
	)

	metricMissingWarnings = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "doublezero_pim_missing_warnings_total",
			Help: "Count of MissingRpfNeighbor/MissingRp transitions logged, by reason",
		},
		[]string{LabelReason},
	)
)
