// Package metrics defines the domain Prometheus collectors
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	CampaignSendsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "campaign_sends_total",
			Help: "Campaign template sends by outcome",
		},
		[]string{"outcome"},
	)

	CampaignsFinishedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "campaigns_finished_total",
			Help: "Campaign runs finished, by terminal status",
		},
		[]string{"status"},
	)

	SchedulerTickDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "scheduler_tick_duration_seconds",
			Help:    "Duration of campaign scheduler ticks",
			Buckets: []float64{0.01, 0.1, 1, 5, 15, 30, 60, 300, 900},
		},
	)

	SchedulerTicksSkippedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "scheduler_ticks_skipped_total",
			Help: "Scheduler ticks skipped because a previous tick was still running",
		},
	)

	WebhookEventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "webhook_events_total",
			Help: "Inbound webhook events by kind and result",
		},
		[]string{"kind", "result"},
	)

	OracleCallsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "oracle_calls_total",
			Help: "Decision oracle calls by outcome",
		},
		[]string{"outcome"},
	)

	ConversationTransitionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "conversation_transitions_total",
			Help: "Conversation state transitions by target state",
		},
		[]string{"state"},
	)
)
