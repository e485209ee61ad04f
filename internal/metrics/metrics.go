package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Messages removed from the table by a successful claim
	MessagesClaimed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tableq_messages_claimed_total",
			Help: "Total number of messages claimed",
		},
		[]string{"queue"},
	)

	// Claim attempts that found no eligible row
	EmptyPolls = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tableq_empty_polls_total",
			Help: "Total number of claim attempts that found no eligible message",
		},
		[]string{"queue"},
	)

	// Store errors absorbed by the claim engine
	TransientErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tableq_transient_errors_total",
			Help: "Total number of store errors absorbed during claims",
		},
		[]string{"queue"},
	)

	ConsistencyFaults = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tableq_consistency_faults_total",
			Help: "Total number of deletes or inserts that affected an unexpected number of rows",
		},
		[]string{"queue"},
	)

	// Rows removed by a claim but not delivered because they could not be decoded
	UndecodableMessages = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tableq_undecodable_messages_total",
			Help: "Total number of claimed messages discarded because they could not be decoded",
		},
		[]string{"queue"},
	)

	MessagesRequeued = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tableq_messages_requeued_total",
			Help: "Total number of rejected messages requeued",
		},
		[]string{"queue"},
	)

	MessagesSent = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tableq_messages_sent_total",
			Help: "Total number of messages sent by producers",
		},
		[]string{"queue"},
	)
)
