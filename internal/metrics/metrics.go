// Package metrics exposes the relay's Prometheus gauges and counters:
// promauto-registered vectors with small typed recording methods, one per
// event class — connections, channels, proposals, and court.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds every Prometheus metric the relay records.
type Metrics struct {
	ConnectionsActive   prometheus.Gauge
	ConnectionsTotal    *prometheus.CounterVec // result: admitted, displaced, closed
	MessagesTotal       *prometheus.CounterVec // type
	RateLimitDrops      *prometheus.CounterVec // class: pre_auth, post_auth, per_type
	ChannelsActive      prometheus.Gauge
	ChannelMembers      *prometheus.GaugeVec // channel
	ProposalsTotal      *prometheus.CounterVec // outcome: accepted, rejected, completed, disputed, expired
	RatingDelta         *prometheus.HistogramVec // outcome
	DisputesTotal        *prometheus.CounterVec // phase
	DisputesByVerdict    *prometheus.CounterVec // verdict
	EscrowHeld          prometheus.Gauge
}

// New builds and registers every metric against the default registerer.
func New() *Metrics {
	return &Metrics{
		ConnectionsActive: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "agentchat_connections_active",
			Help: "Number of currently live WebSocket connections.",
		}),
		ConnectionsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "agentchat_connections_total",
			Help: "Total connection lifecycle events.",
		}, []string{"result"}),
		MessagesTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "agentchat_messages_total",
			Help: "Total wire messages processed, by type.",
		}, []string{"type"}),
		RateLimitDrops: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "agentchat_rate_limit_drops_total",
			Help: "Messages rejected by a rate-limit class.",
		}, []string{"class"}),
		ChannelsActive: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "agentchat_channels_active",
			Help: "Number of channels with at least one member.",
		}),
		ChannelMembers: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Name: "agentchat_channel_members",
			Help: "Current member count per channel.",
		}, []string{"channel"}),
		ProposalsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "agentchat_proposals_total",
			Help: "Proposal lifecycle outcomes.",
		}, []string{"outcome"}),
		RatingDelta: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "agentchat_rating_delta",
			Help:    "Rating change magnitude per settlement.",
			Buckets: []float64{1, 2, 5, 10, 20, 40, 80},
		}, []string{"outcome"}),
		DisputesTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "agentchat_disputes_total",
			Help: "Disputes entering each phase.",
		}, []string{"phase"}),
		DisputesByVerdict: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "agentchat_disputes_verdict_total",
			Help: "Resolved disputes by verdict.",
		}, []string{"verdict"}),
		EscrowHeld: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "agentchat_escrow_held",
			Help: "Number of currently held escrow entries.",
		}),
	}
}

func (m *Metrics) RecordConnection(result string) {
	m.ConnectionsTotal.WithLabelValues(result).Inc()
}

func (m *Metrics) RecordMessage(msgType string) {
	m.MessagesTotal.WithLabelValues(msgType).Inc()
}

func (m *Metrics) RecordRateLimitDrop(class string) {
	m.RateLimitDrops.WithLabelValues(class).Inc()
}

func (m *Metrics) RecordProposalOutcome(outcome string) {
	m.ProposalsTotal.WithLabelValues(outcome).Inc()
}

func (m *Metrics) RecordRatingDelta(outcome string, delta int) {
	if delta < 0 {
		delta = -delta
	}
	m.RatingDelta.WithLabelValues(outcome).Observe(float64(delta))
}

func (m *Metrics) RecordDisputePhase(phase string) {
	m.DisputesTotal.WithLabelValues(phase).Inc()
}

func (m *Metrics) RecordVerdict(verdict string) {
	m.DisputesByVerdict.WithLabelValues(verdict).Inc()
}
