package obs

import (
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"tradesim/pkg/exception"
)

const namespace = "tradesim"

// Metrics collects process counters. A nil *Metrics is a no-op sink.
type Metrics struct {
	ticks           *prometheus.CounterVec
	positionsOpened *prometheus.CounterVec
	positionsClosed *prometheus.CounterVec
	orderRejects    *prometheus.CounterVec
	queueDrops      *prometheus.CounterVec
	streamDrops     prometheus.Counter
	streamClients   prometheus.Gauge
	openPositions   prometheus.Gauge
	persistBatches  *prometheus.CounterVec
	persistedTicks  prometheus.Counter
	notifications   *prometheus.CounterVec
	tickLatency     prometheus.Histogram

	tickStats LatencyWindow
}

// NewMetrics creates the collectors and registers them on reg when reg is
// not nil.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		ticks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ticks_total",
			Help:      "Ticks processed by the core.",
		}, []string{"instrument"}),
		positionsOpened: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "positions_opened_total",
			Help:      "Positions opened.",
		}, []string{"instrument", "side"}),
		positionsClosed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "positions_closed_total",
			Help:      "Positions closed by reason.",
		}, []string{"instrument", "reason"}),
		orderRejects: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "order_rejects_total",
			Help:      "Rejected open or close requests.",
		}, []string{"reason"}),
		queueDrops: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "queue_drops_total",
			Help:      "Items dropped because a queue was full or closed.",
		}, []string{"queue"}),
		streamDrops: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stream_drops_total",
			Help:      "Frames dropped for slow streaming clients.",
		}),
		streamClients: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "stream_clients",
			Help:      "Connected streaming clients.",
		}),
		openPositions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "open_positions",
			Help:      "Positions currently open.",
		}),
		persistBatches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "persist_batches_total",
			Help:      "Tick batches written or dropped.",
		}, []string{"result"}),
		persistedTicks: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "persisted_ticks_total",
			Help:      "Ticks committed to the database.",
		}),
		notifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notifications_total",
			Help:      "Notification events by result.",
		}, []string{"event", "result"}),
		tickLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "tick_latency_seconds",
			Help:      "Trade time to core completion.",
			Buckets:   prometheus.ExponentialBuckets(0.0005, 2, 14),
		}),
	}
	if reg != nil {
		reg.MustRegister(
			m.ticks,
			m.positionsOpened,
			m.positionsClosed,
			m.orderRejects,
			m.queueDrops,
			m.streamDrops,
			m.streamClients,
			m.openPositions,
			m.persistBatches,
			m.persistedTicks,
			m.notifications,
			m.tickLatency,
		)
	}
	return m
}

// ObserveTick counts a processed tick and its end-to-end latency.
func (m *Metrics) ObserveTick(instrument string, latency time.Duration) {
	if m == nil {
		return
	}
	m.ticks.WithLabelValues(instrument).Inc()
	if latency >= 0 {
		m.tickLatency.Observe(latency.Seconds())
		m.tickStats.Observe(latency)
	}
}

// TickLatency returns the latency summary since the previous call.
func (m *Metrics) TickLatency() LatencySnapshot {
	if m == nil {
		return LatencySnapshot{}
	}
	return m.tickStats.Take()
}

// IncOpened records an opened position.
func (m *Metrics) IncOpened(instrument, side string) {
	if m == nil {
		return
	}
	m.positionsOpened.WithLabelValues(instrument, side).Inc()
}

// IncClosed records a closed position.
func (m *Metrics) IncClosed(instrument, reason string) {
	if m == nil {
		return
	}
	m.positionsClosed.WithLabelValues(instrument, reason).Inc()
}

var rejectReasons = []struct {
	err  error
	code string
}{
	{exception.ErrInvalidSide, "invalid_side"},
	{exception.ErrInvalidLeverage, "invalid_leverage"},
	{exception.ErrInvalidSlippage, "invalid_slippage"},
	{exception.ErrInvalidMargin, "invalid_margin"},
	{exception.ErrInvalidPrice, "invalid_price"},
	{exception.ErrInsufficientBalance, "insufficient_balance"},
	{exception.ErrUnknownInstrument, "unknown_instrument"},
	{exception.ErrQuoteUnavailable, "quote_unavailable"},
	{exception.ErrPositionNotFound, "position_not_found"},
	{exception.ErrPositionNotOpen, "position_not_open"},
}

// RejectReason maps err to a fixed label value. Unknown errors map to "other".
func RejectReason(err error) string {
	for _, r := range rejectReasons {
		if errors.Is(err, r.err) {
			return r.code
		}
	}
	return "other"
}

// IncReject records a rejected request under the reason code of err.
func (m *Metrics) IncReject(err error) {
	if m == nil {
		return
	}
	m.orderRejects.WithLabelValues(RejectReason(err)).Inc()
}

// IncQueueDrop records a queue drop.
func (m *Metrics) IncQueueDrop(queue string) {
	if m == nil {
		return
	}
	m.queueDrops.WithLabelValues(queue).Inc()
}

// IncStreamDrop records a frame dropped for a slow client.
func (m *Metrics) IncStreamDrop() {
	if m == nil {
		return
	}
	m.streamDrops.Inc()
}

// SetStreamClients sets the connected client gauge.
func (m *Metrics) SetStreamClients(n int) {
	if m == nil {
		return
	}
	m.streamClients.Set(float64(n))
}

// SetOpenPositions sets the open position gauge.
func (m *Metrics) SetOpenPositions(n int) {
	if m == nil {
		return
	}
	m.openPositions.Set(float64(n))
}

// ObserveBatch records a persistence batch outcome.
func (m *Metrics) ObserveBatch(size int, err error) {
	if m == nil {
		return
	}
	if err != nil {
		m.persistBatches.WithLabelValues("dropped").Inc()
		return
	}
	m.persistBatches.WithLabelValues("committed").Inc()
	m.persistedTicks.Add(float64(size))
}

// ObserveNotification records a notification delivery outcome.
func (m *Metrics) ObserveNotification(event string, err error) {
	if m == nil {
		return
	}
	result := "sent"
	if err != nil {
		result = "failed"
	}
	m.notifications.WithLabelValues(event, result).Inc()
}
