package metrics

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the prometheus collectors of the service.
type Metrics struct {
	latestMilestoneGauge prometheus.Gauge
	availableDepthGauge  prometheus.Gauge
	transactionsGauge    prometheus.Gauge
	tailsGauge           prometheus.Gauge
	eventsCounter        *prometheus.CounterVec
	malformedCounter     prometheus.Counter
	prunedCounter        prometheus.Counter
	oracleChecksCounter  *prometheus.CounterVec
	selectionsCounter    *prometheus.CounterVec
}

// NewMetrics registers the collectors, prefixed with namespace, at registerer.
func NewMetrics(namespace string, registerer prometheus.Registerer) *Metrics {
	factory := promauto.With(registerer)
	m := Metrics{
		// tangle replica
		latestMilestoneGauge: factory.NewGauge(prometheus.GaugeOpts{
			Name: fmt.Sprintf("%s_latest_milestone", namespace),
			Help: "The latest milestone seen on the feed",
		}),
		availableDepthGauge: factory.NewGauge(prometheus.GaugeOpts{
			Name: fmt.Sprintf("%s_available_depth", namespace),
			Help: "The deepest milestone a tip selection can start at",
		}),
		transactionsGauge: factory.NewGauge(prometheus.GaugeOpts{
			Name: fmt.Sprintf("%s_transactions", namespace),
			Help: "The number of transactions held in memory",
		}),
		tailsGauge: factory.NewGauge(prometheus.GaugeOpts{
			Name: fmt.Sprintf("%s_tails", namespace),
			Help: "The number of registered bundle tails",
		}),
		// ingest
		eventsCounter: factory.NewCounterVec(prometheus.CounterOpts{
			Name: fmt.Sprintf("%s_ingested_events_total", namespace),
			Help: "The number of applied feed events",
		}, []string{"kind"}),
		malformedCounter: factory.NewCounter(prometheus.CounterOpts{
			Name: fmt.Sprintf("%s_malformed_frames_total", namespace),
			Help: "The number of skipped feed frames",
		}),
		prunedCounter: factory.NewCounter(prometheus.CounterOpts{
			Name: fmt.Sprintf("%s_pruned_transactions_total", namespace),
			Help: "The number of transactions removed by retention pruning",
		}),
		// tip selection
		oracleChecksCounter: factory.NewCounterVec(prometheus.CounterOpts{
			Name: fmt.Sprintf("%s_oracle_checks_total", namespace),
			Help: "The number of consistency checks",
		}, []string{"result"}),
		selectionsCounter: factory.NewCounterVec(prometheus.CounterOpts{
			Name: fmt.Sprintf("%s_tip_selections_total", namespace),
			Help: "The number of tip selections",
		}, []string{"result"}),
	}
	return &m
}

// SetMilestone records the latest milestone and the available depth.
func (metrics *Metrics) SetMilestone(milestone int, depth int) {
	metrics.latestMilestoneGauge.Set(float64(milestone))
	metrics.availableDepthGauge.Set(float64(depth))
}

// SetSize records the number of transactions and tails held in memory.
func (metrics *Metrics) SetSize(transactions, tails int) {
	metrics.transactionsGauge.Set(float64(transactions))
	metrics.tailsGauge.Set(float64(tails))
}

// IncEvents counts an applied feed event of the given kind.
func (metrics *Metrics) IncEvents(kind string) {
	metrics.eventsCounter.WithLabelValues(kind).Inc()
}

// IncMalformedFrames counts a feed message that could not be decoded.
func (metrics *Metrics) IncMalformedFrames() {
	metrics.malformedCounter.Inc()
}

// AddPruned counts transactions removed by retention pruning.
func (metrics *Metrics) AddPruned(count int) {
	metrics.prunedCounter.Add(float64(count))
}

// IncOracleChecks counts a consistency check by result.
func (metrics *Metrics) IncOracleChecks(result string) {
	metrics.oracleChecksCounter.WithLabelValues(result).Inc()
}

// IncSelections counts a tip selection by result.
func (metrics *Metrics) IncSelections(result string) {
	metrics.selectionsCounter.WithLabelValues(result).Inc()
}
