package observability

import (
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/JupitersGhost/ChaosMagnet/internal/ports"
)

// eventRingCap bounds the in-memory event log consumed by the GUI panel.
const eventRingCap = 64

// PromObs backs the Observability port with Prometheus collectors plus a
// bounded event ring. Pass nil to register on the default registry.
type PromObs struct {
	counters map[string]prometheus.Counter
	gauges   map[string]prometheus.Gauge
	histos   map[string]prometheus.Observer

	mu     sync.Mutex
	events []string
}

func NewPromObs(reg prometheus.Registerer) *PromObs {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	samples := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "chaos_samples_total",
		Help: "Raw samples accepted into the conditioning queue.",
	})
	rejected := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "chaos_samples_rejected_total",
		Help: "Raw samples rejected by health checks or queue backpressure.",
	})
	mixes := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "chaos_mix_cycles_total",
		Help: "Completed pool conditioning cycles.",
	})
	mints := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "chaos_mints_total",
		Help: "Successfully minted PQC bundles.",
	})
	mintFailures := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "chaos_mint_failures_total",
		Help: "Mint requests rejected or aborted.",
	})
	uplinkSent := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "chaos_uplink_sent_total",
		Help: "Frames delivered to the uplink collector.",
	})
	uplinkDropped := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "chaos_uplink_dropped_total",
		Help: "Frames dropped after exhausting uplink retries.",
	})
	p2pReceived := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "chaos_p2p_received_total",
		Help: "Frames accepted from P2P peers (logged, never mixed).",
	})

	fill := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "chaos_pool_fill_fraction",
		Help: "Pool fill toward the configured entropy target (0..1).",
	})
	queueLen := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "chaos_queue_length",
		Help: "Samples staged for the next conditioning cycle.",
	})
	accumBits := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "chaos_accumulated_entropy_bits",
		Help: "Aggregate conservative entropy across enabled healthy sources.",
	})

	mixLatency := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "chaos_mix_duration_seconds",
		Help:    "Wall time of one conditioning cycle, hashing included.",
		Buckets: prometheus.ExponentialBuckets(0.0001, 2, 12),
	})

	reg.MustRegister(samples, rejected, mixes, mints, mintFailures,
		uplinkSent, uplinkDropped, p2pReceived, fill, queueLen, accumBits, mixLatency)

	return &PromObs{
		counters: map[string]prometheus.Counter{
			"chaos_samples_total":          samples,
			"chaos_samples_rejected_total": rejected,
			"chaos_mix_cycles_total":       mixes,
			"chaos_mints_total":            mints,
			"chaos_mint_failures_total":    mintFailures,
			"chaos_uplink_sent_total":      uplinkSent,
			"chaos_uplink_dropped_total":   uplinkDropped,
			"chaos_p2p_received_total":     p2pReceived,
		},
		gauges: map[string]prometheus.Gauge{
			"chaos_pool_fill_fraction":       fill,
			"chaos_queue_length":             queueLen,
			"chaos_accumulated_entropy_bits": accumBits,
		},
		histos: map[string]prometheus.Observer{
			"chaos_mix_duration_seconds": mixLatency,
		},
	}
}

func (p *PromObs) LogInfo(msg string, fields ...ports.Field) {}

func (p *PromObs) LogError(msg string, err error, fields ...ports.Field) {
	if err != nil {
		log.Printf("ERROR: %s: %v", msg, err)
	}
}

func (p *PromObs) LogCritical(msg string, err error, fields ...ports.Field) {
	if err != nil {
		log.Printf("CRITICAL: %s: %v", msg, err)
	}
}

func (p *PromObs) IncCounter(name string, v float64) {
	if c, ok := p.counters[name]; ok {
		c.Add(v)
	}
}

func (p *PromObs) SetGauge(name string, v float64) {
	if g, ok := p.gauges[name]; ok {
		g.Set(v)
	}
}

func (p *PromObs) ObserveLatency(name string, seconds float64) {
	if h, ok := p.histos[name]; ok {
		h.Observe(seconds)
	}
}

// RecordEvent appends a timestamped line to the bounded event ring.
func (p *PromObs) RecordEvent(msg string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	line := fmt.Sprintf("[%s] %s", time.Now().Format("15:04:05"), msg)
	if len(p.events) >= eventRingCap {
		copy(p.events, p.events[1:])
		p.events = p.events[:len(p.events)-1]
	}
	p.events = append(p.events, line)
}

// Events returns up to max of the most recent event lines, oldest first.
func (p *PromObs) Events(max int) []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := len(p.events)
	if max > 0 && max < n {
		n = max
	}
	out := make([]string, n)
	copy(out, p.events[len(p.events)-n:])
	return out
}

var _ ports.Observability = (*PromObs)(nil)
