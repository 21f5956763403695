package memory

import (
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics exports reclamation activity of one Collector to Prometheus.
type Metrics struct {
	EpochAdvances          prometheus.Counter
	BagsSealed             prometheus.Counter
	BagsCollected          prometheus.Counter
	DeferredRun            prometheus.Counter
	ParticipantsRegistered prometheus.Counter
	ParticipantsReclaimed  prometheus.Counter
	Epoch                  prometheus.Gauge
}

// NewMetrics creates the collector metrics labelled with name and registers
// them with reg. A nil reg leaves them unregistered.
func NewMetrics(reg prometheus.Registerer, name string) *Metrics {
	f := promauto.With(reg)
	labels := prometheus.Labels{"collector": name}
	counter := func(n, help string) prometheus.Counter {
		return f.NewCounter(prometheus.CounterOpts{
			Namespace:   "ebr",
			Subsystem:   "collector",
			Name:        n,
			Help:        help,
			ConstLabels: labels,
		})
	}
	return &Metrics{
		EpochAdvances:          counter("epoch_advances_total", "Successful global epoch advances."),
		BagsSealed:             counter("bags_sealed_total", "Bags sealed and pushed to the global queue."),
		BagsCollected:          counter("bags_collected_total", "Sealed bags destroyed after expiry or at teardown."),
		DeferredRun:            counter("deferred_run_total", "Deferred functions executed."),
		ParticipantsRegistered: counter("participants_registered_total", "Participants registered."),
		ParticipantsReclaimed:  counter("participants_reclaimed_total", "Participants whose own record was reclaimed."),
		Epoch: f.NewGauge(prometheus.GaugeOpts{
			Namespace:   "ebr",
			Subsystem:   "collector",
			Name:        "epoch",
			Help:        "Current global epoch (in steps).",
			ConstLabels: labels,
		}),
	}
}

// Stats is a point-in-time copy of a collector's counters.
type Stats struct {
	Epoch                  Epoch
	EpochAdvances          uint64
	BagsSealed             uint64
	BagsCollected          uint64
	DeferredRun            uint64
	ParticipantsRegistered uint64
	ParticipantsReclaimed  uint64
}

// counters backs both Stats and Metrics. Increments are relaxed bookkeeping
// and never order reclamation.
type counters struct {
	m          *Metrics
	advances   atomic.Uint64
	sealed     atomic.Uint64
	collected  atomic.Uint64
	deferred   atomic.Uint64
	registered atomic.Uint64
	reclaimed  atomic.Uint64
}

func (c *counters) advanced(e Epoch) {
	c.advances.Add(1)
	c.m.EpochAdvances.Inc()
	c.m.Epoch.Set(float64(e >> 1))
}

func (c *counters) bagSealed() {
	c.sealed.Add(1)
	c.m.BagsSealed.Inc()
}

func (c *counters) bagCollected(ran int) {
	c.collected.Add(1)
	c.deferred.Add(uint64(ran))
	c.m.BagsCollected.Inc()
	c.m.DeferredRun.Add(float64(ran))
}

func (c *counters) participantRegistered() {
	c.registered.Add(1)
	c.m.ParticipantsRegistered.Inc()
}

func (c *counters) participantReclaimed() {
	c.reclaimed.Add(1)
	c.m.ParticipantsReclaimed.Inc()
}

func (c *counters) snapshot(e Epoch) Stats {
	return Stats{
		Epoch:                  e,
		EpochAdvances:          c.advances.Load(),
		BagsSealed:             c.sealed.Load(),
		BagsCollected:          c.collected.Load(),
		DeferredRun:            c.deferred.Load(),
		ParticipantsRegistered: c.registered.Load(),
		ParticipantsReclaimed:  c.reclaimed.Load(),
	}
}
