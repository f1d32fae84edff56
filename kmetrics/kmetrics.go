// Package kmetrics exposes node progress as prometheus collectors.
//
// The engine emits [ksengine.Metrics] snapshots over a channel;
// a [Collector] consumes them on a background goroutine
// and reflects the latest snapshot in its gauges.
package kmetrics

import (
	"context"
	"errors"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/kestrel-chain/kestrel/ks/ksengine"
	"github.com/kestrel-chain/kestrel/xb/xbridge"
)

// Collector consumes engine metrics snapshots and publishes them
// through a prometheus registerer.
type Collector struct {
	committedHeight prometheus.Gauge

	votingHeight prometheus.Gauge
	votingRound  prometheus.Gauge

	in <-chan ksengine.Metrics

	done chan struct{}
}

// NewCollector registers the node gauges with reg and returns a Collector
// reading snapshots from in.
//
// If relay is not nil, a relay queue depth gauge is registered as well,
// sampled on scrape rather than on snapshot.
//
// Cancel ctx to stop the background goroutine, then use [Collector.Wait].
func NewCollector(
	ctx context.Context,
	reg prometheus.Registerer,
	in <-chan ksengine.Metrics,
	relay *xbridge.RelayQueue,
) (*Collector, error) {
	c := &Collector{
		committedHeight: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "kestrel_committed_height",
			Help: "Height of the most recently committed block.",
		}),

		votingHeight: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "kestrel_voting_height",
			Help: "Height the consensus engine is currently voting on.",
		}),
		votingRound: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "kestrel_voting_round",
			Help: "Round within the voting height.",
		}),

		in: in,

		done: make(chan struct{}),
	}

	err := errors.Join(
		reg.Register(c.committedHeight),
		reg.Register(c.votingHeight),
		reg.Register(c.votingRound),
	)

	if relay != nil {
		err = errors.Join(err, reg.Register(
			prometheus.NewGaugeFunc(prometheus.GaugeOpts{
				Name: "kestrel_relay_queue_depth",
				Help: "Number of cross-chain relay entries waiting for a block.",
			}, func() float64 {
				return float64(relay.Len())
			}),
		))
	}

	if err != nil {
		return nil, err
	}

	go c.consume(ctx)

	return c, nil
}

// Wait blocks until the consuming goroutine has finished.
func (c *Collector) Wait() {
	<-c.done
}

func (c *Collector) consume(ctx context.Context) {
	defer close(c.done)

	for {
		select {
		case <-ctx.Done():
			return
		case m := <-c.in:
			c.committedHeight.Set(float64(m.CommittedHeight))

			c.votingHeight.Set(float64(m.VotingHeight))
			c.votingRound.Set(float64(m.VotingRound))
		}
	}
}
