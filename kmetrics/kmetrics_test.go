package kmetrics_test

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"

	"github.com/kestrel-chain/kestrel/kmetrics"
	"github.com/kestrel-chain/kestrel/ks/ksengine"
	"github.com/kestrel-chain/kestrel/xb/xbridge"
)

func gatherValue(t *testing.T, reg *prometheus.Registry, name string) (float64, bool) {
	t.Helper()

	fams, err := reg.Gather()
	require.NoError(t, err)

	for _, fam := range fams {
		if fam.GetName() == name {
			return fam.GetMetric()[0].GetGauge().GetValue(), true
		}
	}
	return 0, false
}

func TestCollector_reflectsSnapshots(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	reg := prometheus.NewRegistry()
	in := make(chan ksengine.Metrics)

	c, err := kmetrics.NewCollector(ctx, reg, in, nil)
	require.NoError(t, err)
	defer c.Wait()
	defer cancel()

	in <- ksengine.Metrics{
		CommittedHeight: 4,
		VotingHeight:    5,
		VotingRound:     2,
	}

	require.Eventually(t, func() bool {
		v, ok := gatherValue(t, reg, "kestrel_committed_height")
		return ok && v == 4
	}, time.Second, 5*time.Millisecond)

	v, ok := gatherValue(t, reg, "kestrel_voting_height")
	require.True(t, ok)
	require.Equal(t, 5.0, v)

	v, ok = gatherValue(t, reg, "kestrel_voting_round")
	require.True(t, ok)
	require.Equal(t, 2.0, v)
}

func TestCollector_relayQueueDepth(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	reg := prometheus.NewRegistry()
	in := make(chan ksengine.Metrics)

	q := xbridge.NewRelayQueue()
	q.Enqueue(xbridge.RelayEntry{ChainID: "c1", Account: "a1", Seq: 0, Payload: []byte("x")})
	q.Enqueue(xbridge.RelayEntry{ChainID: "c1", Account: "a1", Seq: 1, Payload: []byte("y")})

	c, err := kmetrics.NewCollector(ctx, reg, in, q)
	require.NoError(t, err)
	defer c.Wait()
	defer cancel()

	v, ok := gatherValue(t, reg, "kestrel_relay_queue_depth")
	require.True(t, ok)
	require.Equal(t, 2.0, v)
}
