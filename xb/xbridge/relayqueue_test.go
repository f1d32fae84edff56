package xbridge_test

import (
	"fmt"
	"testing"

	"github.com/kestrel-chain/kestrel/xb/xbridge"
	"github.com/stretchr/testify/require"
)

func enqueueN(q *xbridge.RelayQueue, account string, n int) {
	for i := 0; i < n; i++ {
		q.Enqueue(xbridge.RelayEntry{
			ChainID: "foreign-test",
			Account: account,
			Seq:     uint64(i),
			Payload: []byte(fmt.Sprintf("%s_payload_%d", account, i)),
		})
	}
}

func TestRelayQueue_collectOrderAndLimit(t *testing.T) {
	t.Parallel()

	q := xbridge.NewRelayQueue()
	enqueueN(q, "acct_a", 3)

	entries := q.Collect(7, 2)
	require.Len(t, entries, 2)
	require.Equal(t, uint64(0), entries[0].Seq)
	require.Equal(t, uint64(1), entries[1].Seq)

	require.Equal(t, 1, q.Len())
}

func TestRelayQueue_collectEmpty(t *testing.T) {
	t.Parallel()

	q := xbridge.NewRelayQueue()
	require.Nil(t, q.Collect(7, 5))
}

func TestRelayQueue_committedDiscards(t *testing.T) {
	t.Parallel()

	q := xbridge.NewRelayQueue()
	enqueueN(q, "acct_a", 2)

	collected := q.Collect(7, 2)
	require.Len(t, collected, 2)
	require.Zero(t, q.Len())

	q.Committed(7)

	// Nothing returns to the queue after commit.
	require.Zero(t, q.Len())
	require.Nil(t, q.Collect(8, 5))
}

func TestRelayQueue_abandonedReturnsToHead(t *testing.T) {
	t.Parallel()

	q := xbridge.NewRelayQueue()
	enqueueN(q, "acct_a", 4)

	first := q.Collect(7, 2)
	require.Len(t, first, 2)

	q.Abandoned(7)

	// The abandoned entries come back ahead of the untouched ones,
	// preserving per-account sequence order.
	all := q.Collect(8, 10)
	require.Len(t, all, 4)
	for i, e := range all {
		require.Equal(t, uint64(i), e.Seq)
	}
}

func TestRelayQueue_duplicateEnqueueIgnored(t *testing.T) {
	t.Parallel()

	q := xbridge.NewRelayQueue()

	e := xbridge.RelayEntry{
		ChainID: "foreign-test",
		Account: "acct_a",
		Seq:     0,
		Payload: []byte("payload"),
	}
	q.Enqueue(e)
	q.Enqueue(e)

	require.Equal(t, 1, q.Len())
}

func TestRelayQueue_spentDropsPendingEntries(t *testing.T) {
	t.Parallel()

	q := xbridge.NewRelayQueue()
	enqueueN(q, "acct_a", 3)

	// Another proposer's finalized block carried sequences 0 and 1;
	// only sequence 2 may still be proposed from here.
	q.Spent([]xbridge.RelayEntry{
		{ChainID: "foreign-test", Account: "acct_a", Seq: 0},
		{ChainID: "foreign-test", Account: "acct_a", Seq: 1},
	})

	require.Equal(t, 1, q.Len())

	entries := q.Collect(7, 10)
	require.Len(t, entries, 1)
	require.Equal(t, uint64(2), entries[0].Seq)
}

func TestRelayQueue_spentAfterAbandon(t *testing.T) {
	t.Parallel()

	q := xbridge.NewRelayQueue()
	enqueueN(q, "acct_a", 2)

	collected := q.Collect(7, 2)
	require.Len(t, collected, 2)

	// The proposal fell through, but a competing block at the same
	// height carried sequence 0 anyway.
	q.Abandoned(7)
	q.Spent(collected[:1])

	entries := q.Collect(8, 10)
	require.Len(t, entries, 1)
	require.Equal(t, uint64(1), entries[0].Seq)
}

func TestRelayQueue_spentUnknownEntriesIgnored(t *testing.T) {
	t.Parallel()

	q := xbridge.NewRelayQueue()
	enqueueN(q, "acct_a", 1)

	q.Spent([]xbridge.RelayEntry{
		{ChainID: "foreign-test", Account: "acct_b", Seq: 9},
	})

	require.Equal(t, 1, q.Len())
}

func TestRelayEntries_encodeDecode(t *testing.T) {
	t.Parallel()

	entries := []xbridge.RelayEntry{
		{ChainID: "foreign-test", Account: "acct_a", Seq: 0, Payload: []byte("transfer_1")},
		{ChainID: "foreign-test", Account: "acct_b", Seq: 4, Payload: []byte("transfer_2")},
	}

	b, err := xbridge.EncodeRelayEntries(entries)
	require.NoError(t, err)
	require.NotEmpty(t, b)

	got, err := xbridge.DecodeRelayEntries(b)
	require.NoError(t, err)
	require.Equal(t, entries, got)
}

func TestRelayEntries_emptyEncodesToNothing(t *testing.T) {
	t.Parallel()

	b, err := xbridge.EncodeRelayEntries(nil)
	require.NoError(t, err)
	require.Nil(t, b)

	got, err := xbridge.DecodeRelayEntries(nil)
	require.NoError(t, err)
	require.Nil(t, got)
}

func TestRelayQueue_perAccountOrderAcrossAccounts(t *testing.T) {
	t.Parallel()

	q := xbridge.NewRelayQueue()

	q.Enqueue(xbridge.RelayEntry{ChainID: "c", Account: "acct_a", Seq: 0, Payload: []byte("a0")})
	q.Enqueue(xbridge.RelayEntry{ChainID: "c", Account: "acct_b", Seq: 0, Payload: []byte("b0")})
	q.Enqueue(xbridge.RelayEntry{ChainID: "c", Account: "acct_a", Seq: 1, Payload: []byte("a1")})

	entries := q.Collect(7, 10)
	require.Len(t, entries, 3)

	// Only the per-account relative order matters.
	var aSeqs []uint64
	for _, e := range entries {
		if e.Account == "acct_a" {
			aSeqs = append(aSeqs, e.Seq)
		}
	}
	require.Equal(t, []uint64{0, 1}, aSeqs)
}
