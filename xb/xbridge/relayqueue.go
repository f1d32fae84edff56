package xbridge

import (
	"bytes"
	"sync"
)

// RelayEntry is one verified payload awaiting relay into a block.
type RelayEntry struct {
	ChainID, Account string

	Seq uint64

	Payload []byte
}

type entryKey struct {
	ChainID, Account string
	Seq              uint64
}

// RelayQueue stages verified bridge payloads for block proposals.
//
// Order is preserved per (chain, account) sequence;
// there is no ordering guarantee across accounts.
// Payloads are held by value in an arena keyed by
// (chain, account, sequence); the pending and in-flight
// structures hold keys only.
type RelayQueue struct {
	mu sync.Mutex

	arena map[entryKey][]byte

	// Keys awaiting collection, oldest first.
	pending []entryKey

	// Keys collected into a proposal, by proposal height.
	inflight map[uint64][]entryKey
}

func NewRelayQueue() *RelayQueue {
	return &RelayQueue{
		arena:    make(map[entryKey][]byte),
		inflight: make(map[uint64][]entryKey),
	}
}

// Enqueue stages e. Enqueuing the same (chain, account, sequence)
// twice is a no-op; the verifier's sequence check prevents it anyway.
func (q *RelayQueue) Enqueue(e RelayEntry) {
	key := entryKey{ChainID: e.ChainID, Account: e.Account, Seq: e.Seq}

	q.mu.Lock()
	defer q.mu.Unlock()

	if _, ok := q.arena[key]; ok {
		return
	}

	q.arena[key] = bytes.Clone(e.Payload)
	q.pending = append(q.pending, key)
}

// Len returns the number of payloads awaiting collection.
func (q *RelayQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}

// Collect removes up to max pending entries for a proposal at height,
// marking them in-flight against that height.
//
// Either [RelayQueue.Committed] or [RelayQueue.Abandoned]
// must eventually be called with the same height.
func (q *RelayQueue) Collect(height uint64, max int) []RelayEntry {
	q.mu.Lock()
	defer q.mu.Unlock()

	n := min(max, len(q.pending))
	if n <= 0 {
		return nil
	}

	keys := q.pending[:n]
	q.pending = q.pending[n:]

	out := make([]RelayEntry, n)
	for i, key := range keys {
		out[i] = RelayEntry{
			ChainID: key.ChainID,
			Account: key.Account,
			Seq:     key.Seq,
			Payload: bytes.Clone(q.arena[key]),
		}
	}

	q.inflight[height] = append(q.inflight[height], keys...)

	return out
}

// Committed discards the entries that were collected for height;
// the finalized block carries them now.
func (q *RelayQueue) Committed(height uint64) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for _, key := range q.inflight[height] {
		delete(q.arena, key)
	}
	delete(q.inflight, height)
}

// Spent removes entries that arrived in another proposer's
// finalized block, whether they were pending here or not.
// Without this, an entry already carried by a peer's block
// would be proposed again from the local queue.
func (q *RelayQueue) Spent(entries []RelayEntry) {
	if len(entries) == 0 {
		return
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	spent := make(map[entryKey]struct{}, len(entries))
	for _, e := range entries {
		key := entryKey{ChainID: e.ChainID, Account: e.Account, Seq: e.Seq}
		spent[key] = struct{}{}
		delete(q.arena, key)
	}

	kept := q.pending[:0]
	for _, key := range q.pending {
		if _, ok := spent[key]; ok {
			continue
		}
		kept = append(kept, key)
	}
	q.pending = kept
}

// Abandoned returns the entries collected for height to the
// front of the pending queue, in their original order.
// No payload is ever dropped by an abandoned proposal.
func (q *RelayQueue) Abandoned(height uint64) {
	q.mu.Lock()
	defer q.mu.Unlock()

	keys := q.inflight[height]
	if len(keys) == 0 {
		delete(q.inflight, height)
		return
	}

	q.pending = append(append(make([]entryKey, 0, len(keys)+len(q.pending)), keys...), q.pending...)
	delete(q.inflight, height)
}
