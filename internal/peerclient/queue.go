package peerclient

import "sync"

// Segment is a byte range of a larger peer response scheduled onto the
// fetch work queue (§4.4, GLOSSARY "Segment").
type Segment struct {
	FromByte   uint64
	ToByte     uint64
	PosInArray int
}

// FetchQueue is the work-stealing queue §4.4 describes: each item is
// either a Segment or a bare block number, scheduled across a pool of
// per-peer workers. An item a worker has failed on is tagged so a
// different worker (bound to a different peer) picks it up next, giving
// per-request failover without re-queuing onto the same peer.
type FetchQueue struct {
	mu    sync.Mutex
	items []*queueItem
}

type queueItem struct {
	blockNumber uint64
	segment     *Segment
	tried       map[string]bool // peer base URLs that have already failed on this item
	done        bool
}

// NewFetchQueue builds a queue over block numbers [from, from+count).
func NewFetchQueue(from uint64, count int) *FetchQueue {
	q := &FetchQueue{}
	for i := 0; i < count; i++ {
		q.items = append(q.items, &queueItem{blockNumber: from + uint64(i), tried: make(map[string]bool)})
	}
	return q
}

// NewSegmentQueue builds a queue over explicit byte-range segments.
func NewSegmentQueue(segments []Segment) *FetchQueue {
	q := &FetchQueue{}
	for i := range segments {
		seg := segments[i]
		q.items = append(q.items, &queueItem{segment: &seg, tried: make(map[string]bool)})
	}
	return q
}

// Claim returns the next item this peer has not already failed on, or
// false if every remaining item has been tried by peer or the queue is
// exhausted. The caller must report the outcome via Succeed or Fail.
func (q *FetchQueue) Claim(peer string) (blockNumber uint64, segment *Segment, ok bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for _, it := range q.items {
		if it.done || it.tried[peer] {
			continue
		}
		it.tried[peer] = true
		if it.segment != nil {
			return 0, it.segment, true
		}
		return it.blockNumber, nil, true
	}
	return 0, nil, false
}

// Succeed marks the item identified by blockNumber/segment as complete.
func (q *FetchQueue) Succeed(blockNumber uint64, segment *Segment) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for _, it := range q.items {
		if q.matches(it, blockNumber, segment) {
			it.done = true
			return
		}
	}
}

// Fail leaves the item pending so another worker (bound to a different
// peer) can Claim it; the failing peer is already recorded in tried.
func (q *FetchQueue) Fail(blockNumber uint64, segment *Segment) {
	// No-op beyond what Claim already recorded: the item remains pending
	// and ineligible for the same peer, exactly the §4.4 failover rule.
}

// Exhausted reports whether every item is done, or whether every
// remaining item has been tried by all of peers (meaning the whole
// do_process call should fail per §4.4/§7).
func (q *FetchQueue) Exhausted(peers []string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	for _, it := range q.items {
		if it.done {
			continue
		}
		for _, p := range peers {
			if !it.tried[p] {
				return false
			}
		}
	}
	return true
}

// Remaining reports how many items have not yet succeeded.
func (q *FetchQueue) Remaining() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	n := 0
	for _, it := range q.items {
		if !it.done {
			n++
		}
	}
	return n
}

func (q *FetchQueue) matches(it *queueItem, blockNumber uint64, segment *Segment) bool {
	if it.segment != nil {
		return segment != nil && *it.segment == *segment
	}
	return segment == nil && it.blockNumber == blockNumber
}
