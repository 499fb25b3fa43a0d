package collab

import (
	"sync"
)

type documentKind string

const (
	kindLayer  documentKind = "layer"
	kindScheme documentKind = "scheme"
)

// docKey names one persisted document for serialization purposes.
type docKey struct {
	kind documentKind
	id   int64
}

// mutationQueue serializes merge-persist work per document. Each key gets a
// FIFO queue drained by a single goroutine, so the read-merge-write pair for
// a given row never interleaves with another writer of the same row. Jobs
// for different keys run concurrently.
//
// Enqueue order is the caller's event-arrival order; a connection's abrupt
// close does not cancel jobs it already enqueued.
type mutationQueue struct {
	mu      sync.Mutex
	pending map[docKey][]func()
	idle    sync.WaitGroup
}

func newMutationQueue() *mutationQueue {
	return &mutationQueue{pending: make(map[docKey][]func())}
}

// Enqueue appends a job to the key's queue, starting a drain goroutine if
// the key is currently quiet.
func (q *mutationQueue) Enqueue(key docKey, job func()) {
	q.idle.Add(1)
	q.mu.Lock()
	jobs, active := q.pending[key]
	q.pending[key] = append(jobs, job)
	q.mu.Unlock()
	if !active {
		go q.drain(key)
	}
}

func (q *mutationQueue) drain(key docKey) {
	for {
		q.mu.Lock()
		jobs := q.pending[key]
		if len(jobs) == 0 {
			delete(q.pending, key)
			q.mu.Unlock()
			return
		}
		job := jobs[0]
		q.pending[key] = jobs[1:]
		q.mu.Unlock()

		job()
		q.idle.Done()
	}
}

// Flush blocks until every enqueued job has completed.
func (q *mutationQueue) Flush() {
	q.idle.Wait()
}
