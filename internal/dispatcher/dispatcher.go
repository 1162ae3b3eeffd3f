// Package dispatcher multiplexes a shared job queue across one or more
// workers and fans results back to subscribers. It exposes GetJob and
// SubmitJobResult over a websocket RPC to workers, and Enqueue/Subscribe as
// plain in-process methods to the host application.
package dispatcher

import (
	"context"
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/arbiter-oj/judge/internal/job"
)

// LanguageInfo is what a worker advertises about one language it supports.
type LanguageInfo struct {
	Key          string `json:"key"`
	Name         string `json:"name"`
	DisplayOrder int    `json:"display_order"`
}

// Dispatcher holds the job queue, the result broadcaster, and the merged
// language catalog.
type Dispatcher struct {
	jobs chan job.Job

	broadcast *broadcaster

	catalogMu sync.RWMutex
	catalog   map[string]LanguageInfo

	logger *logrus.Entry
}

// New constructs a Dispatcher with bounded job and result-broadcast
// buffers.
func New(jobQueueBuffer, resultBroadcastBuffer int) *Dispatcher {
	return &Dispatcher{
		jobs:      make(chan job.Job, jobQueueBuffer),
		broadcast: newBroadcaster(resultBroadcastBuffer),
		catalog:   make(map[string]LanguageInfo),
		logger:    logrus.WithField("component", "dispatcher"),
	}
}

// Enqueue is the host app's in-process interface for submitting a job. It
// blocks if the queue is full, per spec.md §4.4's MPMC queue semantics.
func (d *Dispatcher) Enqueue(ctx context.Context, j job.Job) error {
	select {
	case d.jobs <- j:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Subscribe is the host app's in-process interface for observing results.
// The returned function must be called to release the subscription.
func (d *Dispatcher) Subscribe() (<-chan job.JobResult, func()) {
	return d.broadcast.subscribe()
}

// GetJob is the worker-facing RPC operation: it merges the caller's
// advertised languages into the shared catalog, then blocks until a job is
// available.
func (d *Dispatcher) GetJob(ctx context.Context, languages []LanguageInfo) (job.Job, error) {
	d.mergeCatalog(languages)

	select {
	case j := <-d.jobs:
		return j, nil
	case <-ctx.Done():
		return job.Job{}, ctx.Err()
	}
}

// SubmitJobResult is the worker-facing RPC operation: publish to the
// broadcast channel. It is infallible from the worker's perspective —
// subscriber lag drops the message rather than erroring.
func (d *Dispatcher) SubmitJobResult(result job.JobResult) {
	d.broadcast.publish(result)
}

func (d *Dispatcher) mergeCatalog(languages []LanguageInfo) {
	if len(languages) == 0 {
		return
	}

	d.catalogMu.Lock()
	defer d.catalogMu.Unlock()
	for _, l := range languages {
		d.catalog[l.Key] = l
	}
}

// Catalog returns a snapshot of the merged language catalog.
func (d *Dispatcher) Catalog() map[string]LanguageInfo {
	d.catalogMu.RLock()
	defer d.catalogMu.RUnlock()

	out := make(map[string]LanguageInfo, len(d.catalog))
	for k, v := range d.catalog {
		out[k] = v
	}
	return out
}

// broadcaster is a fan-out channel of JobResults: every subscriber gets
// every publish, except slow subscribers whose buffer is full — their
// oldest pending result is discarded to make room for the newest, so
// publish never blocks (spec.md §4.4: "subscriber lag ⇒ drop, not error").
type broadcaster struct {
	mu     sync.Mutex
	subs   map[int]chan job.JobResult
	nextID int
	buffer int
	logger *logrus.Entry
}

func newBroadcaster(buffer int) *broadcaster {
	return &broadcaster{
		subs:   make(map[int]chan job.JobResult),
		buffer: buffer,
		logger: logrus.WithField("component", "dispatcher.broadcast"),
	}
}

func (b *broadcaster) subscribe() (<-chan job.JobResult, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	id := b.nextID
	b.nextID++
	ch := make(chan job.JobResult, b.buffer)
	b.subs[id] = ch

	unsubscribe := func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if _, ok := b.subs[id]; ok {
			delete(b.subs, id)
			close(ch)
		}
	}
	return ch, unsubscribe
}

func (b *broadcaster) publish(result job.JobResult) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for id, ch := range b.subs {
		select {
		case ch <- result:
		default:
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- result:
			default:
			}
			b.logger.WithField("subscriber_id", id).Warn("dropping oldest result for slow subscriber")
		}
	}
}

var errUnknownMessageType = fmt.Errorf("unknown rpc message type")
