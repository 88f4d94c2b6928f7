// Package broker fans controller reports out to live subscribers.
package broker

import (
	"sync"

	"github.com/seantiz/dutharness/internal/model"
)

// subscriberBufferSize is the channel buffer for each subscriber.
// Reports are dropped if a subscriber falls this far behind.
const subscriberBufferSize = 64

// maxEndedRuns bounds how many ended run IDs are remembered for late
// subscribers.
const maxEndedRuns = 1024

// Broker delivers reports to per-run subscribers and to firehose
// subscribers that see every report. It is safe for concurrent use.
//
// A run topic closes when its terminal report is published and is then
// dropped. The most recent ended runs are remembered so that late
// subscribers receive a closed channel instead of blocking forever. Older
// runs look like runs that have not reported yet; callers read the stored
// history first.
type Broker struct {
	mu       sync.Mutex
	topics   map[string]*topic
	all      *topic
	ended    map[string]struct{}
	endedIDs []string
	shutdown bool
}

type topic struct {
	subs   map[int]chan model.Report
	nextID int
	closed bool
}

func newTopic() *topic {
	return &topic{subs: make(map[int]chan model.Report)}
}

// New creates a new broker.
func New() *Broker {
	return &Broker{
		topics: make(map[string]*topic),
		all:    newTopic(),
		ended:  make(map[string]struct{}),
	}
}

// Subscribe returns a channel that receives reports for the given run and an
// unsubscribe function. The channel is closed after the run's terminal
// report; if the run is known to have ended it is returned closed.
func (b *Broker) Subscribe(runID string) (<-chan model.Report, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, ok := b.ended[runID]; ok || b.shutdown {
		return closedChan(), func() {}
	}

	t, ok := b.topics[runID]
	if !ok {
		t = newTopic()
		b.topics[runID] = t
	}
	return b.subscribe(t, func() {
		// Drop the topic with its last subscriber.
		if len(t.subs) == 0 && b.topics[runID] == t {
			delete(b.topics, runID)
		}
	})
}

// SubscribeAll returns a channel that receives every published report,
// including reports not tied to a run, and an unsubscribe function.
func (b *Broker) SubscribeAll() (<-chan model.Report, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	return b.subscribe(b.all, nil)
}

// subscribe must be called with b.mu held. onUnsub runs under b.mu after
// the subscriber is removed.
func (b *Broker) subscribe(t *topic, onUnsub func()) (<-chan model.Report, func()) {
	if t.closed {
		return closedChan(), func() {}
	}

	ch := make(chan model.Report, subscriberBufferSize)
	id := t.nextID
	t.nextID++
	t.subs[id] = ch

	return ch, func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		delete(t.subs, id)
		if onUnsub != nil {
			onUnsub()
		}
	}
}

// Publish sends r to firehose subscribers and to subscribers of r's run.
// Reports are dropped for subscribers whose buffers are full. A terminal
// report closes the run's topic.
func (b *Broker) Publish(r model.Report) {
	b.mu.Lock()
	defer b.mu.Unlock()

	send(b.all, r)

	if r.RunID == "" {
		return
	}
	if _, ok := b.ended[r.RunID]; ok {
		return
	}

	if t, ok := b.topics[r.RunID]; ok {
		send(t, r)
		if r.Status.Terminal() {
			closeTopic(t)
			delete(b.topics, r.RunID)
		}
	}
	if r.Status.Terminal() {
		b.markEnded(r.RunID)
	}
}

// markEnded must be called with b.mu held.
func (b *Broker) markEnded(runID string) {
	if len(b.endedIDs) >= maxEndedRuns {
		delete(b.ended, b.endedIDs[0])
		b.endedIDs[0] = ""
		b.endedIDs = b.endedIDs[1:]
	}
	b.ended[runID] = struct{}{}
	b.endedIDs = append(b.endedIDs, runID)
}

// Len returns the number of runs with open topics.
func (b *Broker) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.topics)
}

// Shutdown closes every subscriber channel, including firehose ones.
// Subsequent subscriptions return closed channels.
func (b *Broker) Shutdown() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.shutdown = true
	closeTopic(b.all)
	for id, t := range b.topics {
		closeTopic(t)
		delete(b.topics, id)
	}
}

func closedChan() <-chan model.Report {
	ch := make(chan model.Report)
	close(ch)
	return ch
}

func send(t *topic, r model.Report) {
	if t.closed {
		return
	}
	for _, ch := range t.subs {
		select {
		case ch <- r:
		default:
			// Drop for slow subscribers to avoid blocking the controller.
		}
	}
}

func closeTopic(t *topic) {
	t.closed = true
	for id, ch := range t.subs {
		close(ch)
		delete(t.subs, id)
	}
}
