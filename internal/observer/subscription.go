package observer

import (
	"sync"

	"sipwatch.dev/sipwatch/internal/callstore"
)

// maxPendingAdded bounds the added-call backlog a stalled subscriber can
// accumulate before new additions are dropped; changed notifications
// never grow unbounded because they coalesce by Call-ID instead.
const maxPendingAdded = 4096

// inputFailure pairs a failed input's name with the error it reported.
type inputFailure struct {
	name string
	err  error
}

// Subscription delivers Hub notifications to one Observer on its own
// goroutine. The worker-facing side (notifyAdded/notifyChanged/...) never
// blocks: it records the pending notification and flips a single-slot
// wake signal, so a slow or stuck Observer cannot back-pressure the
// capture worker (spec.md §5).
type Subscription struct {
	id  uint64
	hub *Hub
	obs Observer

	wake chan struct{}
	stop chan struct{}
	done chan struct{}

	mu       sync.Mutex
	added    []*callstore.Call
	changed  map[string]*callstore.Call
	cleared  bool
	failures []inputFailure
	closed   bool
}

func newSubscription(id uint64, hub *Hub, obs Observer) *Subscription {
	return &Subscription{
		id:      id,
		hub:     hub,
		obs:     obs,
		wake:    make(chan struct{}, 1),
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
		changed: make(map[string]*callstore.Call),
	}
}

// Close unsubscribes and stops the delivery goroutine, blocking until it
// has exited.
func (s *Subscription) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.mu.Unlock()

	s.hub.unsubscribe(s.id)
	close(s.stop)
	<-s.done
}

func (s *Subscription) notifyAdded(call *callstore.Call) {
	s.mu.Lock()
	if len(s.added) < maxPendingAdded {
		s.added = append(s.added, call)
	}
	s.mu.Unlock()
	s.signal()
}

// notifyChanged coalesces: a call that changes many times while the
// observer is behind is delivered once, as its latest state.
func (s *Subscription) notifyChanged(call *callstore.Call) {
	s.mu.Lock()
	s.changed[call.CallID] = call
	s.mu.Unlock()
	s.signal()
}

func (s *Subscription) notifyCleared() {
	s.mu.Lock()
	s.added = nil
	s.changed = make(map[string]*callstore.Call)
	s.cleared = true
	s.mu.Unlock()
	s.signal()
}

func (s *Subscription) notifyInputFailed(name string, err error) {
	s.mu.Lock()
	s.failures = append(s.failures, inputFailure{name: name, err: err})
	s.mu.Unlock()
	s.signal()
}

func (s *Subscription) signal() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// drain returns and clears everything pending since the last drain.
func (s *Subscription) drain() (added, changed []*callstore.Call, cleared bool, failures []inputFailure) {
	s.mu.Lock()
	defer s.mu.Unlock()

	added = s.added
	s.added = nil

	if len(s.changed) > 0 {
		changed = make([]*callstore.Call, 0, len(s.changed))
		for _, c := range s.changed {
			changed = append(changed, c)
		}
		s.changed = make(map[string]*callstore.Call)
	}

	cleared = s.cleared
	s.cleared = false

	failures = s.failures
	s.failures = nil
	return
}

// run starts the delivery goroutine. It exits once Close is called and
// every already-queued notification has been delivered.
func (s *Subscription) run() {
	go func() {
		defer close(s.done)
		failer, hasFailer := s.obs.(InputFailureObserver)
		for {
			select {
			case <-s.wake:
				s.deliver(failer, hasFailer)
			case <-s.stop:
				s.deliver(failer, hasFailer)
				return
			}
		}
	}()
}

func (s *Subscription) deliver(failer InputFailureObserver, hasFailer bool) {
	added, changed, cleared, failures := s.drain()
	if cleared {
		s.obs.OnCallsCleared()
	}
	for _, c := range added {
		s.obs.OnCallAdded(c)
	}
	for _, c := range changed {
		s.obs.OnCallChanged(c)
	}
	if hasFailer {
		for _, f := range failures {
			failer.OnInputFailed(f.name, f.err)
		}
	}
}
