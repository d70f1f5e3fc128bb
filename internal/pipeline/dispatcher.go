package pipeline

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"artnet2ha/internal/command"
	"artnet2ha/internal/logger"
	"artnet2ha/internal/metrics"
)

// DeliveryEvent reports one finished sink call.
type DeliveryEvent struct {
	EntityID string
	Command  command.Command
	Err      error
	Latency  time.Duration
}

// entityState is the runtime state for one entity. Every field is guarded
// by mu; handling two entities never shares a lock.
//
// last holds the value of the most recent delivery attempt, successful or
// not. There is no rollback on failure: the next differing frame
// resynchronizes the device.
type entityState struct {
	id string

	mu         sync.Mutex
	hasLast    bool
	last       command.Command
	lastAt     time.Time
	hasPending bool
	pending    command.Command
	flushTimer *time.Timer
	inFlight   bool
}

// dispatcher owns delivery: it drops commands equal to the last attempt,
// coalesces bursts inside the rate window (latest value wins), keeps at most
// one delivery in flight per entity, and caps concurrent sink calls
// globally. Unrelated entities proceed in parallel.
type dispatcher struct {
	logger logger.Logger
	sink   command.Sink
	window time.Duration

	slots  chan struct{}
	events chan DeliveryEvent
	ctx    context.Context

	wg         sync.WaitGroup
	stopped    atomic.Bool
	dispatched atomic.Uint64
	failed     atomic.Uint64
}

func newDispatcher(log logger.Logger, sink command.Sink, window time.Duration, maxInFlight int) *dispatcher {
	if maxInFlight < 1 {
		maxInFlight = 1
	}
	return &dispatcher{
		logger: log,
		sink:   sink,
		window: window,
		slots:  make(chan struct{}, maxInFlight),
		events: make(chan DeliveryEvent, 64),
	}
}

// offer runs the change gate and the rate gate for one decoded command and
// either starts a delivery, parks the value for the next flush, or drops it.
func (d *dispatcher) offer(st *entityState, cmd command.Command) {
	now := time.Now()

	st.mu.Lock()
	defer st.mu.Unlock()

	if st.hasLast && cmd == st.last {
		metrics.AddSuppressed(metrics.GateDuplicate)
		return
	}

	if st.inFlight || (st.hasLast && now.Sub(st.lastAt) < d.window) {
		if st.hasPending {
			metrics.AddSuppressed(metrics.GateCoalesced)
		}
		st.pending = cmd
		st.hasPending = true
		d.scheduleFlushLocked(st, now)
		return
	}

	d.beginDeliveryLocked(st, cmd, now)
}

// scheduleFlushLocked arms the one flush allowed for the current window. If
// the window has already passed the entity is necessarily in flight, and the
// completion callback drains pending instead.
func (d *dispatcher) scheduleFlushLocked(st *entityState, now time.Time) {
	if st.flushTimer != nil {
		return
	}
	delay := st.lastAt.Add(d.window).Sub(now)
	if delay <= 0 {
		return
	}
	st.flushTimer = time.AfterFunc(delay, func() { d.flush(st) })
}

func (d *dispatcher) flush(st *entityState) {
	st.mu.Lock()
	st.flushTimer = nil
	d.drainPendingLocked(st)
	st.mu.Unlock()
}

// drainPendingLocked starts the parked command when the gates allow it. It
// runs after a flush timer fires and after a delivery completes; both paths
// re-check every condition here, so a stale timer is harmless.
func (d *dispatcher) drainPendingLocked(st *entityState) {
	if !st.hasPending || st.inFlight {
		return
	}
	now := time.Now()
	if now.Sub(st.lastAt) < d.window {
		d.scheduleFlushLocked(st, now)
		return
	}
	cmd := st.pending
	st.hasPending = false
	if st.hasLast && cmd == st.last {
		metrics.AddSuppressed(metrics.GateDuplicate)
		return
	}
	d.beginDeliveryLocked(st, cmd, now)
}

func (d *dispatcher) beginDeliveryLocked(st *entityState, cmd command.Command, now time.Time) {
	if d.stopped.Load() {
		return
	}
	st.hasLast = true
	st.last = cmd
	st.lastAt = now
	st.inFlight = true
	d.wg.Add(1)
	go d.deliver(st, cmd)
}

func (d *dispatcher) deliver(st *entityState, cmd command.Command) {
	defer d.wg.Done()

	select {
	case d.slots <- struct{}{}:
	case <-d.ctx.Done():
		d.finish(st, cmd, d.ctx.Err(), 0)
		return
	}

	metrics.IncInFlight()
	start := time.Now()
	err := d.sink.Deliver(d.ctx, st.id, cmd)
	latency := time.Since(start)
	metrics.DecInFlight()
	<-d.slots

	d.finish(st, cmd, err, latency)
}

func (d *dispatcher) finish(st *entityState, cmd command.Command, err error, latency time.Duration) {
	d.dispatched.Add(1)
	result := metrics.ResultSuccess
	if err != nil {
		result = metrics.ResultError
		d.failed.Add(1)
		d.logger.With(logger.Fields{"module": "pipeline", "entity": st.id}).
			Errorf("delivery failed: %v", err)
	}
	metrics.ObserveDelivery(result, latency)
	d.report(DeliveryEvent{EntityID: st.id, Command: cmd, Err: err, Latency: latency})

	st.mu.Lock()
	st.inFlight = false
	d.drainPendingLocked(st)
	st.mu.Unlock()
}

// report never blocks the delivery path; when nobody drains events the
// oldest observations are simply lost.
func (d *dispatcher) report(ev DeliveryEvent) {
	select {
	case d.events <- ev:
	default:
	}
}

// stop disarms pending work and waits for in-flight deliveries to return.
// The sink calls themselves are never cancelled here; they end on their own
// deadline or when ctx dies with the process.
func (d *dispatcher) stop(states []*entityState) {
	d.stopped.Store(true)
	for _, st := range states {
		st.mu.Lock()
		if st.flushTimer != nil {
			st.flushTimer.Stop()
			st.flushTimer = nil
		}
		st.hasPending = false
		st.mu.Unlock()
	}
	d.wg.Wait()
}
