package pipeline

import (
	"bytes"
	"context"
	"sync"
	"sync/atomic"
	"time"

	"artnet2ha/internal/artnet"
	"artnet2ha/internal/command"
	"artnet2ha/internal/logger"
	"artnet2ha/internal/mapping"
)

// Engine consumes the receiver's frame stream, decodes every mapped entity
// and feeds the dispatcher. One Engine instance is one bridge run; entity
// state starts empty and dies with it.
type Engine struct {
	logger logger.Logger
	table  *mapping.Table
	disp   *dispatcher

	mu     sync.RWMutex
	states map[string]*entityState

	// Frame change short-circuit, touched only by the run goroutine.
	lastData [artnet.UniverseSize]byte
	haveLast bool
	lastSnap *mapping.Snapshot

	frames      atomic.Uint64
	lastFrameAt atomic.Int64
	done        chan struct{}
}

// NewEngine wires an engine to its mapping table and sink. window is the
// per-entity rate gate; maxInFlight caps concurrent sink calls across all
// entities.
func NewEngine(log logger.Logger, table *mapping.Table, sink command.Sink, window time.Duration, maxInFlight int) *Engine {
	return &Engine{
		logger: log,
		table:  table,
		disp:   newDispatcher(log, sink, window, maxInFlight),
		states: make(map[string]*entityState),
		done:   make(chan struct{}),
	}
}

// Start launches the frame loop. ctx bounds every delivery the engine will
// ever start.
func (e *Engine) Start(ctx context.Context, frames <-chan artnet.Frame) {
	e.disp.ctx = ctx
	go e.run(ctx, frames)
}

// Stop waits for the frame loop to exit and for in-flight deliveries to
// return. Cancel ctx or close the frame channel first.
func (e *Engine) Stop() {
	<-e.done
	e.disp.stop(e.allStates())
}

// Events exposes finished deliveries, failures included. The feed drops
// events when the consumer lags.
func (e *Engine) Events() <-chan DeliveryEvent { return e.disp.events }

// FramesProcessed counts frames that changed something and went through a
// decode pass.
func (e *Engine) FramesProcessed() uint64 { return e.frames.Load() }

// Deliveries reports how many sink calls finished and how many of those
// failed.
func (e *Engine) Deliveries() (total, failed uint64) {
	return e.disp.dispatched.Load(), e.disp.failed.Load()
}

// LastFrame is when the engine last processed a changed frame.
func (e *Engine) LastFrame() (time.Time, bool) {
	ns := e.lastFrameAt.Load()
	if ns == 0 {
		return time.Time{}, false
	}
	return time.Unix(0, ns), true
}

func (e *Engine) run(ctx context.Context, frames <-chan artnet.Frame) {
	defer close(e.done)
	log := e.logger.With(logger.Fields{"module": "pipeline"})
	log.Info("pipeline started")

	for {
		select {
		case <-ctx.Done():
			log.Debug("pipeline stopped")
			return
		case f, ok := <-frames:
			if !ok {
				log.Debug("frame channel closed")
				return
			}
			e.processFrame(&f)
		}
	}
}

func (e *Engine) processFrame(f *artnet.Frame) {
	snap := e.table.Snapshot()
	if snap.Len() == 0 {
		return
	}

	// A frame that repeats the previous values over every mapped channel
	// cannot produce a command; skip the decode pass. A mapping change
	// forces one full pass so new entities pick up their current values.
	max := snap.MaxChannel()
	if e.haveLast && snap == e.lastSnap && bytes.Equal(f.Data[:max], e.lastData[:max]) {
		return
	}
	e.lastData = f.Data
	e.haveLast = true
	e.lastSnap = snap

	e.frames.Add(1)
	e.lastFrameAt.Store(time.Now().UnixNano())

	for _, ent := range snap.Entities() {
		cmd := Decode(f, ent)
		if cmd.Kind == 0 {
			continue
		}
		e.disp.offer(e.state(ent.ID), cmd)
	}
}

// state returns the runtime state for an entity, creating it on first use.
// States persist across mapping swaps so re-mapped entities keep their
// dedup history.
func (e *Engine) state(id string) *entityState {
	e.mu.RLock()
	st := e.states[id]
	e.mu.RUnlock()
	if st != nil {
		return st
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if st := e.states[id]; st != nil {
		return st
	}
	st = &entityState{id: id}
	e.states[id] = st
	return st
}

func (e *Engine) allStates() []*entityState {
	e.mu.RLock()
	defer e.mu.RUnlock()
	states := make([]*entityState, 0, len(e.states))
	for _, st := range e.states {
		states = append(states, st)
	}
	return states
}
