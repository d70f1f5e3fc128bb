// Package bridge assembles the receiver, mapping table, pipeline and sink
// into one unit the API can start, stop and inspect.
package bridge

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"artnet2ha/internal/artnet"
	"artnet2ha/internal/command"
	"artnet2ha/internal/config"
	"artnet2ha/internal/logger"
	"artnet2ha/internal/mapping"
	"artnet2ha/internal/pipeline"
)

// Connector is the lifecycle surface both sink clients share.
type Connector interface {
	command.Sink
	Start(ctx context.Context) error
	Stop() error
	Connected() bool
}

// Status is the snapshot the HTTP API reports.
type Status struct {
	Running         bool       `json:"is_running"`
	ArtNetRunning   bool       `json:"artnet_running"`
	SinkConnected   bool       `json:"sink_connected"`
	EntitiesLoaded  int        `json:"entities_loaded"`
	PacketsReceived uint64     `json:"packets_received"`
	PacketsDropped  uint64     `json:"packets_dropped"`
	FramesProcessed uint64     `json:"frames_processed"`
	Deliveries      uint64     `json:"deliveries"`
	DeliveryErrors  uint64     `json:"delivery_errors"`
	LastUpdate      *time.Time `json:"last_update,omitempty"`
	LastError       string     `json:"last_error,omitempty"`
}

// Bridge owns one runnable DMX-to-sink path. Start builds a fresh receiver
// and pipeline each time, so a stopped bridge restarts clean.
type Bridge struct {
	logger    logger.Logger
	cfg       *config.Config
	store     *mapping.Store
	sink      Connector
	inventory command.Inventory
	base      context.Context

	mu       sync.Mutex
	running  bool
	cancel   context.CancelFunc
	receiver *artnet.Receiver
	engine   *pipeline.Engine
	lastErr  string
}

// New wires a bridge. ctx bounds everything the bridge will ever run; sinks
// that implement command.Inventory get entity discovery on start.
func New(ctx context.Context, log logger.Logger, cfg *config.Config, store *mapping.Store, sink Connector) *Bridge {
	b := &Bridge{
		logger: log,
		cfg:    cfg,
		store:  store,
		sink:   sink,
		base:   ctx,
	}
	if inv, ok := sink.(command.Inventory); ok {
		b.inventory = inv
	}
	return b
}

// Start connects the sink, refreshes the entity inventory when the sink
// supports it, and brings up the receive and dispatch path.
func (b *Bridge) Start() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	log := b.logger.With(logger.Fields{"module": "bridge"})
	if b.running {
		return errors.New("bridge already running")
	}

	runCtx, cancel := context.WithCancel(b.base)

	if err := b.sink.Start(runCtx); err != nil {
		cancel()
		return fmt.Errorf("bridge: sink: %w", err)
	}

	if b.inventory != nil {
		if added, err := b.RefreshEntities(runCtx); err != nil {
			log.Warningf("entity discovery failed: %v", err)
		} else if added > 0 {
			log.Infof("auto-assigned %d new entities", added)
		}
	}

	frames := make(chan artnet.Frame, 64)
	receiver := artnet.NewReceiver(b.logger, b.cfg.ArtNet)
	engine := pipeline.NewEngine(b.logger, b.store.Table(), b.sink,
		b.cfg.Pipeline.ThrottleWindow.Duration(), b.cfg.Pipeline.MaxInFlight)

	if err := receiver.Start(runCtx, frames); err != nil {
		cancel()
		_ = b.sink.Stop()
		return fmt.Errorf("bridge: receiver: %w", err)
	}
	engine.Start(runCtx, frames)
	go b.consumeEvents(runCtx, engine.Events())

	b.cancel = cancel
	b.receiver = receiver
	b.engine = engine
	b.running = true
	b.lastErr = ""
	log.Info("bridge started")
	return nil
}

// Stop tears the path down in reverse: no new frames, drain deliveries,
// drop the sink connection. Safe to call on a stopped bridge.
func (b *Bridge) Stop() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.running {
		return
	}
	b.cancel()
	b.receiver.Stop()
	b.engine.Stop()
	_ = b.sink.Stop()
	b.running = false
	b.logger.With(logger.Fields{"module": "bridge"}).Info("bridge stopped")
}

// Running reports whether the path is up.
func (b *Bridge) Running() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.running
}

// RefreshEntities asks the sink for entities carrying the configured label
// and auto-assigns channels to any that are not mapped yet. Returns how
// many mappings were added.
func (b *Bridge) RefreshEntities(ctx context.Context) (int, error) {
	if b.inventory == nil {
		return 0, errors.New("bridge: sink has no entity inventory")
	}
	discovered, err := b.inventory.ListLabeled(ctx, b.cfg.HA.Label)
	if err != nil {
		return 0, err
	}
	return b.store.AutoAssign(discovered, b.cfg.Bridge.StartChannel)
}

// Status snapshots the bridge for the API. Counters survive a stop so the
// last run stays inspectable.
func (b *Bridge) Status() Status {
	b.mu.Lock()
	defer b.mu.Unlock()

	s := Status{
		Running:        b.running,
		ArtNetRunning:  b.running && b.receiver != nil,
		SinkConnected:  b.sink.Connected(),
		EntitiesLoaded: len(b.store.All()),
		LastError:      b.lastErr,
	}
	if b.receiver != nil {
		s.PacketsReceived, s.PacketsDropped, _ = b.receiver.Stats()
	}
	if b.engine != nil {
		s.FramesProcessed = b.engine.FramesProcessed()
		s.Deliveries, s.DeliveryErrors = b.engine.Deliveries()
		if t, ok := b.engine.LastFrame(); ok {
			s.LastUpdate = &t
		}
	}
	return s
}

// consumeEvents drains the delivery feed for one run: successes at debug,
// failures into the status snapshot.
func (b *Bridge) consumeEvents(ctx context.Context, events <-chan pipeline.DeliveryEvent) {
	log := b.logger.With(logger.Fields{"module": "bridge"})
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-events:
			if ev.Err != nil {
				b.mu.Lock()
				b.lastErr = fmt.Sprintf("%s: %v", ev.EntityID, ev.Err)
				b.mu.Unlock()
				continue
			}
			log.Debugf("delivered %s to %s in %s", ev.Command, ev.EntityID, ev.Latency)
		}
	}
}
