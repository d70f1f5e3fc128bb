package bridge

import (
	"context"
	"errors"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"testing"
	"time"

	"artnet2ha/internal/artnet"
	"artnet2ha/internal/command"
	"artnet2ha/internal/config"
	"artnet2ha/internal/logger"
	"artnet2ha/internal/mapping"
)

type delivered struct {
	entity string
	cmd    command.Command
}

type fakeConnector struct {
	mu         sync.Mutex
	deliveries []delivered
	starts     int
	stops      int
	startErr   error
	up         bool
}

func (f *fakeConnector) Start(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.starts++
	if f.startErr != nil {
		return f.startErr
	}
	f.up = true
	return nil
}

func (f *fakeConnector) Stop() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stops++
	f.up = false
	return nil
}

func (f *fakeConnector) Connected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.up
}

func (f *fakeConnector) Deliver(ctx context.Context, entityID string, cmd command.Command) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deliveries = append(f.deliveries, delivered{entity: entityID, cmd: cmd})
	return nil
}

func (f *fakeConnector) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.deliveries)
}

func (f *fakeConnector) last() delivered {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.deliveries[len(f.deliveries)-1]
}

// discoveringConnector adds an entity inventory on top of fakeConnector.
type discoveringConnector struct {
	fakeConnector
	entities []command.DiscoveredEntity
	listErr  error
}

func (d *discoveringConnector) ListLabeled(ctx context.Context, label string) ([]command.DiscoveredEntity, error) {
	if d.listErr != nil {
		return nil, d.listErr
	}
	return d.entities, nil
}

func testLogger(t *testing.T) *logger.Log {
	t.Helper()
	log, err := logger.NewLogger(config.LogConf{Level: "error"})
	if err != nil {
		t.Fatalf("logger: %v", err)
	}
	return log
}

func freeUDPPort(t *testing.T) int {
	t.Helper()
	conn, err := net.ListenPacket("udp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("probe port: %v", err)
	}
	port := conn.LocalAddr().(*net.UDPAddr).Port
	conn.Close()
	return port
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.ArtNet.BindIP = "127.0.0.1"
	cfg.ArtNet.Port = freeUDPPort(t)
	cfg.ArtNet.Universe = 0
	cfg.Pipeline.ThrottleWindow = config.Duration(20 * time.Millisecond)
	cfg.Bridge.MappingsFile = filepath.Join(t.TempDir(), "mappings.json")
	return cfg
}

func loadStore(t *testing.T, cfg *config.Config, mappings string) *mapping.Store {
	t.Helper()
	if mappings != "" {
		if err := os.WriteFile(cfg.Bridge.MappingsFile, []byte(mappings), 0o644); err != nil {
			t.Fatalf("seed mappings: %v", err)
		}
	}
	st := mapping.NewStore(testLogger(t), cfg.Bridge.MappingsFile)
	if err := st.Load(); err != nil {
		t.Fatalf("load mappings: %v", err)
	}
	return st
}

func sendDMX(t *testing.T, cfg *config.Config, universe uint16, channels []byte) {
	t.Helper()
	addr := net.JoinHostPort(cfg.ArtNet.BindIP, strconv.Itoa(cfg.ArtNet.Port))
	conn, err := net.Dial("udp", addr)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	if _, err := conn.Write(artnet.MarshalDMX(universe, 1, channels)); err != nil {
		t.Fatalf("send: %v", err)
	}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

const dimmerMapping = `{
  "light.desk": {"entity_id": "light.desk", "entity_type": "dimmer", "dmx_channel": 1}
}`

func TestBridgeDeliversFromWire(t *testing.T) {
	cfg := testConfig(t)
	store := loadStore(t, cfg, dimmerMapping)
	sink := &fakeConnector{}

	b := New(context.Background(), testLogger(t), cfg, store, sink)
	if err := b.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	t.Cleanup(b.Stop)

	if !b.Running() {
		t.Fatal("expected bridge to report running")
	}

	sendDMX(t, cfg, 0, []byte{200})
	waitFor(t, "delivery", func() bool { return sink.count() == 1 })

	if got := sink.last(); got.entity != "light.desk" || got.cmd != command.Brightness(200) {
		t.Fatalf("unexpected delivery %s to %s", got.cmd, got.entity)
	}

	st := b.Status()
	if !st.Running || !st.SinkConnected {
		t.Fatalf("status flags wrong: %+v", st)
	}
	if st.PacketsReceived != 1 || st.FramesProcessed != 1 || st.Deliveries != 1 {
		t.Fatalf("status counters wrong: %+v", st)
	}
	if st.EntitiesLoaded != 1 {
		t.Fatalf("entities loaded: got %d, want 1", st.EntitiesLoaded)
	}
	if st.LastUpdate == nil {
		t.Fatal("expected a last update timestamp")
	}
}

func TestBridgeIgnoresForeignUniverse(t *testing.T) {
	cfg := testConfig(t)
	store := loadStore(t, cfg, dimmerMapping)
	sink := &fakeConnector{}

	b := New(context.Background(), testLogger(t), cfg, store, sink)
	if err := b.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	t.Cleanup(b.Stop)

	sendDMX(t, cfg, 7, []byte{200})
	waitFor(t, "drop count", func() bool { return b.Status().PacketsDropped == 1 })

	if sink.count() != 0 {
		t.Fatalf("foreign universe must not deliver, got %d calls", sink.count())
	}
	if st := b.Status(); st.FramesProcessed != 0 {
		t.Fatalf("frames processed: got %d, want 0", st.FramesProcessed)
	}
}

func TestBridgeRestart(t *testing.T) {
	cfg := testConfig(t)
	store := loadStore(t, cfg, dimmerMapping)
	sink := &fakeConnector{}

	b := New(context.Background(), testLogger(t), cfg, store, sink)
	if err := b.Start(); err != nil {
		t.Fatalf("first start: %v", err)
	}
	if err := b.Start(); err == nil {
		t.Fatal("second start on a running bridge must fail")
	}

	sendDMX(t, cfg, 0, []byte{50})
	waitFor(t, "first delivery", func() bool { return sink.count() == 1 })

	b.Stop()
	b.Stop() // idempotent
	if b.Running() {
		t.Fatal("expected bridge to be stopped")
	}

	if err := b.Start(); err != nil {
		t.Fatalf("restart: %v", err)
	}
	t.Cleanup(b.Stop)

	// The restart resets per-entity history, so the same value delivers again.
	sendDMX(t, cfg, 0, []byte{50})
	waitFor(t, "post-restart delivery", func() bool { return sink.count() == 2 })

	sink.mu.Lock()
	starts, stops := sink.starts, sink.stops
	sink.mu.Unlock()
	if starts != 2 || stops != 1 {
		t.Fatalf("sink lifecycle: starts=%d stops=%d", starts, stops)
	}
}

func TestBridgeSinkFailureAbortsStart(t *testing.T) {
	cfg := testConfig(t)
	store := loadStore(t, cfg, "")
	sink := &fakeConnector{startErr: errors.New("broker unreachable")}

	b := New(context.Background(), testLogger(t), cfg, store, sink)
	if err := b.Start(); err == nil {
		t.Fatal("expected start to fail when the sink cannot connect")
	}
	if b.Running() {
		t.Fatal("bridge must not report running after a failed start")
	}
}

func TestBridgeDiscoversEntitiesOnStart(t *testing.T) {
	cfg := testConfig(t)
	store := loadStore(t, cfg, "")
	sink := &discoveringConnector{
		entities: []command.DiscoveredEntity{
			{ID: "light.desk", Name: "Desk", Domain: "light", ColorModes: []string{"brightness"}},
			{ID: "switch.fan", Name: "Fan", Domain: "switch"},
		},
	}

	b := New(context.Background(), testLogger(t), cfg, store, sink)
	if err := b.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	t.Cleanup(b.Stop)

	all := store.All()
	if len(all) != 2 {
		t.Fatalf("expected 2 auto-assigned mappings, got %d", len(all))
	}
	if all[0].ID != "light.desk" || all[0].Type != mapping.TypeDimmer || all[0].MasterChannel != 1 {
		t.Fatalf("unexpected first mapping %+v", all[0])
	}
	if all[1].ID != "switch.fan" || all[1].Type != mapping.TypeSwitch || all[1].MasterChannel != 2 {
		t.Fatalf("unexpected second mapping %+v", all[1])
	}

	// Discovery failures must not block the bridge.
	b.Stop()
	sink.listErr = errors.New("registry unavailable")
	if err := b.Start(); err != nil {
		t.Fatalf("start with failing discovery: %v", err)
	}
}

func TestRefreshEntitiesWithoutInventory(t *testing.T) {
	cfg := testConfig(t)
	store := loadStore(t, cfg, "")
	b := New(context.Background(), testLogger(t), cfg, store, &fakeConnector{})

	if _, err := b.RefreshEntities(context.Background()); err == nil {
		t.Fatal("expected an error when the sink has no inventory")
	}
}
