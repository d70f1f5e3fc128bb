package mapping

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"artnet2ha/internal/command"
	"artnet2ha/internal/config"
	"artnet2ha/internal/logger"
)

func testLogger(t *testing.T) *logger.Log {
	t.Helper()
	log, err := logger.NewLogger(config.LogConf{Level: "error"})
	if err != nil {
		t.Fatalf("logger: %v", err)
	}
	return log
}

func testStore(t *testing.T) *Store {
	t.Helper()
	return NewStore(testLogger(t), filepath.Join(t.TempDir(), "entity_mappings.json"))
}

func TestStoreLoadMissingFileStartsEmpty(t *testing.T) {
	s := testStore(t)
	if err := s.Load(); err != nil {
		t.Fatalf("missing file must not error: %v", err)
	}
	if len(s.All()) != 0 {
		t.Fatalf("expected empty set, got %d entities", len(s.All()))
	}
}

func TestStoreLoadSkipsInvalidEntries(t *testing.T) {
	path := filepath.Join(t.TempDir(), "entity_mappings.json")
	raw := `{
		"light.good": {"entity_id": "light.good", "entity_type": "rgb", "dmx_channel": 1, "rgb_channels": [2, 3, 4]},
		"light.bad_channel": {"entity_id": "light.bad_channel", "entity_type": "dimmer", "dmx_channel": 600},
		"light.bad_type": {"entity_id": "light.bad_type", "entity_type": "laser", "dmx_channel": 20},
		"light.overlap": {"entity_id": "light.overlap", "entity_type": "dimmer", "dmx_channel": 3}
	}`
	if err := os.WriteFile(path, []byte(raw), 0o644); err != nil {
		t.Fatal(err)
	}

	s := NewStore(testLogger(t), path)
	if err := s.Load(); err != nil {
		t.Fatalf("load: %v", err)
	}

	all := s.All()
	if len(all) != 1 {
		t.Fatalf("expected 1 surviving entity, got %d", len(all))
	}
	if all[0].ID != "light.good" {
		t.Fatalf("wrong survivor: %s", all[0].ID)
	}
}

func TestStoreLoadFillsIDFromKey(t *testing.T) {
	path := filepath.Join(t.TempDir(), "entity_mappings.json")
	raw := `{"light.hall": {"entity_type": "dimmer", "dmx_channel": 4}}`
	if err := os.WriteFile(path, []byte(raw), 0o644); err != nil {
		t.Fatal(err)
	}

	s := NewStore(testLogger(t), path)
	if err := s.Load(); err != nil {
		t.Fatalf("load: %v", err)
	}
	if e, ok := s.Table().Snapshot().Get("light.hall"); !ok || e.Type != TypeDimmer {
		t.Fatalf("entity not keyed by map key: %+v ok=%v", e, ok)
	}
}

func TestStoreLoadRejectsCorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "entity_mappings.json")
	if err := os.WriteFile(path, []byte("{not json"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := NewStore(testLogger(t), path).Load(); err == nil {
		t.Fatal("corrupt file must error, not wipe the set")
	}
}

func TestStoreMutationsPersist(t *testing.T) {
	path := filepath.Join(t.TempDir(), "entity_mappings.json")
	s := NewStore(testLogger(t), path)
	if err := s.Load(); err != nil {
		t.Fatal(err)
	}

	added, err := s.AutoAssign([]command.DiscoveredEntity{
		{ID: "light.strip", Domain: "light", ColorModes: []string{"rgbw"}},
	}, 1)
	if err != nil || added != 1 {
		t.Fatalf("auto-assign: added=%d err=%v", added, err)
	}

	if err := s.SetChannel("light.strip", 100); err != nil {
		t.Fatalf("set channel: %v", err)
	}
	if err := s.SetType("light.strip", TypeRGB, 200); err != nil {
		t.Fatalf("set type: %v", err)
	}

	// A fresh store over the same file sees the final state.
	reloaded := NewStore(testLogger(t), path)
	if err := reloaded.Load(); err != nil {
		t.Fatal(err)
	}
	e, ok := reloaded.Table().Snapshot().Get("light.strip")
	if !ok {
		t.Fatal("entity lost across reload")
	}
	if e.Type != TypeRGB || e.MasterChannel != 200 {
		t.Fatalf("got %s at %d, want rgb at 200", e.Type, e.MasterChannel)
	}
	if len(e.ColorChannels) != 3 || e.ColorChannels[0] != 201 {
		t.Fatalf("color channels not re-derived: %v", e.ColorChannels)
	}
}

func TestStoreRejectsCollidingMutation(t *testing.T) {
	s := testStore(t)
	if err := s.Load(); err != nil {
		t.Fatal(err)
	}
	if _, err := s.AutoAssign([]command.DiscoveredEntity{
		{ID: "light.a", Domain: "light", ColorModes: []string{"brightness"}},
		{ID: "light.b", Domain: "light", ColorModes: []string{"brightness"}},
	}, 1); err != nil {
		t.Fatal(err)
	}

	// light.a holds channel 1, light.b channel 2.
	err := s.SetChannel("light.b", 1)
	if err == nil || !strings.Contains(err.Error(), "conflict") {
		t.Fatalf("expected channel conflict, got %v", err)
	}
	if e, _ := s.Table().Snapshot().Get("light.b"); e.MasterChannel != 2 {
		t.Fatalf("failed mutation leaked: channel %d", e.MasterChannel)
	}

	if err := s.SetChannel("light.unknown", 5); err == nil {
		t.Fatal("unknown entity must error")
	}
	if err := s.Remove("light.unknown"); err == nil {
		t.Fatal("removing unknown entity must error")
	}
}

func TestStoreRemove(t *testing.T) {
	s := testStore(t)
	if err := s.Load(); err != nil {
		t.Fatal(err)
	}
	if _, err := s.AutoAssign([]command.DiscoveredEntity{
		{ID: "light.a", Domain: "light", ColorModes: []string{"brightness"}},
	}, 1); err != nil {
		t.Fatal(err)
	}

	if err := s.Remove("light.a"); err != nil {
		t.Fatalf("remove: %v", err)
	}
	if len(s.All()) != 0 {
		t.Fatal("entity still present after remove")
	}
}

func TestAutoAssignLaysOutContiguousRuns(t *testing.T) {
	s := testStore(t)
	if err := s.Load(); err != nil {
		t.Fatal(err)
	}

	discovered := []command.DiscoveredEntity{
		{ID: "light.rgb", Name: "Strip", Domain: "light", ColorModes: []string{"rgb"}},
		{ID: "light.dim", Domain: "light", ColorModes: []string{"brightness"}},
		{ID: "sensor.temp", Domain: "sensor"},
		{ID: "switch.fan", Domain: "switch"},
	}
	added, err := s.AutoAssign(discovered, 1)
	if err != nil {
		t.Fatalf("auto-assign: %v", err)
	}
	if added != 3 {
		t.Fatalf("added: got %d, want 3 (sensor skipped)", added)
	}

	snap := s.Table().Snapshot()
	// Sorted by ID: light.dim first (1 channel), then light.rgb (4), then
	// switch.fan (1).
	dim, _ := snap.Get("light.dim")
	rgb, _ := snap.Get("light.rgb")
	fan, _ := snap.Get("switch.fan")
	if dim.MasterChannel != 1 {
		t.Fatalf("light.dim at %d, want 1", dim.MasterChannel)
	}
	if rgb.MasterChannel != 2 || rgb.ColorChannels[2] != 5 {
		t.Fatalf("light.rgb at %d %v, want 2 [3 4 5]", rgb.MasterChannel, rgb.ColorChannels)
	}
	if fan.MasterChannel != 6 {
		t.Fatalf("switch.fan at %d, want 6", fan.MasterChannel)
	}
	if rgb.Name != "Strip" {
		t.Fatalf("name not carried: %q", rgb.Name)
	}

	// Re-running changes nothing.
	added, err = s.AutoAssign(discovered, 1)
	if err != nil || added != 0 {
		t.Fatalf("second run: added=%d err=%v", added, err)
	}
}

func TestAutoAssignSkipsClaimedChannels(t *testing.T) {
	s := testStore(t)
	if err := s.Load(); err != nil {
		t.Fatal(err)
	}
	// Occupy channels 2..5 so a 4-channel run cannot start before 6.
	if _, err := s.AutoAssign([]command.DiscoveredEntity{
		{ID: "light.existing", Domain: "light", ColorModes: []string{"rgb"}},
	}, 2); err != nil {
		t.Fatal(err)
	}

	if _, err := s.AutoAssign([]command.DiscoveredEntity{
		{ID: "light.new", Domain: "light", ColorModes: []string{"hs"}},
	}, 1); err != nil {
		t.Fatal(err)
	}

	e, _ := s.Table().Snapshot().Get("light.new")
	if e.MasterChannel != 6 {
		t.Fatalf("new entity at %d, want 6 (1 is free but too narrow)", e.MasterChannel)
	}
}
