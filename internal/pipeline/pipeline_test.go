package pipeline

import (
	"context"
	"testing"
	"time"

	"artnet2ha/internal/artnet"
	"artnet2ha/internal/command"
	"artnet2ha/internal/mapping"
)

func startEngine(t *testing.T, sink command.Sink, entities []mapping.Entity) (*Engine, chan artnet.Frame) {
	t.Helper()

	table := mapping.NewTable()
	table.Replace(entities)

	eng := NewEngine(testLogger(t), table, sink, 10*time.Millisecond, 4)
	ctx, cancel := context.WithCancel(context.Background())
	frames := make(chan artnet.Frame, 8)
	eng.Start(ctx, frames)
	t.Cleanup(func() {
		cancel()
		eng.Stop()
	})
	return eng, frames
}

func TestEngineDeliversMappedEntities(t *testing.T) {
	sink := newRecordingSink()
	eng, frames := startEngine(t, sink, []mapping.Entity{
		{ID: "light.hall", Type: mapping.TypeDimmer, MasterChannel: 1},
		{ID: "switch.fan", Type: mapping.TypeSwitch, MasterChannel: 2},
	})

	var f artnet.Frame
	f.Data[0] = 200
	f.Data[1] = 255
	frames <- f
	waitFor(t, time.Second, func() bool { return sink.count() == 2 }, "both mapped entities must be delivered")

	// The same frame again carries no change and must cost nothing.
	frames <- f
	time.Sleep(50 * time.Millisecond)
	if got := sink.count(); got != 2 {
		t.Fatalf("unchanged frame caused %d deliveries", got-2)
	}
	if eng.FramesProcessed() != 1 {
		t.Fatalf("frames processed: got %d, want 1", eng.FramesProcessed())
	}

	// Flip only the switch channel: the dimmer decodes to the same value
	// and stays quiet.
	f2 := f
	f2.Data[1] = 100
	frames <- f2
	waitFor(t, time.Second, func() bool { return sink.count() == 3 }, "changed entity missing redelivery")
	time.Sleep(50 * time.Millisecond)
	if got := sink.count(); got != 3 {
		t.Fatalf("unchanged entity was redelivered, %d calls", got)
	}

	last := sink.call(2)
	if last.entity != "switch.fan" {
		t.Fatalf("third delivery went to %s", last.entity)
	}
	if last.cmd != command.Power(false) {
		t.Fatalf("switch at 100 must turn off, got %s", last.cmd)
	}

	total, failed := eng.Deliveries()
	if total != 3 || failed != 0 {
		t.Fatalf("deliveries: got %d/%d failed, want 3/0", total, failed)
	}
	if _, ok := eng.LastFrame(); !ok {
		t.Fatal("last frame timestamp missing")
	}
}

func TestEngineIdlesWithoutMappings(t *testing.T) {
	sink := newRecordingSink()
	eng, frames := startEngine(t, sink, nil)

	var f artnet.Frame
	f.Data[0] = 255
	frames <- f
	time.Sleep(50 * time.Millisecond)

	if sink.count() != 0 {
		t.Fatalf("unmapped frame produced %d deliveries", sink.count())
	}
	if eng.FramesProcessed() != 0 {
		t.Fatalf("frames processed: got %d, want 0", eng.FramesProcessed())
	}
}

func TestEngineRunsFullPassAfterMappingChange(t *testing.T) {
	sink := newRecordingSink()
	table := mapping.NewTable()
	table.Replace([]mapping.Entity{
		{ID: "light.hall", Type: mapping.TypeDimmer, MasterChannel: 1},
	})

	eng := NewEngine(testLogger(t), table, sink, 10*time.Millisecond, 4)
	ctx, cancel := context.WithCancel(context.Background())
	frames := make(chan artnet.Frame, 8)
	eng.Start(ctx, frames)
	t.Cleanup(func() {
		cancel()
		eng.Stop()
	})

	var f artnet.Frame
	f.Data[0] = 120
	f.Data[9] = 80
	frames <- f
	waitFor(t, time.Second, func() bool { return sink.count() == 1 }, "initial delivery missing")

	// A new mapping must see its current value even though the frame data
	// itself repeats.
	table.Replace([]mapping.Entity{
		{ID: "light.hall", Type: mapping.TypeDimmer, MasterChannel: 1},
		{ID: "light.desk", Type: mapping.TypeDimmer, MasterChannel: 10},
	})
	frames <- f
	waitFor(t, time.Second, func() bool { return sink.count() == 2 }, "new mapping never picked up")

	last := sink.call(1)
	if last.entity != "light.desk" || last.cmd != command.Brightness(80) {
		t.Fatalf("got %s for %s, want brightness:80 for light.desk", last.cmd, last.entity)
	}
}
