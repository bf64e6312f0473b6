package scanner

import (
	"context"
	"testing"
	"time"

	"github.com/t-ogura/prospector-zmk-module-sub000/internal/config"
	"github.com/t-ogura/prospector-zmk-module-sub000/pkg/prospector"
)

func legacyPayload(s prospector.Status) []byte {
	raw := prospector.BuildLegacy(s)
	out := []byte{byte(1 + len(raw)), 0xFF}
	return append(out, raw[:]...)
}

func namePayload(name string) []byte {
	out := []byte{byte(1 + len(name)), 0x09}
	return append(out, name...)
}

func testScannerConfig() config.ScannerConfig {
	timeout := 500
	return config.ScannerConfig{
		MaxKeyboards: 3,
		TimeoutMS:    &timeout,
		Channel:      0,
		PeriodicSync: true,
	}
}

// startEngine runs the worker goroutines for the duration of the test. The
// table clock is swapped for a fake before anything starts.
func startEngine(t *testing.T, cfg config.ScannerConfig, syncer PeriodicSyncer) (*Engine, *fakeClock) {
	t.Helper()
	eng := New(cfg, syncer, nil)
	clk := newFakeClock()
	eng.table.now = clk.now

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go eng.Run(ctx)
	return eng, clk
}

func eventually(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatal(msg)
}

func nextEvent(t *testing.T, ch <-chan Event) Event {
	t.Helper()
	select {
	case e := <-ch:
		return e
	case <-time.After(time.Second):
		t.Fatal("no event within deadline")
		return Event{}
	}
}

func TestEngineFirstSighting(t *testing.T) {
	eng, _ := startEngine(t, testScannerConfig(), nil)
	events, unsub := eng.Subscribe()
	defer unsub()

	eng.Receiver().OnAdvertisement(addr(1), -55, false, legacyPayload(prospector.Status{
		ActiveLayer:    1,
		BatteryPrimary: 80,
	}))

	ev := nextEvent(t, events)
	if ev.Type != EventFound || ev.Index != 0 {
		t.Fatalf("event = %+v, want Found at 0", ev)
	}
	if ev.Entry.DisplayName != UnknownName {
		t.Errorf("DisplayName = %q, want placeholder", ev.Entry.DisplayName)
	}

	e, ok := eng.Entry(0)
	if !ok || !e.Active || e.LastFrame.BatteryPrimary != 80 {
		t.Errorf("entry = %+v", e)
	}
	if !eng.TakeNudge() {
		t.Error("first sighting did not nudge")
	}
}

func TestEngineScanResponseName(t *testing.T) {
	eng, _ := startEngine(t, testScannerConfig(), nil)
	events, unsub := eng.Subscribe()
	defer unsub()

	eng.Receiver().OnAdvertisement(addr(1), -55, false, legacyPayload(prospector.Status{}))
	nextEvent(t, events) // Found

	eng.Receiver().OnAdvertisement(addr(1), -55, true, namePayload("ErgoBoard"))

	ev := nextEvent(t, events)
	if ev.Type != EventUpdated || ev.Entry.DisplayName != "ErgoBoard" {
		t.Errorf("event = %+v, want Updated with real name", ev)
	}
}

func TestEngineNameFixup(t *testing.T) {
	cfg := testScannerConfig()
	cfg.NameFixups = map[string]string{"LalaPad": "LalaPadmini"}
	eng, _ := startEngine(t, cfg, nil)

	eng.Receiver().OnAdvertisement(addr(1), -55, false, legacyPayload(prospector.Status{}))
	eventually(t, func() bool { return eng.ActiveCount() == 1 }, "entry never appeared")

	eng.Receiver().OnAdvertisement(addr(1), -55, true, namePayload("LalaPad"))
	eventually(t, func() bool {
		e, _ := eng.Entry(0)
		return e.DisplayName == "LalaPadmini"
	}, "truncated name not substituted")
}

func TestEngineTwoKeyboardsSameName(t *testing.T) {
	eng, _ := startEngine(t, testScannerConfig(), nil)
	s := prospector.Status{KeyboardName: "ErgoBoard"}

	eng.Receiver().OnAdvertisement(addr(1), -55, false, legacyPayload(s))
	eng.Receiver().OnAdvertisement(addr(2), -60, false, legacyPayload(s))

	eventually(t, func() bool { return eng.ActiveCount() == 2 }, "want two distinct entries")
}

func TestEngineChannelFilter(t *testing.T) {
	cfg := testScannerConfig()
	cfg.Channel = 3
	eng, _ := startEngine(t, cfg, nil)

	eng.Receiver().OnAdvertisement(addr(1), -55, false, legacyPayload(prospector.Status{Channel: 4}))
	eng.Receiver().OnAdvertisement(addr(2), -55, false, legacyPayload(prospector.Status{Channel: 3}))

	eventually(t, func() bool { return eng.ActiveCount() == 1 }, "matching channel not ingested")

	if _, _, ok := eng.EntryByAddress(addr(1)); ok {
		t.Error("mismatched channel was ingested")
	}
	if _, _, ok := eng.EntryByAddress(addr(2)); !ok {
		t.Error("matching channel entry missing")
	}
}

func TestEngineNonProtocolPayloadIgnored(t *testing.T) {
	eng, _ := startEngine(t, testScannerConfig(), nil)

	// Flags record plus foreign manufacturer data.
	eng.Receiver().OnAdvertisement(addr(1), -55, false, []byte{
		0x02, 0x01, 0x06,
		0x05, 0xFF, 0x4C, 0x00, 0x10, 0x02,
	})
	eng.Receiver().OnAdvertisement(addr(2), -55, false, legacyPayload(prospector.Status{}))

	eventually(t, func() bool { return eng.ActiveCount() == 1 }, "valid frame not ingested")
	if _, _, ok := eng.EntryByAddress(addr(1)); ok {
		t.Error("foreign payload created an entry")
	}
}

func TestEngineTimeoutSweep(t *testing.T) {
	eng, clk := startEngine(t, testScannerConfig(), nil)
	events, unsub := eng.Subscribe()
	defer unsub()

	eng.Receiver().OnAdvertisement(addr(1), -55, false, legacyPayload(prospector.Status{}))
	nextEvent(t, events) // Found

	clk.advance(600 * time.Millisecond)
	eng.Receiver().RequestSweep()

	ev := nextEvent(t, events)
	if ev.Type != EventLost || ev.Index != 0 {
		t.Fatalf("event = %+v, want Lost at 0", ev)
	}
	if eng.ActiveCount() != 0 {
		t.Error("entry still active after sweep")
	}
}

func TestEngineSelectDrivesSync(t *testing.T) {
	radio := &fakeSyncer{}
	eng, _ := startEngine(t, testScannerConfig(), radio)

	eng.Receiver().OnExtendedReport(addr(1), 2, 200)
	eng.Receiver().OnAdvertisement(addr(1), -55, false, legacyPayload(prospector.Status{
		Flags: prospector.FlagHasPeriodic,
	}))
	eventually(t, func() bool { return eng.ActiveCount() == 1 }, "entry never appeared")

	if err := eng.Select(0); err != nil {
		t.Fatal(err)
	}
	if got := eng.SyncState(); got != SyncSyncing {
		t.Fatalf("SyncState = %v, want syncing", got)
	}

	att := radio.attempt(0)
	if att.addr != addr(1) || att.sid != 2 {
		t.Errorf("attempt = %+v, want cached SID used", att)
	}

	att.cb.OnSynced()
	if got := eng.SyncState(); got != SyncSynced {
		t.Errorf("SyncState = %v, want synced", got)
	}

	if err := eng.Select(NoSelection); err != nil {
		t.Fatal(err)
	}
	if got := eng.SyncState(); got != SyncNone {
		t.Errorf("SyncState = %v after deselect, want none", got)
	}
	if !radio.attempt(0).handle.isCancelled() {
		t.Error("deselect did not cancel the sync handle")
	}
}

func TestEngineSelectLegacyOnly(t *testing.T) {
	radio := &fakeSyncer{}
	eng, _ := startEngine(t, testScannerConfig(), radio)

	eng.Receiver().OnAdvertisement(addr(1), -55, false, legacyPayload(prospector.Status{}))
	eventually(t, func() bool { return eng.ActiveCount() == 1 }, "entry never appeared")

	if err := eng.Select(0); err != nil {
		t.Fatal(err)
	}
	if got := eng.SyncState(); got != SyncNone {
		t.Errorf("SyncState = %v, want none for legacy-only target", got)
	}
	if radio.count() != 0 {
		t.Error("sync attempted for legacy-only target")
	}
}

func TestEngineReset(t *testing.T) {
	eng, _ := startEngine(t, testScannerConfig(), &fakeSyncer{})

	eng.Receiver().OnAdvertisement(addr(1), -55, false, legacyPayload(prospector.Status{}))
	eventually(t, func() bool { return eng.ActiveCount() == 1 }, "entry never appeared")
	eng.Select(0)

	eng.Reset()

	if eng.ActiveCount() != 0 {
		t.Error("entries survived reset")
	}
	if eng.SelectedIndex() != NoSelection {
		t.Error("selection survived reset")
	}
	if eng.SyncState() != SyncNone {
		t.Error("sync state survived reset")
	}
}
