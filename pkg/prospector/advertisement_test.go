package prospector

import (
	"testing"
)

// adRecord assembles one TLV record: length, type, value.
func adRecord(typ byte, value []byte) []byte {
	out := []byte{byte(1 + len(value)), typ}
	return append(out, value...)
}

func legacyAD(s Status) []byte {
	raw := BuildLegacy(s)
	return adRecord(adTypeManufacturer, raw[:])
}

func TestParseAdvertisementLegacy(t *testing.T) {
	payload := legacyAD(Status{ActiveLayer: 2, Channel: 0, KeyboardName: "ErgoBoard"})

	p := ParseAdvertisement(payload, 0, nil)
	if p.Kind != KindLegacy {
		t.Fatalf("Kind = %v, want legacy", p.Kind)
	}
	if !p.ChannelAccept {
		t.Error("ChannelAccept = false, want true")
	}
	if p.Legacy.ActiveLayer != 2 {
		t.Errorf("ActiveLayer = %d, want 2", p.Legacy.ActiveLayer)
	}
}

func TestParseAdvertisementChannelReject(t *testing.T) {
	payload := legacyAD(Status{Channel: 4})
	p := ParseAdvertisement(payload, 3, nil)
	if p.Kind != KindLegacy {
		t.Fatalf("Kind = %v, want legacy", p.Kind)
	}
	if p.ChannelAccept {
		t.Error("ChannelAccept = true, want reject for scanner 3 / frame 4")
	}
}

func TestParseAdvertisementNonProspector(t *testing.T) {
	tests := []struct {
		name string
		data []byte
	}{
		{name: "empty", data: nil},
		{
			name: "foreign manufacturer data",
			data: adRecord(adTypeManufacturer, []byte{0x4C, 0x00, 0x02, 0x15, 0xAA}),
		},
		{
			name: "signature prefix only",
			data: adRecord(adTypeManufacturer, Signature[:]),
		},
		{
			name: "unknown packet type",
			data: adRecord(adTypeManufacturer, append(append([]byte{}, Signature[:]...), 0x7F)),
		},
		{
			name: "zero length record stops the walk",
			data: append([]byte{0x00}, legacyAD(Status{})...),
		},
		{
			name: "record length past the buffer",
			data: []byte{0x20, adTypeManufacturer, 0xFF, 0xFF},
		},
		{name: "flags record only", data: adRecord(0x01, []byte{0x06})},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := ParseAdvertisement(tt.data, 0, nil)
			if p.Kind != KindNone {
				t.Errorf("Kind = %v, want none", p.Kind)
			}
		})
	}
}

// Any blob whose first four bytes are not the signature parses to nothing,
// regardless of the rest.
func TestSignatureDiscrimination(t *testing.T) {
	raw := BuildLegacy(Status{BatteryPrimary: 50})
	for i := 0; i < 4; i++ {
		mutated := append([]byte(nil), raw[:]...)
		mutated[i] ^= 0x01
		p := ParseAdvertisement(adRecord(adTypeManufacturer, mutated), 0, nil)
		if p.Kind != KindNone {
			t.Errorf("byte %d mutated: Kind = %v, want none", i, p.Kind)
		}
	}
}

func TestParseAdvertisementScanResponseName(t *testing.T) {
	p := ParseAdvertisement(adRecord(adTypeCompleteName, []byte("ErgoBoard")), 0, nil)
	if p.Kind != KindName || p.Name != "ErgoBoard" {
		t.Fatalf("parsed = %+v, want name ErgoBoard", p)
	}

	short := ParseAdvertisement(adRecord(adTypeShortName, []byte("Ergo")), 0, nil)
	if short.Kind != KindName || short.Name != "Ergo" {
		t.Fatalf("parsed = %+v, want short name Ergo", short)
	}
}

func TestParseAdvertisementNameAndData(t *testing.T) {
	payload := append(adRecord(adTypeCompleteName, []byte("Corne")),
		legacyAD(Status{ActiveLayer: 1})...)

	p := ParseAdvertisement(payload, 0, nil)
	if p.Kind != KindLegacy {
		t.Fatalf("Kind = %v, want legacy", p.Kind)
	}
	if p.Name != "Corne" {
		t.Errorf("Name = %q, want Corne (captured alongside data)", p.Name)
	}
}

func TestNameFixups(t *testing.T) {
	fixups := NameFixups{"LalaPad": "LalaPadmini"}

	tests := []struct {
		name string
		in   string
		want string
	}{
		{name: "exact prefix", in: "LalaPad", want: "LalaPadmini"},
		{name: "truncated form", in: "LalaPad_", want: "LalaPadmini"},
		{name: "unrelated name", in: "ErgoBoard", want: "ErgoBoard"},
		{name: "empty", in: "", want: ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := fixups.Apply(tt.in); got != tt.want {
				t.Errorf("Apply(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}

	p := ParseAdvertisement(adRecord(adTypeCompleteName, []byte("LalaPad")), 0, fixups)
	if p.Name != "LalaPadmini" {
		t.Errorf("fixed-up name = %q, want LalaPadmini", p.Name)
	}
}

func TestParseAdvertisementPeriodicVariants(t *testing.T) {
	dynRaw := BuildDynamic(&DynamicFrame{Seq: 9, ActiveLayer: 1})
	p := ParseAdvertisement(adRecord(adTypeManufacturer, dynRaw[:]), 0, nil)
	if p.Kind != KindDynamic || p.Dynamic.Seq != 9 {
		t.Fatalf("dynamic parsed = %+v", p)
	}

	statRaw := BuildStatic(&StaticFrame{Name: "Corne"})
	p = ParseAdvertisement(adRecord(adTypeManufacturer, statRaw[:]), 0, nil)
	if p.Kind != KindStatic || p.Static.Name != "Corne" {
		t.Fatalf("static parsed = %+v", p)
	}
}

func TestPeriodicSetAnnouncement(t *testing.T) {
	p := PeriodicSetAnnouncement(2, 200)
	if p.Kind != KindPeriodicSet || p.SID != 2 || p.IntervalMS != 200 {
		t.Fatalf("announcement = %+v", p)
	}
}
