package prospector

import (
	"bytes"
	"strings"
)

// AD record types the walker cares about. Everything else is skipped.
const (
	adTypeShortName    = 0x08
	adTypeCompleteName = 0x09
	adTypeManufacturer = 0xFF
)

// RecordKind discriminates the parsed-record sum type.
type RecordKind int

const (
	// KindNone means the payload carried nothing of ours; drop silently.
	KindNone RecordKind = iota
	// KindLegacy is a legacy status frame plus the channel-filter decision.
	KindLegacy
	// KindDynamic is a periodic dynamic frame.
	KindDynamic
	// KindStatic is a periodic static frame.
	KindStatic
	// KindName is a scan-response carrying only a device name.
	KindName
	// KindPeriodicSet is a periodic-advertising set announcement observed
	// on the extended-scanning channel; produced by the radio layer, not
	// the TLV walker.
	KindPeriodicSet
)

func (k RecordKind) String() string {
	switch k {
	case KindNone:
		return "none"
	case KindLegacy:
		return "legacy"
	case KindDynamic:
		return "dynamic"
	case KindStatic:
		return "static"
	case KindName:
		return "name"
	case KindPeriodicSet:
		return "periodic-set"
	default:
		return "unknown"
	}
}

// Parsed is one advertisement reduced to the variant the scanner consumes.
// Exactly the fields for the active Kind are populated.
type Parsed struct {
	Kind RecordKind

	Legacy        *LegacyFrame
	ChannelAccept bool

	Dynamic *DynamicFrame
	Static  *StaticFrame

	Name string

	// Periodic-set announcement fields.
	SID        uint8
	IntervalMS uint16
}

// NameFixups maps a known truncated advertising-name prefix to the full
// name used on that network. Deployment specific and data driven; the
// scanner seeds it from configuration.
type NameFixups map[string]string

// Apply substitutes the full name when the observed name begins with a
// known truncation prefix. Longest prefix wins.
func (nf NameFixups) Apply(name string) string {
	best := ""
	for prefix := range nf {
		if strings.HasPrefix(name, prefix) && len(prefix) > len(best) {
			best = prefix
		}
	}
	if best == "" {
		return name
	}
	return nf[best]
}

// ParseAdvertisement walks the typed-length-value records of an on-air
// payload and reduces it to a single Parsed variant. A record declaring
// zero length is malformed and terminates the walk. Manufacturer data wins
// over a name record when both are present; the name is still captured so
// the caller sees it in the same pass.
func ParseAdvertisement(data []byte, scannerChannel uint8, fixups NameFixups) Parsed {
	var (
		out  Parsed
		name string
	)

	for len(data) > 0 {
		recLen := int(data[0])
		if recLen == 0 || 1+recLen > len(data) {
			break
		}
		recType := data[1]
		value := data[2 : 1+recLen]

		switch recType {
		case adTypeShortName, adTypeCompleteName:
			name = fixups.Apply(string(value))

		case adTypeManufacturer:
			if p, ok := parseManufacturer(value, scannerChannel); ok {
				out = p
			}
		}

		data = data[1+recLen:]
	}

	if out.Kind == KindNone && name != "" {
		return Parsed{Kind: KindName, Name: name}
	}
	out.Name = name
	return out
}

// parseManufacturer attempts the longest matching frame variant for a
// manufacturer-data record. Unknown packet types and short residuals are
// rejected.
func parseManufacturer(value []byte, scannerChannel uint8) (Parsed, bool) {
	if len(value) < 4 || !bytes.Equal(value[0:4], Signature[:]) {
		return Parsed{}, false
	}

	if len(value) < 5 {
		return Parsed{}, false
	}

	// Byte 4 uniquely selects the variant: the legacy schema version or a
	// periodic packet type. Anything else is an unknown packet type.
	switch value[4] {
	case PacketTypeDynamic:
		if f, err := ParseDynamic(value); err == nil {
			return Parsed{Kind: KindDynamic, Dynamic: f}, true
		}
	case PacketTypeStatic:
		if f, err := ParseStatic(value); err == nil {
			return Parsed{Kind: KindStatic, Static: f}, true
		}
	case SchemaVersion:
		if f, err := ParseLegacy(value); err == nil {
			return Parsed{
				Kind:          KindLegacy,
				Legacy:        f,
				ChannelAccept: ChannelAccept(scannerChannel, f.Channel),
			}, true
		}
	}
	return Parsed{}, false
}

// PeriodicSetAnnouncement builds the parsed record the radio layer emits
// when the extended-scan callback observes an advertising set.
func PeriodicSetAnnouncement(sid uint8, intervalMS uint16) Parsed {
	return Parsed{Kind: KindPeriodicSet, SID: sid, IntervalMS: intervalMS}
}
