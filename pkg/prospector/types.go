// Package prospector implements the Prospector status-advertisement wire
// format: the 26-byte legacy manufacturer-data frame broadcast by keyboards,
// the extended periodic frames (dynamic and static), and the advertisement
// TLV walker used on the scanner side.
package prospector

import (
	"encoding/hex"
	"fmt"
	"strings"
)

// Frame signature: two bytes of reserved manufacturer id followed by the
// two-byte Prospector service identifier. Every valid payload starts with it.
var Signature = [4]byte{0xFF, 0xFF, 0xAB, 0xCD}

// SchemaVersion is the only legacy schema this implementation speaks.
// Frames carrying any other version byte are rejected.
const SchemaVersion = 1

const (
	// LegacyFrameSize is the fixed size of the legacy manufacturer payload.
	LegacyFrameSize = 26

	// DynamicFrameSize is the fixed size of the periodic dynamic payload.
	DynamicFrameSize = 29

	// StaticFrameMinSize is the minimum size of the periodic static payload.
	StaticFrameMinSize = 127

	// MaxDynamicPayload bounds the dynamic frame to the periodic PDU budget.
	MaxDynamicPayload = 31
)

// Packet type discriminators for periodic frames (first byte after the
// signature). Chosen outside the legacy schema-version space so byte 4
// uniquely selects the frame variant.
const (
	PacketTypeDynamic = 0xD1
	PacketTypeStatic  = 0xD2
)

// Channel values with wildcard semantics on the scanner side.
const (
	ChannelLegacyAll   = 0  // pre-channel broadcasters, accept everywhere
	ChannelExplicitAll = 10 // scanner configured to accept every channel
	ChannelMax         = 10
)

// DeviceRole identifies the split-keyboard role of a broadcaster.
type DeviceRole uint8

const (
	RoleStandalone DeviceRole = 0
	RoleCentral    DeviceRole = 1
	RolePeripheral DeviceRole = 2
)

func (r DeviceRole) String() string {
	switch r {
	case RoleStandalone:
		return "standalone"
	case RoleCentral:
		return "central"
	case RolePeripheral:
		return "peripheral"
	default:
		return fmt.Sprintf("role(%d)", uint8(r))
	}
}

// StatusFlags is the legacy frame's status bitfield (byte 9).
type StatusFlags uint8

const (
	FlagCapsWord     StatusFlags = 1 << 0
	FlagCharging     StatusFlags = 1 << 1
	FlagUSBAttached  StatusFlags = 1 << 2
	FlagUSBHIDReady  StatusFlags = 1 << 3
	FlagBLEConnected StatusFlags = 1 << 4
	FlagBLEBonded    StatusFlags = 1 << 5
	FlagHasPeriodic  StatusFlags = 1 << 6
	FlagHasPointer   StatusFlags = 1 << 7
)

// Has reports whether all bits in mask are set.
func (f StatusFlags) Has(mask StatusFlags) bool { return f&mask == mask }

// Modifier bit positions within each nibble of the modifier byte.
// Low nibble is the left side, high nibble the right side.
const (
	ModCtrl  = 1 << 0
	ModShift = 1 << 1
	ModAlt   = 1 << 2
	ModGUI   = 1 << 3
)

// ModifierFlags packs left/right modifier nibbles (byte 23 of the legacy
// frame).
type ModifierFlags uint8

// Left returns the left-side modifier nibble.
func (m ModifierFlags) Left() uint8 { return uint8(m) & 0x0F }

// Right returns the right-side modifier nibble.
func (m ModifierFlags) Right() uint8 { return uint8(m) >> 4 }

// IndicatorFlags is the dynamic frame's lock/sticky indicator byte.
type IndicatorFlags uint8

const (
	IndicatorCapsLock   IndicatorFlags = 1 << 0
	IndicatorNumLock    IndicatorFlags = 1 << 1
	IndicatorScrollLock IndicatorFlags = 1 << 2
	IndicatorStickyKey  IndicatorFlags = 1 << 3
)

// Feature bits advertised in the static frame's feature bitmap.
const (
	FeatureTrackball uint16 = 1 << 0
	FeatureUnderglow uint16 = 1 << 1
	FeatureBacklight uint16 = 1 << 2
	FeatureEncoder   uint16 = 1 << 3
	FeatureDisplay   uint16 = 1 << 4
)

// AddrTypePublic and AddrTypeRandom are the radio address type byte values.
const (
	AddrTypePublic = 0
	AddrTypeRandom = 1
)

// Addr is a radio device address: six address bytes plus a type byte.
// It is the scanner's primary identity key.
type Addr struct {
	MAC  [6]byte
	Type uint8
}

// String renders the address in the usual colon-separated form.
func (a Addr) String() string {
	return fmt.Sprintf("%02X:%02X:%02X:%02X:%02X:%02X",
		a.MAC[5], a.MAC[4], a.MAC[3], a.MAC[2], a.MAC[1], a.MAC[0])
}

// ParseAddr parses a colon-separated address string as printed by String.
func ParseAddr(s string) (Addr, error) {
	var a Addr
	parts := strings.Split(s, ":")
	if len(parts) != 6 {
		return a, fmt.Errorf("invalid address %q", s)
	}
	for i, p := range parts {
		b, err := hex.DecodeString(p)
		if err != nil || len(b) != 1 {
			return a, fmt.Errorf("invalid address %q", s)
		}
		a.MAC[5-i] = b[0]
	}
	return a, nil
}

// IsZero reports whether the address bytes are all zero.
func (a Addr) IsZero() bool { return a.MAC == [6]byte{} }

// MarshalJSON renders the address in its colon-separated text form.
func (a Addr) MarshalJSON() ([]byte, error) {
	return []byte(`"` + a.String() + `"`), nil
}

// UnmarshalJSON parses the colon-separated text form.
func (a *Addr) UnmarshalJSON(data []byte) error {
	s := strings.Trim(string(data), `"`)
	parsed, err := ParseAddr(s)
	if err != nil {
		return err
	}
	*a = parsed
	return nil
}

// KeyboardID computes the 32-bit identifier advertised in the legacy frame:
// a rolling multiply-by-31 hash over at most the first eight bytes of the
// broadcaster's configured name. Not collision free; the scanner keys on the
// radio address and uses this only as a compatibility lookup.
func KeyboardID(name string) uint32 {
	n := len(name)
	if n > 8 {
		n = 8
	}
	var h uint32
	for i := 0; i < n; i++ {
		h = h*31 + uint32(name[i])
	}
	return h
}

// Status is one sampled broadcaster state, the input to the frame builders.
// Producers of these values (keymap, battery sampling, WPM counting) are
// outside this package; fields arrive as-is and are clamped at build time.
type Status struct {
	BatteryPrimary    uint8 // 0 means unknown/absent
	BatteryPeripheral [3]uint8
	ActiveLayer       uint8
	ActiveProfile     uint8
	ConnectionCount   uint8
	Flags             StatusFlags
	Role              DeviceRole
	DeviceIndex       uint8
	LayerName         string
	KeyboardName      string
	Modifiers         ModifierFlags
	WPM               uint8
	Channel           uint8
}

func clampU8(v, max uint8) uint8 {
	if v > max {
		return max
	}
	return v
}

// padName copies name into dst, truncating to fit. A name that exactly fills
// the field is not null-terminated.
func padName(dst []byte, name string) {
	n := copy(dst, name)
	for i := n; i < len(dst); i++ {
		dst[i] = 0
	}
}

// trimName returns the string stored in a null-padded name field.
func trimName(b []byte) string {
	for i, c := range b {
		if c == 0 {
			return string(b[:i])
		}
	}
	return string(b)
}
