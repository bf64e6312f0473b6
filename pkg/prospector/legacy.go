package prospector

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

// LegacyFrame is the decoded 26-byte manufacturer payload.
// Layout (little-endian, no field crosses a byte boundary):
//
//	0   signature FF FF AB CD
//	4   schema_version (1)
//	5   battery_primary 0-100, 0 = unknown
//	6   active_layer 0-15
//	7   active_profile 0-4
//	8   connection_count 0-5
//	9   status_flags
//	10  device_role
//	11  device_index
//	12  battery_peripheral[3]
//	15  layer_name[4] null padded
//	19  keyboard_id uint32
//	23  modifier_flags
//	24  wpm
//	25  channel
type LegacyFrame struct {
	SchemaVersion     uint8
	BatteryPrimary    uint8
	ActiveLayer       uint8
	ActiveProfile     uint8
	ConnectionCount   uint8
	Flags             StatusFlags
	Role              DeviceRole
	DeviceIndex       uint8
	BatteryPeripheral [3]uint8
	LayerName         string
	KeyboardID        uint32
	Modifiers         ModifierFlags
	WPM               uint8
	Channel           uint8
}

// HasPeriodic reports whether the broadcaster advertises periodic support.
func (f *LegacyFrame) HasPeriodic() bool { return f.Flags.Has(FlagHasPeriodic) }

// BuildLegacy packs a status snapshot into the 26-byte legacy payload.
// Out-of-range inputs are clamped, never rejected: battery above 100 becomes
// 100, layer above 15 becomes 15, over-long names are truncated.
func BuildLegacy(s Status) [LegacyFrameSize]byte {
	var out [LegacyFrameSize]byte

	copy(out[0:4], Signature[:])
	out[4] = SchemaVersion
	out[5] = clampU8(s.BatteryPrimary, 100)
	out[6] = clampU8(s.ActiveLayer, 15)
	out[7] = clampU8(s.ActiveProfile, 4)
	out[8] = clampU8(s.ConnectionCount, 5)
	out[9] = uint8(s.Flags)
	out[10] = uint8(s.Role)
	out[11] = s.DeviceIndex
	for i, b := range s.BatteryPeripheral {
		out[12+i] = clampU8(b, 100)
	}
	padName(out[15:19], s.LayerName)
	binary.LittleEndian.PutUint32(out[19:23], KeyboardID(s.KeyboardName))
	out[23] = uint8(s.Modifiers)
	out[24] = s.WPM
	out[25] = clampU8(s.Channel, ChannelMax)

	return out
}

// ParseLegacy decodes a legacy payload. The signature must already look
// plausible (length >= 4); everything else is validated here.
func ParseLegacy(data []byte) (*LegacyFrame, error) {
	if len(data) < LegacyFrameSize {
		return nil, fmt.Errorf("legacy frame too short: %d bytes", len(data))
	}
	if !bytes.Equal(data[0:4], Signature[:]) {
		return nil, fmt.Errorf("bad signature % X", data[0:4])
	}
	if data[4] != SchemaVersion {
		return nil, fmt.Errorf("unsupported schema version %d", data[4])
	}

	f := &LegacyFrame{
		SchemaVersion:   data[4],
		BatteryPrimary:  data[5],
		ActiveLayer:     data[6],
		ActiveProfile:   data[7],
		ConnectionCount: data[8],
		Flags:           StatusFlags(data[9]),
		Role:            DeviceRole(data[10]),
		DeviceIndex:     data[11],
		LayerName:       trimName(data[15:19]),
		KeyboardID:      binary.LittleEndian.Uint32(data[19:23]),
		Modifiers:       ModifierFlags(data[23]),
		WPM:             data[24],
		Channel:         data[25],
	}
	copy(f.BatteryPeripheral[:], data[12:15])

	return f, nil
}

// ChannelAccept is the scanner-side channel filter decision for legacy
// frames. Scanner channel 0 (legacy accept-all) and 10 (explicit all)
// accept everything; frame channel 0 is accepted everywhere; otherwise the
// channels must match.
func ChannelAccept(scannerCh, frameCh uint8) bool {
	if scannerCh == ChannelLegacyAll || scannerCh == ChannelExplicitAll {
		return true
	}
	if frameCh == ChannelLegacyAll {
		return true
	}
	return scannerCh == frameCh
}
