package prospector

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

// DynamicFrame is the fast-cadence periodic payload. It repeats the
// visually-salient legacy fields so a synced scanner can keep its entry
// fresh without legacy frames, and adds pointer deltas, idle time and lock
// indicators.
//
// Layout (29 bytes, little-endian):
//
//	0   signature FF FF AB CD
//	4   packet_type = 0xD1
//	5   seq uint16
//	7   active_layer
//	8   layer_name[7] null padded
//	15  dx int16
//	17  dy int16
//	19  scroll_v int8
//	20  scroll_h int8
//	21  button_mask
//	22  idle quanta (4 s units, saturating)
//	23  indicator_flags
//	24  modifier_flags
//	25  wpm
//	26  battery_primary
//	27  active_profile
//	28  status_flags
type DynamicFrame struct {
	Seq         uint16
	ActiveLayer uint8
	LayerName   string
	DX          int16
	DY          int16
	ScrollV     int8
	ScrollH     int8
	Buttons     uint8
	IdleQuanta  uint8
	Indicators  IndicatorFlags
	Modifiers   ModifierFlags
	WPM         uint8
	Battery     uint8
	Profile     uint8
	Flags       StatusFlags
}

// StaticFrame is the slow-cadence periodic payload carrying data that rarely
// changes: the full keyboard name, versions, feature bitmap, the layer name
// table and lifetime counters.
//
// Layout (127 bytes, little-endian):
//
//	0    signature FF FF AB CD
//	4    packet_type = 0xD2
//	5    name_len (<= 23)
//	6    name[23]
//	29   fw version major, minor, patch
//	32   runtime version major, minor, patch
//	35   feature bitmap uint16
//	37   layer_count (<= 10)
//	38   layer names, 10 x 8 bytes null padded
//	118  keypress counter uint32 (saturating)
//	122  boot counter uint16 (saturating)
//	124  peripheral rssi[3] int8, 0 = absent
type StaticFrame struct {
	Name           string
	FWVersion      [3]uint8
	RuntimeVersion [3]uint8
	Features       uint16
	LayerNames     []string
	KeypressCount  uint32
	BootCount      uint16
	PeripheralRSSI [3]int8
}

const (
	staticNameCap   = 23
	staticLayerCap  = 10
	staticLayerSize = 8
	dynamicNameCap  = 7
)

// SaturateI16 clamps an accumulated pointer delta to the wire range.
func SaturateI16(v int) int16 {
	if v > 32767 {
		return 32767
	}
	if v < -32768 {
		return -32768
	}
	return int16(v)
}

// SaturateI8 clamps an accumulated scroll tick count to the wire range.
func SaturateI8(v int) int8 {
	if v > 127 {
		return 127
	}
	if v < -128 {
		return -128
	}
	return int8(v)
}

// IdleQuanta converts idle seconds to the 4-second wire quantisation,
// saturating at the byte range.
func IdleQuanta(idleSeconds uint32) uint8 {
	q := idleSeconds / 4
	if q > 255 {
		return 255
	}
	return uint8(q)
}

// BuildDynamic packs a dynamic periodic payload.
func BuildDynamic(f *DynamicFrame) [DynamicFrameSize]byte {
	var out [DynamicFrameSize]byte

	copy(out[0:4], Signature[:])
	out[4] = PacketTypeDynamic
	binary.LittleEndian.PutUint16(out[5:7], f.Seq)
	out[7] = clampU8(f.ActiveLayer, 15)
	padName(out[8:15], f.LayerName)
	binary.LittleEndian.PutUint16(out[15:17], uint16(f.DX))
	binary.LittleEndian.PutUint16(out[17:19], uint16(f.DY))
	out[19] = uint8(f.ScrollV)
	out[20] = uint8(f.ScrollH)
	out[21] = f.Buttons
	out[22] = f.IdleQuanta
	out[23] = uint8(f.Indicators)
	out[24] = uint8(f.Modifiers)
	out[25] = f.WPM
	out[26] = clampU8(f.Battery, 100)
	out[27] = clampU8(f.Profile, 4)
	out[28] = uint8(f.Flags)

	return out
}

// ParseDynamic decodes a dynamic periodic payload.
func ParseDynamic(data []byte) (*DynamicFrame, error) {
	if len(data) < DynamicFrameSize {
		return nil, fmt.Errorf("dynamic frame too short: %d bytes", len(data))
	}
	if !bytes.Equal(data[0:4], Signature[:]) {
		return nil, fmt.Errorf("bad signature % X", data[0:4])
	}
	if data[4] != PacketTypeDynamic {
		return nil, fmt.Errorf("unexpected packet type %#x", data[4])
	}

	return &DynamicFrame{
		Seq:         binary.LittleEndian.Uint16(data[5:7]),
		ActiveLayer: data[7],
		LayerName:   trimName(data[8:15]),
		DX:          int16(binary.LittleEndian.Uint16(data[15:17])),
		DY:          int16(binary.LittleEndian.Uint16(data[17:19])),
		ScrollV:     int8(data[19]),
		ScrollH:     int8(data[20]),
		Buttons:     data[21],
		IdleQuanta:  data[22],
		Indicators:  IndicatorFlags(data[23]),
		Modifiers:   ModifierFlags(data[24]),
		WPM:         data[25],
		Battery:     data[26],
		Profile:     data[27],
		Flags:       StatusFlags(data[28]),
	}, nil
}

// ApplyToLegacy folds the dynamic fields into a legacy snapshot so the
// selected entry's last_frame stays coherent while synced.
func (f *DynamicFrame) ApplyToLegacy(dst *LegacyFrame) {
	dst.ActiveLayer = f.ActiveLayer
	if f.LayerName != "" {
		dst.LayerName = f.LayerName
	}
	dst.Modifiers = f.Modifiers
	dst.WPM = f.WPM
	dst.BatteryPrimary = f.Battery
	dst.ActiveProfile = f.Profile
	dst.Flags = f.Flags
}

// BuildStatic packs a static periodic payload. Over-long names and layer
// tables are truncated to the field capacities.
func BuildStatic(f *StaticFrame) [StaticFrameMinSize]byte {
	var out [StaticFrameMinSize]byte

	copy(out[0:4], Signature[:])
	out[4] = PacketTypeStatic

	name := f.Name
	if len(name) > staticNameCap {
		name = name[:staticNameCap]
	}
	out[5] = uint8(len(name))
	copy(out[6:6+staticNameCap], name)

	copy(out[29:32], f.FWVersion[:])
	copy(out[32:35], f.RuntimeVersion[:])
	binary.LittleEndian.PutUint16(out[35:37], f.Features)

	layers := f.LayerNames
	if len(layers) > staticLayerCap {
		layers = layers[:staticLayerCap]
	}
	out[37] = uint8(len(layers))
	for i, ln := range layers {
		off := 38 + i*staticLayerSize
		padName(out[off:off+staticLayerSize], ln)
	}

	binary.LittleEndian.PutUint32(out[118:122], f.KeypressCount)
	binary.LittleEndian.PutUint16(out[122:124], f.BootCount)
	for i, r := range f.PeripheralRSSI {
		out[124+i] = uint8(r)
	}

	return out
}

// ParseStatic decodes a static periodic payload.
func ParseStatic(data []byte) (*StaticFrame, error) {
	if len(data) < StaticFrameMinSize {
		return nil, fmt.Errorf("static frame too short: %d bytes", len(data))
	}
	if !bytes.Equal(data[0:4], Signature[:]) {
		return nil, fmt.Errorf("bad signature % X", data[0:4])
	}
	if data[4] != PacketTypeStatic {
		return nil, fmt.Errorf("unexpected packet type %#x", data[4])
	}

	nameLen := int(data[5])
	if nameLen > staticNameCap {
		return nil, fmt.Errorf("invalid name length %d", nameLen)
	}

	f := &StaticFrame{
		Name:          string(data[6 : 6+nameLen]),
		Features:      binary.LittleEndian.Uint16(data[35:37]),
		KeypressCount: binary.LittleEndian.Uint32(data[118:122]),
		BootCount:     binary.LittleEndian.Uint16(data[122:124]),
	}
	copy(f.FWVersion[:], data[29:32])
	copy(f.RuntimeVersion[:], data[32:35])

	layerCount := int(data[37])
	if layerCount > staticLayerCap {
		return nil, fmt.Errorf("invalid layer count %d", layerCount)
	}
	for i := 0; i < layerCount; i++ {
		off := 38 + i*staticLayerSize
		f.LayerNames = append(f.LayerNames, trimName(data[off:off+staticLayerSize]))
	}

	for i := range f.PeripheralRSSI {
		f.PeripheralRSSI[i] = int8(data[124+i])
	}

	return f, nil
}
