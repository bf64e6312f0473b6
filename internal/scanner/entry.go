package scanner

import (
	"time"

	"github.com/t-ogura/prospector-zmk-module-sub000/pkg/prospector"
)

// UnknownName is the placeholder shown until a scan response delivers the
// broadcaster's real name.
const UnknownName = "Unknown"

// maxDisplayName bounds the learned device name.
const maxDisplayName = 31

// Entry is the aggregated state for one tracked broadcaster. Slots are
// allocated at construction and reused; Active distinguishes live entries.
type Entry struct {
	Active   bool            `json:"active"`
	LastSeen time.Time       `json:"last_seen"`
	Addr     prospector.Addr `json:"addr"`

	// DisplayName only ever moves forward: empty, then "Unknown", then the
	// real name. It never regresses once learned.
	DisplayName string `json:"display_name"`

	LastFrame prospector.LegacyFrame `json:"last_frame"`
	RSSI      int8                   `json:"rssi"`

	// Periodic-advertising metadata.
	HasPeriodic bool  `json:"has_periodic"`
	SID         uint8 `json:"sid"`
	HasSID      bool  `json:"has_sid"`
}

// setName applies the name-monotonicity rule: a real name is never
// overwritten by "Unknown" or empty, and names are bounded.
func (e *Entry) setName(name string) bool {
	if name == "" || name == UnknownName {
		if e.DisplayName == "" {
			e.DisplayName = UnknownName
			return true
		}
		return false
	}
	if len(name) > maxDisplayName {
		name = name[:maxDisplayName]
	}
	if e.DisplayName == name {
		return false
	}
	e.DisplayName = name
	return true
}
