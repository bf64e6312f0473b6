// Package radio defines the capability contracts between the protocol core
// and a concrete radio stack, plus the two drivers shipped with the daemons:
// a BlueZ-backed driver for real hardware and an in-process loopback used by
// tests and the demo rig.
package radio

import (
	"errors"
	"time"

	"github.com/t-ogura/prospector-zmk-module-sub000/internal/scanner"
	"github.com/t-ogura/prospector-zmk-module-sub000/pkg/prospector"
)

// ErrUnsupported is returned by drivers for capabilities the underlying
// stack cannot provide. Callers degrade instead of failing: the sync
// controller falls back to legacy tracking, the advertiser skips its
// periodic set.
var ErrUnsupported = errors.New("radio: capability not supported")

// AdvertisementHandler receives every observed advertisement. Implementations
// must not block; they run on the radio stack's dispatch goroutine.
// *scanner.Receiver satisfies this.
type AdvertisementHandler interface {
	OnAdvertisement(addr prospector.Addr, rssi int8, scanResponse bool, payload []byte)
	OnExtendedReport(addr prospector.Addr, sid uint8, intervalMS uint16)
}

// Scanner is the receive-side capability set.
type Scanner interface {
	// StartActiveScan begins continuous active scanning, delivering every
	// observation to h until StopScan.
	StartActiveScan(h AdvertisementHandler) error
	StopScan() error

	// CreatePeriodicSync subscribes to a periodic advertising train.
	// Drivers without periodic support return ErrUnsupported.
	CreatePeriodicSync(addr prospector.Addr, sid uint8, skip uint16, timeout time.Duration, cb scanner.SyncCallbacks) (scanner.PeriodicSync, error)
}

// Advertiser is the transmit-side capability set.
type Advertiser interface {
	// StartLegacyAdv configures and starts (or restarts with fresh data)
	// the non-connectable legacy advertisement.
	StartLegacyAdv(name string, payload []byte, interval time.Duration) error
	StopAdv() error

	// CreateExtendedAdvSet allocates the periodic advertising set and
	// returns its SID. ErrUnsupported when the stack cannot.
	CreateExtendedAdvSet(interval time.Duration) (uint8, error)
	// SetPeriodicAdvData replaces the periodic train's payload.
	SetPeriodicAdvData(payload []byte) error
	StartPeriodicAdv() error
}
