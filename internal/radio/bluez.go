package radio

import (
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"tinygo.org/x/bluetooth"

	"github.com/t-ogura/prospector-zmk-module-sub000/internal/scanner"
	"github.com/t-ogura/prospector-zmk-module-sub000/pkg/prospector"
)

// companyID is the reserved manufacturer identifier carried in the first two
// signature bytes; the host stack splits it off the manufacturer record.
const companyID = 0xFFFF

// BlueZ drives the host Bluetooth stack. Legacy scanning and advertising
// only: periodic advertising is not exposed by the host API, so the sync
// controller runs its fallback path on this driver.
type BlueZ struct {
	adapter *bluetooth.Adapter

	mu       sync.Mutex
	scanning bool
	adv      *bluetooth.Advertisement
	advGoing bool
}

// NewBlueZ enables the default adapter.
func NewBlueZ() (*BlueZ, error) {
	adapter := bluetooth.DefaultAdapter
	if err := adapter.Enable(); err != nil {
		return nil, fmt.Errorf("enable bluetooth adapter: %w", err)
	}
	return &BlueZ{adapter: adapter}, nil
}

// StartActiveScan runs the host scan loop on its own goroutine and rebuilds
// each observation into the on-air TLV layout so the core has a single parse
// path regardless of driver.
func (b *BlueZ) StartActiveScan(h AdvertisementHandler) error {
	b.mu.Lock()
	if b.scanning {
		b.mu.Unlock()
		return fmt.Errorf("scan already running")
	}
	b.scanning = true
	b.mu.Unlock()

	go func() {
		err := b.adapter.Scan(func(adapter *bluetooth.Adapter, result bluetooth.ScanResult) {
			addr, err := deviceAddr(result.Address)
			if err != nil {
				return
			}
			payload := rebuildTLV(result)
			if len(payload) == 0 {
				return
			}
			h.OnAdvertisement(addr, clampRSSI(result.RSSI), false, payload)
		})
		if err != nil {
			log.Error().Err(err).Msg("scan loop exited")
		}
		b.mu.Lock()
		b.scanning = false
		b.mu.Unlock()
	}()
	return nil
}

func (b *BlueZ) StopScan() error {
	return b.adapter.StopScan()
}

// CreatePeriodicSync is not available through the host API.
func (b *BlueZ) CreatePeriodicSync(addr prospector.Addr, sid uint8, skip uint16, timeout time.Duration, cb scanner.SyncCallbacks) (scanner.PeriodicSync, error) {
	return nil, ErrUnsupported
}

// StartLegacyAdv (re)configures the non-connectable advertisement with the
// given payload. The host stack requires a stop/configure/start cycle to
// replace advertising data.
func (b *BlueZ) StartLegacyAdv(name string, payload []byte, interval time.Duration) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.adv != nil && b.advGoing {
		if err := b.adv.Stop(); err != nil {
			return fmt.Errorf("stop advertisement: %w", err)
		}
		b.advGoing = false
	}

	adv := b.adapter.DefaultAdvertisement()
	if err := adv.Configure(bluetooth.AdvertisementOptions{
		AdvertisementType: bluetooth.AdvertisingTypeNonConnInd,
		LocalName:         name,
		Interval:          bluetooth.NewDuration(interval),
		ManufacturerData: []bluetooth.ManufacturerDataElement{
			{CompanyID: companyID, Data: payload[2:]},
		},
	}); err != nil {
		return fmt.Errorf("configure advertisement: %w", err)
	}
	if err := adv.Start(); err != nil {
		return fmt.Errorf("start advertisement: %w", err)
	}

	b.adv = adv
	b.advGoing = true
	return nil
}

func (b *BlueZ) StopAdv() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.adv == nil || !b.advGoing {
		return nil
	}
	b.advGoing = false
	return b.adv.Stop()
}

func (b *BlueZ) CreateExtendedAdvSet(interval time.Duration) (uint8, error) {
	return 0, ErrUnsupported
}

func (b *BlueZ) SetPeriodicAdvData(payload []byte) error { return ErrUnsupported }

func (b *BlueZ) StartPeriodicAdv() error { return ErrUnsupported }

// deviceAddr converts a host-stack address to the wire form.
func deviceAddr(a bluetooth.Address) (prospector.Addr, error) {
	addr, err := prospector.ParseAddr(a.String())
	if err != nil {
		return prospector.Addr{}, err
	}
	if a.IsRandom() {
		addr.Type = prospector.AddrTypeRandom
	}
	return addr, nil
}

// rebuildTLV reassembles the typed-length-value records the host stack has
// already split apart, so ParseAdvertisement sees the same layout as on-air.
func rebuildTLV(result bluetooth.ScanResult) []byte {
	var out []byte

	for _, md := range result.ManufacturerData() {
		if md.CompanyID != companyID {
			continue
		}
		rec := make([]byte, 0, 4+len(md.Data))
		rec = append(rec, byte(3+len(md.Data)), 0xFF,
			byte(md.CompanyID&0xFF), byte(md.CompanyID>>8))
		rec = append(rec, md.Data...)
		out = append(out, rec...)
	}

	if name := result.LocalName(); name != "" {
		rec := make([]byte, 0, 2+len(name))
		rec = append(rec, byte(1+len(name)), 0x09)
		rec = append(rec, name...)
		out = append(out, rec...)
	}

	return out
}

func clampRSSI(v int16) int8 {
	if v < -128 {
		return -128
	}
	if v > 127 {
		return 127
	}
	return int8(v)
}
