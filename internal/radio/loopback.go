package radio

import (
	"sync"
	"time"

	"github.com/t-ogura/prospector-zmk-module-sub000/internal/scanner"
	"github.com/t-ogura/prospector-zmk-module-sub000/pkg/prospector"
)

// loopbackRSSI is reported for every in-process observation.
const loopbackRSSI = -40

// Loopback is an in-process radio medium: every advertiser port's emission
// is delivered to every scanning port, including periodic trains. It backs
// the demo rig and the tests that need a full transmit/receive path without
// hardware.
type Loopback struct {
	mu          sync.Mutex
	scanners    map[*Port]AdvertisementHandler
	trainsBySID map[trainKey]*train
	nextSID     uint8
}

type trainKey struct {
	addr prospector.Addr
	sid  uint8
}

// NewLoopback constructs an empty medium.
func NewLoopback() *Loopback {
	return &Loopback{
		scanners:    make(map[*Port]AdvertisementHandler),
		trainsBySID: make(map[trainKey]*train),
	}
}

// NewPort attaches a device endpoint with the given radio address.
func (l *Loopback) NewPort(addr prospector.Addr) *Port {
	return &Port{hub: l, addr: addr}
}

// Port is one device endpoint on the loopback medium. It implements both
// capability sets; a daemon uses whichever side it needs.
type Port struct {
	hub  *Loopback
	addr prospector.Addr

	mu     sync.Mutex
	name   string
	train  *train
	legacy bool
}

// train is a periodic advertising set on the loopback medium.
type train struct {
	mu      sync.Mutex
	sid     uint8
	started bool
	payload []byte
	subs    map[*loopSync]struct{}
}

// StartActiveScan registers the port as a listener.
func (p *Port) StartActiveScan(h AdvertisementHandler) error {
	p.hub.mu.Lock()
	p.hub.scanners[p] = h
	p.hub.mu.Unlock()
	return nil
}

// StopScan removes the listener.
func (p *Port) StopScan() error {
	p.hub.mu.Lock()
	delete(p.hub.scanners, p)
	p.hub.mu.Unlock()
	return nil
}

// CreatePeriodicSync subscribes to another port's periodic train. The synced
// report fires asynchronously once the train is running; a target without a
// running train parks the subscription, so the caller's timeout machinery
// behaves as it would on-air.
func (p *Port) CreatePeriodicSync(addr prospector.Addr, sid uint8, skip uint16, timeout time.Duration, cb scanner.SyncCallbacks) (scanner.PeriodicSync, error) {
	t := p.hub.findTrain(addr, sid)
	if t == nil {
		return &loopSync{}, nil
	}

	s := &loopSync{train: t, cb: cb}
	t.mu.Lock()
	t.subs[s] = struct{}{}
	started := t.started
	t.mu.Unlock()

	if started && cb.OnSynced != nil {
		go cb.OnSynced()
	}
	return s, nil
}

func (l *Loopback) findTrain(addr prospector.Addr, sid uint8) *train {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.trainsBySID[trainKey{addr, sid}]
}

// loopSync is a live loopback subscription handle.
type loopSync struct {
	train *train
	cb    scanner.SyncCallbacks
}

func (s *loopSync) Cancel() {
	if s.train == nil {
		return
	}
	s.train.mu.Lock()
	delete(s.train.subs, s)
	s.train.mu.Unlock()
}

// StartLegacyAdv delivers one legacy emission to every scanning port. The
// interval is ignored: the caller's cadence loop drives emission timing.
func (p *Port) StartLegacyAdv(name string, payload []byte, interval time.Duration) error {
	p.mu.Lock()
	p.name = name
	p.legacy = true
	p.mu.Unlock()

	tlv := make([]byte, 0, 4+len(payload)+2+len(name))
	tlv = append(tlv, byte(1+len(payload)), 0xFF)
	tlv = append(tlv, payload...)
	if name != "" {
		tlv = append(tlv, byte(1+len(name)), 0x09)
		tlv = append(tlv, name...)
	}

	p.hub.mu.Lock()
	handlers := make([]AdvertisementHandler, 0, len(p.hub.scanners))
	for port, h := range p.hub.scanners {
		if port == p {
			continue
		}
		handlers = append(handlers, h)
	}
	p.hub.mu.Unlock()

	for _, h := range handlers {
		h.OnAdvertisement(p.addr, loopbackRSSI, false, tlv)
	}
	return nil
}

func (p *Port) StopAdv() error {
	p.mu.Lock()
	t := p.train
	p.train = nil
	p.legacy = false
	p.mu.Unlock()

	if t != nil {
		t.terminate()
		p.hub.mu.Lock()
		delete(p.hub.trainsBySID, trainKey{p.addr, t.sid})
		p.hub.mu.Unlock()
	}
	return nil
}

// CreateExtendedAdvSet allocates a periodic train and announces its SID to
// every scanning port.
func (p *Port) CreateExtendedAdvSet(interval time.Duration) (uint8, error) {
	p.hub.mu.Lock()
	sid := p.hub.nextSID
	p.hub.nextSID++
	t := &train{sid: sid, subs: make(map[*loopSync]struct{})}
	p.hub.trainsBySID[trainKey{p.addr, sid}] = t
	handlers := make([]AdvertisementHandler, 0, len(p.hub.scanners))
	for port, h := range p.hub.scanners {
		if port == p {
			continue
		}
		handlers = append(handlers, h)
	}
	p.hub.mu.Unlock()

	p.mu.Lock()
	p.train = t
	p.mu.Unlock()

	ms := uint16(interval / time.Millisecond)
	for _, h := range handlers {
		h.OnExtendedReport(p.addr, sid, ms)
	}
	return sid, nil
}

// SetPeriodicAdvData replaces the train payload and delivers it to every
// live subscription.
func (p *Port) SetPeriodicAdvData(payload []byte) error {
	p.mu.Lock()
	t := p.train
	p.mu.Unlock()
	if t == nil {
		return ErrUnsupported
	}

	t.mu.Lock()
	t.payload = append(t.payload[:0], payload...)
	started := t.started
	subs := make([]*loopSync, 0, len(t.subs))
	for s := range t.subs {
		subs = append(subs, s)
	}
	t.mu.Unlock()

	if !started {
		return nil
	}
	for _, s := range subs {
		if s.cb.OnData != nil {
			s.cb.OnData(payload)
		}
	}
	return nil
}

// StartPeriodicAdv starts the train and reports synced to parked
// subscriptions.
func (p *Port) StartPeriodicAdv() error {
	p.mu.Lock()
	t := p.train
	p.mu.Unlock()
	if t == nil {
		return ErrUnsupported
	}

	t.mu.Lock()
	already := t.started
	t.started = true
	subs := make([]*loopSync, 0, len(t.subs))
	for s := range t.subs {
		subs = append(subs, s)
	}
	t.mu.Unlock()

	if already {
		return nil
	}
	for _, s := range subs {
		if s.cb.OnSynced != nil {
			go s.cb.OnSynced()
		}
	}
	return nil
}

func (t *train) terminate() {
	t.mu.Lock()
	t.started = false
	subs := make([]*loopSync, 0, len(t.subs))
	for s := range t.subs {
		subs = append(subs, s)
	}
	t.subs = make(map[*loopSync]struct{})
	t.mu.Unlock()

	for _, s := range subs {
		if s.cb.OnTerminated != nil {
			go s.cb.OnTerminated()
		}
	}
}
