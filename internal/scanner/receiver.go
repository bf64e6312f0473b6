package scanner

import (
	"github.com/rs/zerolog/log"

	"github.com/t-ogura/prospector-zmk-module-sub000/pkg/prospector"
)

// Receiver is the radio-callback half of the ingest path. It runs on the
// radio stack's dispatch goroutine and must never block: it parses the TLV
// payload into a local value, applies the channel filter, and hands the
// result to the worker through the bounded queue. The only state it touches
// directly is the SID cache.
type Receiver struct {
	queue   *Queue
	sids    *SIDCache
	channel uint8
	fixups  prospector.NameFixups
}

// NewReceiver constructs the callback handler for the given scanner channel.
func NewReceiver(queue *Queue, sids *SIDCache, channel uint8, fixups prospector.NameFixups) *Receiver {
	return &Receiver{queue: queue, sids: sids, channel: channel, fixups: fixups}
}

// OnAdvertisement handles one observed advertisement or scan response.
func (r *Receiver) OnAdvertisement(addr prospector.Addr, rssi int8, scanResponse bool, payload []byte) {
	p := prospector.ParseAdvertisement(payload, r.channel, r.fixups)

	switch p.Kind {
	case prospector.KindNone:
		return
	case prospector.KindLegacy:
		if !p.ChannelAccept {
			log.Debug().
				Str("addr", addr.String()).
				Uint8("frame_channel", p.Legacy.Channel).
				Uint8("scanner_channel", r.channel).
				Msg("channel mismatch, frame dropped")
			return
		}
	}

	if !r.queue.Push(Message{Kind: MsgFrame, Ingest: Ingest{
		Addr:         addr,
		RSSI:         rssi,
		ScanResponse: scanResponse,
		Parsed:       p,
	}}) {
		log.Debug().
			Str("addr", addr.String()).
			Uint64("dropped", r.queue.Dropped()).
			Msg("ingest queue full, advertisement dropped")
	}
}

// OnExtendedReport handles a periodic-advertising set announcement from the
// extended-scanning callback. The SID is cached here so the device table
// can adopt it even when the legacy payload arrives later.
func (r *Receiver) OnExtendedReport(addr prospector.Addr, sid uint8, intervalMS uint16) {
	r.sids.Put(addr, sid)
	log.Debug().
		Str("addr", addr.String()).
		Uint8("sid", sid).
		Uint16("interval_ms", intervalMS).
		Msg("periodic advertising set observed")
}

// RequestSweep asks the worker to run the liveness sweep.
func (r *Receiver) RequestSweep() {
	r.queue.Push(Message{Kind: MsgSweep})
}
