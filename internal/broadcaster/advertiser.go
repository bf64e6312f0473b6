package broadcaster

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/t-ogura/prospector-zmk-module-sub000/internal/config"
	"github.com/t-ogura/prospector-zmk-module-sub000/internal/radio"
	"github.com/t-ogura/prospector-zmk-module-sub000/pkg/prospector"
)

// maxBackoff caps the retry delay for advertisement start failures.
const maxBackoff = 5 * time.Second

// initialBackoff is the first retry delay after a start failure.
const initialBackoff = 100 * time.Millisecond

// Sampler produces one status snapshot per emission. Implementations do no
// I/O; they read state the input handlers already maintain.
type Sampler interface {
	Sample() prospector.Status
}

// IndicatorSampler is the optional lock-indicator capability. Samplers
// without it advertise no indicators.
type IndicatorSampler interface {
	Indicators() prospector.IndicatorFlags
}

// StaticSampler is the optional slow-data capability: versions, features,
// layer name table, lifetime counters. Samplers without it advertise a
// static frame carrying only the configured name.
type StaticSampler interface {
	SampleStatic() prospector.StaticFrame
}

// Advertiser runs the broadcaster cadence loops: the legacy advertisement
// every adv_interval, and when periodic advertising is enabled a fast
// dynamic train plus a slow static train with an on-demand dirty path.
// Radio failures are retried with capped exponential backoff and never
// surfaced to the sampler.
type Advertiser struct {
	cfg     config.BroadcasterConfig
	radio   radio.Advertiser
	sampler Sampler
	acc     *Accumulator

	seq         uint16
	periodic    bool
	staticDirty chan struct{}
}

// New constructs an advertiser. acc may be nil when no pointing device
// feeds deltas.
func New(cfg config.BroadcasterConfig, r radio.Advertiser, sampler Sampler, acc *Accumulator) *Advertiser {
	if acc == nil {
		acc = NewAccumulator()
	}
	return &Advertiser{
		cfg:         cfg,
		radio:       r,
		sampler:     sampler,
		acc:         acc,
		staticDirty: make(chan struct{}, 1),
	}
}

// Accumulator returns the delta sink the input handlers feed.
func (a *Advertiser) Accumulator() *Accumulator { return a.acc }

// MarkStaticDirty requests an immediate static emission, coalescing with any
// pending request. Called when slow data changes (rename, layer table edit).
func (a *Advertiser) MarkStaticDirty() {
	select {
	case a.staticDirty <- struct{}{}:
	default:
	}
}

// Run drives the cadence loops until the context is cancelled. The
// advertisement is stopped on the way out.
func (a *Advertiser) Run(ctx context.Context) error {
	defer func() {
		if err := a.radio.StopAdv(); err != nil {
			log.Warn().Err(err).Msg("stop advertisement failed")
		}
	}()

	a.periodic = a.cfg.PeriodicAdv && a.startPeriodic()

	legacy := time.NewTicker(a.cfg.AdvInterval())
	defer legacy.Stop()

	var dynamicC, staticC <-chan time.Time
	if a.periodic {
		dyn := time.NewTicker(a.cfg.DynamicInterval())
		defer dyn.Stop()
		dynamicC = dyn.C
		st := time.NewTicker(a.cfg.StaticInterval())
		defer st.Stop()
		staticC = st.C
	}

	a.emitLegacy(ctx)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-legacy.C:
			a.emitLegacy(ctx)
		case <-dynamicC:
			a.emitDynamic()
		case <-staticC:
			a.emitStatic()
		case <-a.staticDirty:
			a.emitStatic()
		}
	}
}

// startPeriodic allocates the periodic set and starts the train. Stacks
// without the capability degrade to legacy-only with one log line.
func (a *Advertiser) startPeriodic() bool {
	sid, err := a.radio.CreateExtendedAdvSet(a.cfg.DynamicInterval())
	if err != nil {
		if errors.Is(err, radio.ErrUnsupported) {
			log.Info().Msg("periodic advertising unsupported, legacy only")
		} else {
			log.Warn().Err(err).Msg("periodic set creation failed, legacy only")
		}
		return false
	}

	a.emitStatic()
	if err := a.radio.StartPeriodicAdv(); err != nil {
		log.Warn().Err(err).Msg("periodic start failed, legacy only")
		return false
	}
	log.Info().Uint8("sid", sid).Msg("periodic advertising started")
	return true
}

// sample stamps the configured identity onto the sampler's snapshot.
func (a *Advertiser) sample() prospector.Status {
	s := a.sampler.Sample()
	if s.KeyboardName == "" {
		s.KeyboardName = a.cfg.Name
	}
	s.Role = parseRole(a.cfg.Role)
	s.DeviceIndex = uint8(a.cfg.DeviceIndex)
	s.Channel = uint8(a.cfg.Channel)
	if a.periodic {
		s.Flags |= prospector.FlagHasPeriodic
	}
	return s
}

// emitLegacy builds and (re)starts the legacy advertisement, retrying with
// capped exponential backoff until it sticks or the context ends.
func (a *Advertiser) emitLegacy(ctx context.Context) {
	s := a.sample()
	raw := prospector.BuildLegacy(s)

	backoff := initialBackoff
	for {
		err := a.radio.StartLegacyAdv(s.KeyboardName, raw[:], a.cfg.AdvInterval())
		if err == nil {
			return
		}
		log.Warn().Err(err).Dur("retry_in", backoff).Msg("advertisement start failed")

		select {
		case <-ctx.Done():
			return
		case <-time.After(backoff):
		}
		backoff *= 2
		if backoff > maxBackoff {
			backoff = maxBackoff
		}
	}
}

func (a *Advertiser) emitDynamic() {
	s := a.sample()
	d := a.acc.Take()
	a.seq++

	f := prospector.DynamicFrame{
		Seq:         a.seq,
		ActiveLayer: s.ActiveLayer,
		LayerName:   s.LayerName,
		DX:          d.DX,
		DY:          d.DY,
		ScrollV:     d.ScrollV,
		ScrollH:     d.ScrollH,
		Buttons:     d.Buttons,
		IdleQuanta:  d.IdleQuanta,
		Modifiers:   s.Modifiers,
		WPM:         s.WPM,
		Battery:     s.BatteryPrimary,
		Profile:     s.ActiveProfile,
		Flags:       s.Flags,
	}
	if is, ok := a.sampler.(IndicatorSampler); ok {
		f.Indicators = is.Indicators()
	}

	raw := prospector.BuildDynamic(&f)
	if err := a.radio.SetPeriodicAdvData(raw[:]); err != nil {
		log.Warn().Err(err).Msg("dynamic emission failed")
	}
}

func (a *Advertiser) emitStatic() {
	var f prospector.StaticFrame
	if ss, ok := a.sampler.(StaticSampler); ok {
		f = ss.SampleStatic()
	}
	if f.Name == "" {
		f.Name = a.cfg.Name
	}

	raw := prospector.BuildStatic(&f)
	if err := a.radio.SetPeriodicAdvData(raw[:]); err != nil {
		log.Warn().Err(err).Msg("static emission failed")
	}
}

func parseRole(s string) prospector.DeviceRole {
	switch s {
	case "central":
		return prospector.RoleCentral
	case "peripheral":
		return prospector.RolePeripheral
	default:
		return prospector.RoleStandalone
	}
}
