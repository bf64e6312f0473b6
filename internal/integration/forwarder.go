// Package integration forwards device-table events to external systems
// over NATS, so home-automation or logging consumers can follow keyboard
// presence without polling the REST API.
package integration

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog/log"

	"github.com/t-ogura/prospector-zmk-module-sub000/internal/config"
	"github.com/t-ogura/prospector-zmk-module-sub000/internal/scanner"
)

// subjectPrefix roots every published subject.
const subjectPrefix = "prospector.keyboard"

// Forwarder publishes scanner events to NATS subjects of the form
// prospector.keyboard.<addr>.<event-type>.
type Forwarder struct {
	nc     *nats.Conn
	engine *scanner.Engine
}

// New connects to the configured NATS server. An empty URL is a
// configuration error; callers skip construction when forwarding is off.
func New(cfg config.NATSConfig, engine *scanner.Engine) (*Forwarder, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("nats url not configured")
	}

	nc, err := nats.Connect(cfg.URL,
		nats.MaxReconnects(cfg.MaxReconnects),
		nats.ReconnectWait(cfg.ReconnectInterval),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			log.Warn().Err(err).Msg("NATS disconnected")
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info().Str("url", nc.ConnectedUrl()).Msg("NATS reconnected")
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connect to NATS: %w", err)
	}

	return &Forwarder{nc: nc, engine: engine}, nil
}

// Run subscribes to the engine's event bus and publishes until the context
// is cancelled. The connection is drained on the way out.
func (f *Forwarder) Run(ctx context.Context) error {
	events, unsub := f.engine.Subscribe()
	defer unsub()

	log.Info().Msg("Integration forwarder started")

	for {
		select {
		case <-ctx.Done():
			if err := f.nc.Drain(); err != nil {
				log.Warn().Err(err).Msg("NATS drain failed")
			}
			return ctx.Err()
		case ev := <-events:
			f.publish(ev)
		}
	}
}

func (f *Forwarder) publish(ev scanner.Event) {
	data, err := json.Marshal(ev)
	if err != nil {
		log.Error().Err(err).Msg("Failed to marshal event")
		return
	}

	subject := Subject(ev)
	if err := f.nc.Publish(subject, data); err != nil {
		log.Error().Err(err).Str("subject", subject).Msg("Failed to publish event")
		return
	}
	log.Debug().Str("subject", subject).Msg("Event forwarded")
}

// Subject derives the NATS subject for an event. Address bytes are
// lowercased and stripped of separators so the subject stays token-clean.
func Subject(ev scanner.Event) string {
	addr := strings.ToLower(strings.ReplaceAll(ev.Entry.Addr.String(), ":", ""))
	return fmt.Sprintf("%s.%s.%s", subjectPrefix, addr, ev.Type)
}
