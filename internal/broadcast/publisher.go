// Package broadcast publishes accepted transitions to JetStream so every
// gateway instance can fan them out to its websocket subscribers. There is no
// durable outbox in front of the bus: the store is last-writer-wins and a
// missed broadcast is recovered by the client's reconnect resync, so a failed
// publish is logged and the transition stands.
package broadcast

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog/log"

	"github.com/stagecue/stagecue/internal/models"
)

type JetStreamConfig struct {
	URL             string
	StreamName      string
	SubjectPrefix   string
	MaxReconnects   int
	ReconnectWait   time.Duration
	MaxAge          time.Duration // How long to keep messages
	MaxMsgs         int64         // Max number of messages to keep
	Replicas        int           // Number of replicas for the stream
	DuplicateWindow time.Duration // Window for duplicate detection
}

func DefaultJetStreamConfig() JetStreamConfig {
	return JetStreamConfig{
		URL:           nats.DefaultURL,
		StreamName:    "TIMER_EVENTS",
		SubjectPrefix: "timer.events",
		MaxReconnects: -1, // Infinite
		ReconnectWait: 2 * time.Second,
		// Events only matter until the next resync; an hour is generous.
		MaxAge:          time.Hour,
		MaxMsgs:         -1,
		Replicas:        1,
		DuplicateWindow: 2 * time.Minute,
	}
}

// Envelope is the bus representation of a timer event.
type Envelope struct {
	EventID   string          `json:"eventId"`
	EventType string          `json:"eventType"`
	ScopeID   string          `json:"scopeId"`
	TimerID   string          `json:"timerId"`
	Seq       int64           `json:"seq"`
	Timestamp time.Time       `json:"timestamp"`
	Payload   json.RawMessage `json:"payload"`
}

type JetStreamPublisher struct {
	nc     *nats.Conn
	js     jetstream.JetStream
	config JetStreamConfig
}

func NewJetStreamPublisher(cfg JetStreamConfig) (*JetStreamPublisher, error) {
	opts := []nats.Option{
		nats.MaxReconnects(cfg.MaxReconnects),
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			log.Error().Err(err).Msg("NATS disconnected")
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info().Str("url", nc.ConnectedUrl()).Msg("NATS reconnected")
		}),
		nats.ErrorHandler(func(nc *nats.Conn, sub *nats.Subscription, err error) {
			log.Error().Err(err).Msg("NATS error")
		}),
	}

	nc, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("connect to NATS: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("create JetStream context: %w", err)
	}

	p := &JetStreamPublisher{nc: nc, js: js, config: cfg}

	if err := p.ensureStream(context.Background()); err != nil {
		nc.Close()
		return nil, fmt.Errorf("ensure stream: %w", err)
	}

	return p, nil
}

func (p *JetStreamPublisher) ensureStream(ctx context.Context) error {
	sc := jetstream.StreamConfig{
		Name:        p.config.StreamName,
		Description: "Timer transition events for gateway fanout",
		Subjects:    []string{fmt.Sprintf("%s.>", p.config.SubjectPrefix)},
		Retention:   jetstream.LimitsPolicy,
		MaxAge:      p.config.MaxAge,
		MaxMsgs:     p.config.MaxMsgs,
		Storage:     jetstream.FileStorage,
		Replicas:    p.config.Replicas,
		Duplicates:  p.config.DuplicateWindow,
	}

	if _, err := p.js.Stream(ctx, p.config.StreamName); err != nil {
		if _, err = p.js.CreateStream(ctx, sc); err != nil {
			return fmt.Errorf("create stream: %w", err)
		}
		log.Info().
			Str("stream", p.config.StreamName).
			Msg("created JetStream stream")
	}

	return nil
}

// PublishTimerStarted publishes a start/resume transition's timeset.
func (p *JetStreamPublisher) PublishTimerStarted(ctx context.Context, scopeID uuid.UUID, ts models.Timeset) error {
	return p.publish(ctx, "timer-started", scopeID, ts)
}

// PublishTimerReset publishes a reset transition's timeset.
func (p *JetStreamPublisher) PublishTimerReset(ctx context.Context, scopeID uuid.UUID, ts models.Timeset) error {
	return p.publish(ctx, "timer-reset", scopeID, ts)
}

// PublishTimerUpdated publishes a pause or adjust transition's timeset.
func (p *JetStreamPublisher) PublishTimerUpdated(ctx context.Context, scopeID uuid.UUID, ts models.Timeset) error {
	return p.publish(ctx, "timer-updated", scopeID, ts)
}

func (p *JetStreamPublisher) publish(ctx context.Context, eventType string, scopeID uuid.UUID, ts models.Timeset) error {
	payload, err := json.Marshal(ts)
	if err != nil {
		return fmt.Errorf("marshal timeset: %w", err)
	}

	envelope := Envelope{
		EventID:   uuid.New().String(),
		EventType: eventType,
		ScopeID:   scopeID.String(),
		TimerID:   ts.TimerID.String(),
		Seq:       ts.Seq,
		Timestamp: time.Now(),
		Payload:   payload,
	}

	data, err := json.Marshal(envelope)
	if err != nil {
		return fmt.Errorf("marshal envelope: %w", err)
	}

	subject := fmt.Sprintf("%s.%s.%s", p.config.SubjectPrefix, scopeID, eventType)
	if _, err := p.js.Publish(ctx, subject, data, jetstream.WithMsgID(envelope.EventID)); err != nil {
		return fmt.Errorf("publish to %s: %w", subject, err)
	}

	log.Debug().
		Str("event_id", envelope.EventID).
		Str("event_type", eventType).
		Str("scope_id", envelope.ScopeID).
		Int64("seq", ts.Seq).
		Msg("published timer event")
	return nil
}

// Close drains the NATS connection.
func (p *JetStreamPublisher) Close() {
	if p.nc != nil {
		p.nc.Close()
	}
}
