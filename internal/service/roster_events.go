package service

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"

	"github.com/noah-isme/mergington-api/internal/dto"
	"github.com/noah-isme/mergington-api/internal/observability"
)

const rosterEventBufferSize = 16

// RosterEvents fans roster changes out to local subscribers and, when NATS is configured,
// to the other API replicas.
type RosterEvents interface {
	Publish(ctx context.Context, event dto.RosterEvent)
	Subscribe() (<-chan dto.RosterEvent, func())
	Start(ctx context.Context)
}

type rosterEvents struct {
	nats        *nats.Conn
	natsSubject string
	nodeID      string
	logger      zerolog.Logger

	mu          sync.RWMutex
	subscribers map[chan dto.RosterEvent]struct{}
}

type rosterEnvelope struct {
	Source string          `json:"source"`
	Event  dto.RosterEvent `json:"event"`
	SentAt time.Time       `json:"sent_at"`
}

// NewRosterEvents constructs the roster event broker. natsConn may be nil.
func NewRosterEvents(natsConn *nats.Conn, subject string, logger zerolog.Logger) RosterEvents {
	return &rosterEvents{
		nats:        natsConn,
		natsSubject: subject,
		nodeID:      uuid.NewString(),
		logger:      logger.With().Str("component", "roster_events").Logger(),
		subscribers: make(map[chan dto.RosterEvent]struct{}),
	}
}

func (r *rosterEvents) Publish(ctx context.Context, event dto.RosterEvent) {
	r.broadcast(event, "local")

	if r.nats == nil || r.natsSubject == "" {
		return
	}

	payload, err := json.Marshal(rosterEnvelope{Source: r.nodeID, Event: event, SentAt: time.Now().UTC()})
	if err != nil {
		r.logger.Warn().Err(err).Msg("failed to encode roster event")
		return
	}
	if err := r.nats.Publish(r.natsSubject, payload); err != nil {
		r.logger.Warn().Err(err).Str("activity", event.Activity).Msg("failed to publish roster event to nats")
	}
}

func (r *rosterEvents) Subscribe() (<-chan dto.RosterEvent, func()) {
	ch := make(chan dto.RosterEvent, rosterEventBufferSize)

	r.mu.Lock()
	r.subscribers[ch] = struct{}{}
	r.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			r.mu.Lock()
			delete(r.subscribers, ch)
			r.mu.Unlock()
			close(ch)
		})
	}

	return ch, cancel
}

// Start subscribes to the shared NATS subject until ctx is done. Every replica needs every
// event for its own websocket clients, so this is a plain subscription, not a queue group.
func (r *rosterEvents) Start(ctx context.Context) {
	if r.nats == nil || r.natsSubject == "" {
		return
	}

	sub, err := r.nats.Subscribe(r.natsSubject, func(msg *nats.Msg) {
		r.handleEnvelope(msg.Data)
	})
	if err != nil {
		r.logger.Error().Err(err).Msg("failed to subscribe to roster events subject")
		return
	}

	go func() {
		<-ctx.Done()
		if err := sub.Drain(); err != nil {
			r.logger.Warn().Err(err).Msg("failed to drain roster events subscription")
		}
	}()
}

func (r *rosterEvents) handleEnvelope(payload []byte) {
	var envelope rosterEnvelope
	if err := json.Unmarshal(payload, &envelope); err != nil {
		r.logger.Warn().Err(err).Msg("invalid roster event payload")
		return
	}

	if envelope.Source == r.nodeID {
		return
	}

	r.broadcast(envelope.Event, "remote")
}

func (r *rosterEvents) broadcast(event dto.RosterEvent, origin string) {
	observability.RosterEventsPublished().WithLabelValues(origin).Inc()

	r.mu.RLock()
	defer r.mu.RUnlock()

	for ch := range r.subscribers {
		select {
		case ch <- event:
		default:
			r.logger.Debug().Str("activity", event.Activity).Msg("dropping roster event for slow subscriber")
		}
	}
}
