package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/sirupsen/logrus"
)

// PGChannel is the PostgreSQL NOTIFY channel carrying hub events
const PGChannel = "chatai_events"

// notifyTimeout bounds the relay, which runs on the publisher's goroutine
const notifyTimeout = 2 * time.Second

// PGBridge relays hub events between server instances sharing one
// PostgreSQL storage, using LISTEN/NOTIFY.
type PGBridge struct {
	hub    *Hub
	pool   *pgxpool.Pool
	origin string
	logger logrus.FieldLogger
}

// NewPGBridge connects to dsn and hooks into hub. Call Run to start listening.
func NewPGBridge(ctx context.Context, dsn string, hub *Hub, logger logrus.FieldLogger) (*PGBridge, error) {
	pool, err := pgxpool.Connect(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to connect notify bridge: %w", err)
	}

	b := &PGBridge{
		hub:    hub,
		pool:   pool,
		origin: uuid.NewString(),
		logger: logger.WithField("component", "pgbridge"),
	}
	hub.OnPublish(b.forward)
	return b, nil
}

// forward sends a locally published event to the other instances
func (b *PGBridge) forward(evt Event) {
	if evt.Origin != "" {
		return
	}
	evt.Origin = b.origin

	data, err := json.Marshal(evt)
	if err != nil {
		b.logger.WithError(err).Error("Failed to encode event")
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), notifyTimeout)
	defer cancel()
	if _, err := b.pool.Exec(ctx, "SELECT pg_notify($1, $2)", PGChannel, string(data)); err != nil {
		b.logger.WithError(err).WithField("topic", evt.Topic).Warn("Failed to relay event")
	}
}

// Run listens for notifications until ctx is cancelled
func (b *PGBridge) Run(ctx context.Context) error {
	conn, err := b.pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("failed to acquire listen connection: %w", err)
	}
	defer conn.Release()

	if _, err := conn.Exec(ctx, "LISTEN "+PGChannel); err != nil {
		return fmt.Errorf("failed to listen: %w", err)
	}

	for {
		n, err := conn.Conn().WaitForNotification(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("failed waiting for notification: %w", err)
		}

		b.receive(n.Payload)
	}
}

// receive hands a notification from another instance to the hub. Echoes of
// this instance's own events are dropped.
func (b *PGBridge) receive(payload string) {
	var evt Event
	if err := json.Unmarshal([]byte(payload), &evt); err != nil {
		b.logger.WithError(err).Warn("Dropping malformed notification")
		return
	}
	if evt.Origin == "" || evt.Origin == b.origin {
		return
	}
	b.hub.Deliver(evt)
}

// Close releases the connection pool
func (b *PGBridge) Close() {
	b.pool.Close()
}
