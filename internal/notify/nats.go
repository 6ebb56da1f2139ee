// Package notify publishes tracker snapshots to NATS so that monitoring UIs
// outside this process can follow an ensemble run.
package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/seantiz/ensemble/internal/tracker"
)

// DefaultSubject is the subject prefix snapshots are published under.
const DefaultSubject = "ensemble.status"

// ConnectionConfig holds configuration for the NATS connection.
type ConnectionConfig struct {
	// URL is the NATS server URL (e.g. "nats://localhost:4222").
	URL string

	// Name identifies this client to the server.
	Name string

	// MaxReconnects is the maximum number of reconnect attempts; -1 is unlimited.
	MaxReconnects int

	// ReconnectWait is the time between reconnect attempts.
	ReconnectWait time.Duration

	// Timeout is the connection timeout.
	Timeout time.Duration

	// Token is an optional authentication token.
	Token string
}

// DefaultConnectionConfig returns a configuration with defaults for url.
func DefaultConnectionConfig(url string) ConnectionConfig {
	return ConnectionConfig{
		URL:           url,
		Name:          "ensemble",
		MaxReconnects: -1,
		ReconnectWait: 2 * time.Second,
		Timeout:       5 * time.Second,
	}
}

// Connect opens a NATS connection, logging disconnects and reconnects.
func Connect(cfg ConnectionConfig, logger *slog.Logger) (*nats.Conn, error) {
	if cfg.URL == "" {
		return nil, errors.New("NATS URL cannot be empty")
	}

	opts := []nats.Option{
		nats.Name(cfg.Name),
		nats.MaxReconnects(cfg.MaxReconnects),
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.Timeout(cfg.Timeout),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn("NATS disconnected", "error", err)
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info("NATS reconnected", "url", nc.ConnectedUrl())
		}),
	}
	if cfg.Token != "" {
		opts = append(opts, nats.Token(cfg.Token))
	}

	nc, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("connect to NATS: %w", err)
	}
	return nc, nil
}

// conn is the part of *nats.Conn the publisher needs.
type conn interface {
	Publish(subject string, data []byte) error
}

// Compile-time interface satisfaction check.
var _ tracker.Publisher = (*Publisher)(nil)

// Publisher sends each snapshot as JSON to "<subject>.<runID>".
type Publisher struct {
	nc      conn
	subject string
	runID   string
}

// statusMessage is the JSON payload published for each snapshot.
type statusMessage struct {
	RunID string `json:"run_id"`
	tracker.Snapshot
}

// NewPublisher creates a publisher for one ensemble run.
func NewPublisher(nc *nats.Conn, subject, runID string) *Publisher {
	return newPublisher(nc, subject, runID)
}

func newPublisher(nc conn, subject, runID string) *Publisher {
	if subject == "" {
		subject = DefaultSubject
	}
	return &Publisher{nc: nc, subject: subject + "." + runID, runID: runID}
}

// Subject returns the full subject snapshots are published on.
func (p *Publisher) Subject() string {
	return p.subject
}

// Publish implements tracker.Publisher.
func (p *Publisher) Publish(_ context.Context, snap tracker.Snapshot) error {
	data, err := json.Marshal(statusMessage{RunID: p.runID, Snapshot: snap})
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}
	if err := p.nc.Publish(p.subject, data); err != nil {
		return fmt.Errorf("publish snapshot: %w", err)
	}
	return nil
}
