package events

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/majordomohq/majordomo/pkg/config"
)

// Mirror republishes bus events to NATS so dashboards outside the
// process can watch the workflow. Publishing is fire-and-forget: a
// broken connection costs events, never requests.
type Mirror struct {
	conn   *nats.Conn
	prefix string
	logger *slog.Logger
}

// NewMirror connects to the configured NATS server. Reconnects are
// handled by the client; events published while disconnected are
// buffered up to the client's reconnect buffer.
func NewMirror(cfg config.NATSConfig, logger *slog.Logger) (*Mirror, error) {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "events.nats")

	opts := []nats.Option{
		nats.Name("majordomo-events"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2 * time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn("NATS disconnected", "error", err)
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info("NATS reconnected", "url", nc.ConnectedUrl())
		}),
	}

	conn, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("connecting to nats %s: %w", cfg.URL, err)
	}

	logger.Info("NATS event mirror connected", "url", cfg.URL, "subjectPrefix", cfg.SubjectPrefix)
	return &Mirror{
		conn:   conn,
		prefix: cfg.SubjectPrefix,
		logger: logger,
	}, nil
}

// Publish sends e to <prefix>.<type> as JSON. Failures are logged and
// swallowed.
func (m *Mirror) Publish(e Event) {
	data, err := json.Marshal(e)
	if err != nil {
		m.logger.Error("Failed to marshal event", "type", e.Type, "error", err)
		return
	}

	subject := m.prefix + "." + string(e.Type)
	if err := m.conn.Publish(subject, data); err != nil {
		m.logger.Warn("Failed to mirror event", "subject", subject, "error", err)
	}
}

// Close drains the connection so queued events flush before shutdown.
func (m *Mirror) Close() {
	if m.conn == nil {
		return
	}
	if err := m.conn.Drain(); err != nil {
		m.logger.Warn("Error draining NATS connection", "error", err)
		m.conn.Close()
	}
}
