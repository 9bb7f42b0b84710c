// Package eventbus mirrors auction events onto NATS subjects.
package eventbus

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/DoyleJ11/ipl-auction-backend/internal/engine"
	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

type NATSConfig struct {
	URL           string
	SubjectPrefix string
	Source        string // instance identifier stamped on every message
	MaxReconnects int
	ReconnectWait time.Duration
	Timeout       time.Duration
}

func DefaultNATSConfig() NATSConfig {
	return NATSConfig{
		URL:           nats.DefaultURL,
		SubjectPrefix: "auction.events",
		MaxReconnects: -1, // Infinite
		ReconnectWait: 2 * time.Second,
		Timeout:       2 * time.Second,
	}
}

type NATSPublisher struct {
	nc     *nats.Conn
	config NATSConfig
	logger *zap.Logger
}

func NewNATSPublisher(cfg NATSConfig, logger *zap.Logger) (*NATSPublisher, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	opts := []nats.Option{
		nats.Name("ipl-auction"),
		nats.MaxReconnects(cfg.MaxReconnects),
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			logger.Error("NATS disconnected", zap.Error(err))
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info("NATS reconnected", zap.String("url", nc.ConnectedUrl()))
		}),
		nats.ErrorHandler(func(nc *nats.Conn, sub *nats.Subscription, err error) {
			logger.Error("NATS error", zap.Error(err))
		}),
	}
	if cfg.Timeout > 0 {
		opts = append(opts, nats.Timeout(cfg.Timeout))
	}

	nc, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("connect to NATS: %w", err)
	}
	logger.Info("NATS connected", zap.String("url", nc.ConnectedUrl()), zap.String("prefix", cfg.SubjectPrefix))
	return &NATSPublisher{nc: nc, config: cfg, logger: logger}, nil
}

// Subject maps an event type to its subject, e.g. auction.events.item_sold.
func Subject(prefix string, t engine.EventType) string {
	return fmt.Sprintf("%s.%s", prefix, snake(string(t)))
}

func snake(s string) string {
	var b strings.Builder
	for i, r := range s {
		if r >= 'A' && r <= 'Z' {
			if i > 0 {
				b.WriteByte('_')
			}
			r += 'a' - 'A'
		}
		b.WriteRune(r)
	}
	return b.String()
}

type message struct {
	EventID   string       `json:"eventId"`
	EventType string       `json:"eventType"`
	Source    string       `json:"source,omitempty"`
	Timestamp time.Time    `json:"timestamp"`
	Payload   engine.Event `json:"payload"`
}

func encode(source string, ev engine.Event) ([]byte, error) {
	data, err := json.Marshal(message{
		EventID:   uuid.NewString(),
		EventType: string(ev.Type),
		Source:    source,
		Timestamp: ev.At,
		Payload:   ev,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal event: %w", err)
	}
	return data, nil
}

func (p *NATSPublisher) Publish(ctx context.Context, ev engine.Event) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := encode(p.config.Source, ev)
	if err != nil {
		return err
	}
	subject := Subject(p.config.SubjectPrefix, ev.Type)
	if err := p.nc.Publish(subject, data); err != nil {
		return fmt.Errorf("publish %s: %w", subject, err)
	}
	p.logger.Debug("event published", zap.String("subject", subject), zap.Uint64("seq", ev.Seq))
	return nil
}

// Close flushes pending messages and closes the connection.
func (p *NATSPublisher) Close() error {
	return p.nc.Drain()
}
