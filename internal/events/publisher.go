package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/trendmind/trendmind/pkg/config"
	"github.com/trendmind/trendmind/pkg/logging"
)

// Subject suffixes appended to the configured prefix.
const (
	TopicsDetected       = "topics.detected"
	SuggestionsGenerated = "suggestions.generated"
	RetryExhausted       = "jobs.retry_exhausted"
)

type conn interface {
	Publish(subject string, data []byte) error
}

// Publisher sends JSON notifications to NATS. Delivery is best effort; a nil
// Publisher drops everything.
type Publisher struct {
	nc     conn
	close  func()
	prefix string
	logger *zap.Logger
}

// Connect dials NATS when cfg is enabled and returns nil otherwise.
func Connect(cfg *config.NATSConfig) (*Publisher, error) {
	logger := logging.WithComponent("events")
	if !cfg.Enabled {
		logger.Info("NATS notifications disabled")
		return nil, nil
	}

	nc, err := nats.Connect(cfg.URL,
		nats.Name("trendmind"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.Timeout(5*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			logger.Warn("NATS disconnected", zap.Error(err))
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info("NATS reconnected", zap.String("url", nc.ConnectedUrl()))
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("unable to connect to NATS: %w", err)
	}

	logger.Info("NATS connection established", zap.String("url", nc.ConnectedUrl()))
	return &Publisher{nc: nc, close: nc.Close, prefix: cfg.SubjectPrefix, logger: logger}, nil
}

func newPublisher(nc conn, prefix string) *Publisher {
	return &Publisher{nc: nc, prefix: prefix, logger: logging.WithComponent("events")}
}

// Subject returns the full subject for a suffix.
func (p *Publisher) Subject(suffix string) string {
	if p == nil || p.prefix == "" {
		return suffix
	}
	return p.prefix + "." + suffix
}

// Publish encodes v and sends it on prefix.suffix. Failures are logged and
// returned but never retried.
func (p *Publisher) Publish(ctx context.Context, suffix string, v interface{}) error {
	if p == nil || p.nc == nil {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}
	subject := p.Subject(suffix)
	if err := p.nc.Publish(subject, data); err != nil {
		p.logger.Warn("Failed to publish event", zap.String("subject", subject), zap.Error(err))
		return fmt.Errorf("publish %s: %w", subject, err)
	}
	return nil
}

// Close closes the NATS connection.
func (p *Publisher) Close() {
	if p == nil || p.close == nil {
		return
	}
	p.close()
}
