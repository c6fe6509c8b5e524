package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"

	"transcendence/pong/internal/logging"
	"transcendence/pong/internal/matchmaking"
)

// ResultSubject is where finished matches are announced.
const ResultSubject = "pong.match.results"

// Publisher announces match records on NATS for the rest of the platform.
type Publisher struct {
	conn    *nats.Conn
	subject string
}

// ConnectNATS dials url with reconnects enabled.
func ConnectNATS(url string, logger *logging.Logger) (*nats.Conn, error) {
	if logger == nil {
		logger = logging.L()
	}
	conn, err := nats.Connect(url,
		nats.Name("pong-matchmaker"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn("nats disconnected", logging.Error(err))
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			logger.Info("nats reconnected", logging.String("url", c.ConnectedUrl()))
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connect nats: %w", err)
	}
	return conn, nil
}

// NewPublisher publishes on subject, or ResultSubject when empty.
func NewPublisher(conn *nats.Conn, subject string) *Publisher {
	if subject == "" {
		subject = ResultSubject
	}
	return &Publisher{conn: conn, subject: subject}
}

// Record publishes rec and waits for the server to acknowledge the flush.
func (p *Publisher) Record(ctx context.Context, rec matchmaking.MatchRecord) error {
	payload, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode match record: %w", err)
	}
	if err := p.conn.Publish(p.subject, payload); err != nil {
		return fmt.Errorf("publish match record: %w", err)
	}
	if err := p.conn.FlushWithContext(ctx); err != nil {
		return fmt.Errorf("flush match record: %w", err)
	}
	return nil
}
