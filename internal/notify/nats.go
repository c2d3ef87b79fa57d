package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"

	"threathunt/internal/query"
)

// Publisher is the subset of *nats.Conn the notifier needs.
type Publisher interface {
	Publish(subject string, data []byte) error
}

// Hit is the message published for every query that matched events.
type Hit struct {
	RunID      string    `json:"run_id"`
	Subject    string    `json:"subject_value"`
	Expression string    `json:"expression"`
	HitCount   int       `json:"hit_count"`
	From       time.Time `json:"from"`
	To         time.Time `json:"to"`
}

// HitNotifier publishes positive search results to a NATS subject.
type HitNotifier struct {
	pub     Publisher
	subject string
	logger  *slog.Logger
}

func NewHitNotifier(pub Publisher, subject string, logger *slog.Logger) *HitNotifier {
	return &HitNotifier{pub: pub, subject: subject, logger: logger}
}

// Notify publishes one message per query with a positive hit count and
// returns how many were sent.
func (n *HitNotifier) Notify(ctx context.Context, runID string, queries []query.SearchQuery) (int, error) {
	var errs []error
	sent := 0
	for _, q := range queries {
		if q.HitCount <= 0 {
			continue
		}
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}
		data, err := json.Marshal(Hit{
			RunID:      runID,
			Subject:    q.Subject,
			Expression: q.Expression,
			HitCount:   q.HitCount,
			From:       q.Window.From,
			To:         q.Window.To,
		})
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if err := n.pub.Publish(n.subject, data); err != nil {
			errs = append(errs, fmt.Errorf("publish %s: %w", q.Subject, err))
			continue
		}
		sent++
	}
	if sent > 0 {
		n.logger.Info("hits published", "subject", n.subject, "count", sent)
	}
	return sent, errors.Join(errs...)
}

// Connect dials the NATS server at url.
func Connect(url string, logger *slog.Logger) (*nats.Conn, error) {
	nc, err := nats.Connect(url,
		nats.Name("threathunt"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn("nats disconnected", "err", err)
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			logger.Info("nats reconnected", "url", c.ConnectedUrl())
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("nats connect: %w", err)
	}
	return nc, nil
}
