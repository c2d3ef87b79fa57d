package siem

import (
	"context"
	"log/slog"
	"time"
)

// GenericConnector is the reference adapter. It accepts any credentials
// and reports zero hits for every search.
type GenericConnector struct {
	logger *slog.Logger
}

func NewGenericConnector(logger *slog.Logger) *GenericConnector {
	return &GenericConnector{logger: logger}
}

func (g *GenericConnector) Authenticate(ctx context.Context, creds Credentials) error {
	g.logger.Info("siem login", "host", creds.Host, "user", creds.Username)
	return nil
}

func (g *GenericConnector) Search(ctx context.Context, expression string, from, to time.Time) (int, error) {
	g.logger.Debug("siem search stub", "query", expression, "from", from, "to", to)
	return 0, nil
}
