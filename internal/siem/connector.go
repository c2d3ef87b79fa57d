package siem

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

var (
	ErrAuthentication     = errors.New("siem authentication failed")
	ErrBackendUnavailable = errors.New("siem backend unavailable")
	ErrQuery              = errors.New("siem query failed")
)

// Credentials identify a session against a backend.
type Credentials struct {
	Host     string
	Username string
	Secret   string
}

// Connector is the capability every search backend adapter provides.
// Search may be called concurrently once Authenticate has returned nil.
type Connector interface {
	// Authenticate establishes a session. Failures wrap ErrAuthentication.
	Authenticate(ctx context.Context, creds Credentials) error
	// Search counts events matching expression within [from, to].
	// Failures wrap ErrBackendUnavailable or ErrQuery.
	Search(ctx context.Context, expression string, from, to time.Time) (int, error)
}

// Retryable reports whether a failed search is worth repeating.
func Retryable(err error) bool {
	return errors.Is(err, ErrBackendUnavailable) || errors.Is(err, context.DeadlineExceeded)
}

// Options configures adapters built by New.
type Options struct {
	// Target is the dial target for network adapters.
	Target   string
	Insecure bool
}

// New builds the adapter registered under kind.
func New(kind string, opts Options, logger *slog.Logger) (Connector, error) {
	switch kind {
	case "", "generic":
		return NewGenericConnector(logger), nil
	case "grpc":
		c, err := NewGRPCConnector(opts, logger)
		if err != nil {
			return nil, err
		}
		return c, nil
	default:
		return nil, fmt.Errorf("unknown siem kind %q", kind)
	}
}
