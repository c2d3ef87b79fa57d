package siem

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
)

const (
	MethodAuthenticate = "/siem.v1.SearchService/Authenticate"
	MethodSearch       = "/siem.v1.SearchService/Search"
)

// GRPCConnector talks to a search gateway exposing SearchService over gRPC.
// Messages are google.protobuf.Struct so no generated stubs are required.
type GRPCConnector struct {
	conn   *grpc.ClientConn
	logger *slog.Logger

	mu    sync.RWMutex
	token string
}

// NewGRPCConnector creates a client for opts.Target. The connection is
// established lazily on the first call.
func NewGRPCConnector(opts Options, logger *slog.Logger, dialOpts ...grpc.DialOption) (*GRPCConnector, error) {
	if opts.Target == "" {
		return nil, errors.New("grpc connector: empty target")
	}
	creds := credentials.NewTLS(&tls.Config{MinVersion: tls.VersionTLS12})
	if opts.Insecure {
		creds = insecure.NewCredentials()
	}
	dialOpts = append([]grpc.DialOption{grpc.WithTransportCredentials(creds)}, dialOpts...)
	conn, err := grpc.NewClient(opts.Target, dialOpts...)
	if err != nil {
		return nil, fmt.Errorf("grpc connector: %w", err)
	}
	return &GRPCConnector{conn: conn, logger: logger}, nil
}

func (g *GRPCConnector) Close() error { return g.conn.Close() }

func (g *GRPCConnector) Authenticate(ctx context.Context, creds Credentials) error {
	req, err := structpb.NewStruct(map[string]any{
		"host":     creds.Host,
		"username": creds.Username,
		"secret":   creds.Secret,
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrAuthentication, err)
	}
	resp := &structpb.Struct{}
	if err := g.conn.Invoke(ctx, MethodAuthenticate, req, resp); err != nil {
		if classify(err) == ErrBackendUnavailable {
			return fmt.Errorf("%w: %w: %v", ErrAuthentication, ErrBackendUnavailable, err)
		}
		return fmt.Errorf("%w: %v", ErrAuthentication, err)
	}
	token := resp.GetFields()["token"].GetStringValue()
	if token == "" {
		return fmt.Errorf("%w: empty session token", ErrAuthentication)
	}

	g.mu.Lock()
	g.token = token
	g.mu.Unlock()
	g.logger.Info("siem login", "target", g.conn.Target(), "user", creds.Username)
	return nil
}

func (g *GRPCConnector) Search(ctx context.Context, expression string, from, to time.Time) (int, error) {
	g.mu.RLock()
	token := g.token
	g.mu.RUnlock()
	if token == "" {
		return 0, fmt.Errorf("%w: not authenticated", ErrQuery)
	}

	req, err := structpb.NewStruct(map[string]any{
		"expression": expression,
		"from":       from.UTC().Format(time.RFC3339),
		"to":         to.UTC().Format(time.RFC3339),
	})
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrQuery, err)
	}
	ctx = metadata.AppendToOutgoingContext(ctx, "authorization", "Bearer "+token)
	resp := &structpb.Struct{}
	if err := g.conn.Invoke(ctx, MethodSearch, req, resp); err != nil {
		return 0, fmt.Errorf("%w: %v", classify(err), err)
	}

	v, ok := resp.GetFields()["count"]
	if !ok {
		return 0, fmt.Errorf("%w: response without count", ErrQuery)
	}
	count := v.GetNumberValue()
	if count < 0 {
		return 0, fmt.Errorf("%w: negative count %v", ErrQuery, count)
	}
	return int(count), nil
}

func classify(err error) error {
	switch status.Code(err) {
	case codes.Unauthenticated, codes.PermissionDenied:
		return ErrAuthentication
	case codes.Unavailable, codes.DeadlineExceeded, codes.ResourceExhausted, codes.Aborted:
		return ErrBackendUnavailable
	default:
		return ErrQuery
	}
}
