package threat

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

// MISPConfig configures access to a MISP instance.
type MISPConfig struct {
	URL       string
	Key       string
	VerifyTLS bool
	Timeout   time.Duration
}

// MISPClient pulls events from the MISP REST search endpoint.
type MISPClient struct {
	baseURL string
	key     string
	client  *http.Client
	logger  *slog.Logger
}

func NewMISPClient(cfg MISPConfig, logger *slog.Logger) *MISPClient {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	transport := http.DefaultTransport.(*http.Transport).Clone()
	if !cfg.VerifyTLS {
		transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true}
	}
	return &MISPClient{
		baseURL: strings.TrimRight(cfg.URL, "/"),
		key:     cfg.Key,
		client:  &http.Client{Timeout: timeout, Transport: transport},
		logger:  logger,
	}
}

func (m *MISPClient) Name() string { return "misp" }

// Events returns every event published on or after since.
func (m *MISPClient) Events(ctx context.Context, since time.Time) ([]Event, error) {
	body, err := json.Marshal(map[string]any{
		"returnFormat": "json",
		"from":         since.Format("2006-01-02"),
	})
	if err != nil {
		return nil, fmt.Errorf("%w: encode request: %v", ErrFetch, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.baseURL+"/events/restSearch", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("%w: create request: %v", ErrFetch, err)
	}
	req.Header.Set("Authorization", m.key)
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Content-Type", "application/json")

	resp, err := m.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrFetch, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: misp returned %d", ErrFetch, resp.StatusCode)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: read body: %v", ErrFetch, err)
	}

	events, err := DecodeEvents(data, m.logger)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrFetch, err)
	}
	m.logger.Info("fetched events", "source", m.Name(), "since", since.Format("2006-01-02"), "count", len(events))
	return events, nil
}
