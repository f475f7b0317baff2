package cloud

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/pulsar-metering/pulsar-go/pkg/remotecfg"
)

// ErrNoKey - the cloud sender has no device key to authenticate with.
var ErrNoKey = errors.New("device key is empty")

// dataEndpoint is the fixed suffix appended to the normalized cloud host.
const dataEndpoint = "data"

// Authentication headers on cloud requests.
const (
	headerToken = "Pulsar-Token"
	headerEmail = "Pulsar-Email"
)

// SenderConfig configures transmission attempts. The zero value is
// filled from DefaultSenderConfig.
type SenderConfig struct {
	// Timeout bounds each request attempt.
	Timeout time.Duration

	// Attempts is the fixed retry budget per transmission.
	Attempts uint

	// RetryDelay is the fixed delay between attempts.
	RetryDelay time.Duration

	// MaxResponseSize bounds the captured cloud acknowledgement.
	MaxResponseSize int64
}

// DefaultSenderConfig returns the default sender configuration.
func DefaultSenderConfig() SenderConfig {
	return SenderConfig{
		Timeout:         10 * time.Second,
		Attempts:        3,
		RetryDelay:      time.Second,
		MaxResponseSize: remotecfg.MaxDocumentSize,
	}
}

// Sender posts cycle readings.
type Sender struct {
	config SenderConfig
	logger *slog.Logger
}

// NewSender creates a sender. logger may be nil.
func NewSender(config SenderConfig, logger *slog.Logger) *Sender {
	def := DefaultSenderConfig()
	if config.Timeout == 0 {
		config.Timeout = def.Timeout
	}
	if config.Attempts == 0 {
		config.Attempts = def.Attempts
	}
	if config.RetryDelay == 0 {
		config.RetryDelay = def.RetryDelay
	}
	if config.MaxResponseSize == 0 {
		config.MaxResponseSize = def.MaxResponseSize
	}
	return &Sender{config: config, logger: logger}
}

// PostReadings sends the data document to <host>/data and returns the
// acknowledgement body, which may carry an embedded configuration
// document. The returned body is nil when the cloud answered without
// one or the answer failed size validation; a failed validation does
// not fail the transmission.
func (s *Sender) PostReadings(ctx context.Context, host, key, email string, data map[string]any) ([]byte, error) {
	if key == "" {
		return nil, ErrNoKey
	}

	payload, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}

	url := normalizeBase(host) + dataEndpoint
	if s.logger != nil {
		s.logger.Info("sending readings to cloud", "url", url)
	}

	var ack []byte
	op := func() error {
		var opErr error
		ack, opErr = s.post(ctx, url, payload, func(req *http.Request) {
			req.Header.Set(headerToken, key)
			req.Header.Set(headerEmail, email)
		})
		return opErr
	}

	if err := s.retry(ctx, op); err != nil {
		if s.logger != nil {
			s.logger.Warn("cloud transmission failed", "url", url, "error", err)
		}
		return nil, err
	}
	return ack, nil
}

// PostGeneric sends the data document to the user-configured endpoint.
// The response body is discarded.
func (s *Sender) PostGeneric(ctx context.Context, url string, data map[string]any) error {
	payload, err := json.Marshal(data)
	if err != nil {
		return err
	}

	if s.logger != nil {
		s.logger.Info("sending readings to http endpoint", "url", url)
	}

	op := func() error {
		_, opErr := s.post(ctx, url, payload, nil)
		return opErr
	}
	if err := s.retry(ctx, op); err != nil {
		if s.logger != nil {
			s.logger.Warn("http transmission failed", "url", url, "error", err)
		}
		return err
	}
	return nil
}

func (s *Sender) retry(ctx context.Context, op func() error) error {
	bo := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewConstantBackOff(s.config.RetryDelay), uint64(s.config.Attempts-1)),
		ctx)
	return backoff.Retry(op, bo)
}

// post performs one attempt on a fresh connection. A non-2xx status is
// retried; the acknowledgement body is captured only when it passes
// size validation.
func (s *Sender) post(ctx context.Context, url string, payload []byte, decorate func(*http.Request)) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, backoff.Permanent(err)
	}
	req.Header.Set("Content-Type", "application/json")
	if decorate != nil {
		decorate(req)
	}

	client := s.newClient(url)
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("data request: %w", err)
	}
	defer resp.Body.Close()
	client.CloseIdleConnections()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("data request: unexpected status %d", resp.StatusCode)
	}

	ack, err := remotecfg.ReadBoundedResponse(resp, s.config.MaxResponseSize)
	if err != nil {
		// The transmission itself succeeded; only the optional
		// embedded configuration is dropped.
		return nil, nil
	}
	return ack, nil
}

// newClient builds a per-attempt client. Certificate validation is
// skipped for the same reason the configuration fetcher skips it: no
// trust store, no reliable clock at boot.
func (s *Sender) newClient(url string) *http.Client {
	transport := &http.Transport{
		DisableKeepAlives: true,
	}
	if strings.HasPrefix(url, "https://") {
		transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true}
	}
	return &http.Client{
		Timeout:   s.config.Timeout,
		Transport: transport,
	}
}

func normalizeBase(base string) string {
	return strings.TrimRight(base, "/") + "/"
}
