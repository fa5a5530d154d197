package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"browser-session/internal/application/port/output"
	"browser-session/internal/domain/entity"
)

var _ output.BackendPort = (*Client)(nil)

var ErrUnexpectedStatus = errors.New("unexpected status")

const (
	intentTokenHeader = "x-intent-token"

	configurationPath = "/automation/configuration"
	commandResultPath = "/automation/command-result"
	browserStatePath  = "/automation/browser-state"
)

type Config struct {
	BaseURL string
	// ConfigurationTimeout bounds the single configuration fetch.
	ConfigurationTimeout time.Duration
	// RequestTimeout is the client-level timeout for every other request.
	RequestTimeout time.Duration
	ResultAttempts int
	// ResultBackoff is multiplied by the attempt number between result retries.
	ResultBackoff time.Duration
	Logger        output.LoggerPort
}

func DefaultConfig(baseURL string) Config {
	return Config{
		BaseURL:              baseURL,
		ConfigurationTimeout: 10 * time.Second,
		RequestTimeout:       30 * time.Second,
		ResultAttempts:       3,
		ResultBackoff:        time.Second,
	}
}

type Client struct {
	http    *http.Client
	baseURL string
	cfg     Config
	logger  output.LoggerPort
}

func NewClient(cfg Config) *Client {
	transport := http.DefaultTransport
	if cfg.Logger != nil {
		transport = &loggingTransport{base: transport, logger: cfg.Logger}
	}
	if cfg.ResultAttempts <= 0 {
		cfg.ResultAttempts = 1
	}

	return &Client{
		http: &http.Client{
			Transport: transport,
			Timeout:   cfg.RequestTimeout,
		},
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		cfg:     cfg,
		logger:  cfg.Logger,
	}
}

func (c *Client) FetchConfiguration(ctx context.Context, intentToken string) (*entity.AutomationConfiguration, error) {
	if c.cfg.ConfigurationTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.cfg.ConfigurationTimeout)
		defer cancel()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+configurationPath, nil)
	if err != nil {
		return nil, fmt.Errorf("build configuration request: %w", err)
	}
	req.Header.Set(intentTokenHeader, intentToken)
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch configuration: %w", err)
	}
	defer resp.Body.Close()

	if err := checkStatus(resp); err != nil {
		return nil, fmt.Errorf("fetch configuration: %w", err)
	}

	var cfg entity.AutomationConfiguration
	if err := json.NewDecoder(resp.Body).Decode(&cfg); err != nil {
		return nil, fmt.Errorf("decode configuration: %w", err)
	}
	return &cfg, nil
}

// SendCommandResult posts result, retrying failed attempts with a linearly
// growing pause. The last error is returned once attempts are exhausted.
func (c *Client) SendCommandResult(ctx context.Context, intentToken string, result entity.CommandResult) error {
	body, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("encode command result: %w", err)
	}

	var lastErr error
	for attempt := 1; attempt <= c.cfg.ResultAttempts; attempt++ {
		lastErr = c.post(ctx, commandResultPath, intentToken, body)
		if lastErr == nil {
			return nil
		}
		c.logWarn("Command result attempt failed", "id", result.ID, "attempt", attempt, "error", lastErr)

		if attempt == c.cfg.ResultAttempts {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Duration(attempt) * c.cfg.ResultBackoff):
		}
	}
	return fmt.Errorf("send command result %s after %d attempts: %w", result.ID, c.cfg.ResultAttempts, lastErr)
}

func (c *Client) SendBrowserState(ctx context.Context, intentToken string, state entity.BrowserState) error {
	body, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("encode browser state: %w", err)
	}
	if err := c.post(ctx, browserStatePath, intentToken, body); err != nil {
		return fmt.Errorf("send browser state: %w", err)
	}
	return nil
}

func (c *Client) post(ctx context.Context, path, intentToken string, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set(intentTokenHeader, intentToken)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	return checkStatus(resp)
}

func checkStatus(resp *http.Response) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	return fmt.Errorf("%w: %s", ErrUnexpectedStatus, resp.Status)
}

func (c *Client) logWarn(msg string, args ...any) {
	if c.logger != nil {
		c.logger.Warn(msg, args...)
	}
}
