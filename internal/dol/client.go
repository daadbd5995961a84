// Package dol is the single choke point for calls to the Department of Labor
// open data API (https://apiprod.dol.gov/v4).
package dol

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
)

const (
	DefaultBaseURL     = "https://apiprod.dol.gov/v4"
	DefaultMinInterval = 300 * time.Millisecond
	DefaultTimeout     = 30 * time.Second

	apiKeyParam  = "X-API-KEY"
	maxBodyBytes = 8 << 20
)

// Config configures a Client. Zero values fall back to the defaults above.
type Config struct {
	BaseURL     string
	APIKey      string
	MinInterval time.Duration
	Timeout     time.Duration
}

// Client issues paced GET requests to the DOL API. Every failure is returned
// as a *Error; nothing panics past this type.
type Client struct {
	baseURL string
	apiKey  string
	http    *http.Client
	pacer   *Pacer
	maxBody int64
}

// New creates a Client. A negative MinInterval disables pacing.
func New(cfg Config) *Client {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	interval := cfg.MinInterval
	switch {
	case interval == 0:
		interval = DefaultMinInterval
	case interval < 0:
		interval = 0
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  cfg.APIKey,
		http:    &http.Client{Timeout: timeout},
		pacer:   NewPacer(interval),
		maxBody: maxBodyBytes,
	}
}

// Get requests path with the given query parameters and decodes the JSON
// body into out.
func (c *Client) Get(ctx context.Context, path string, params url.Values, out any) error {
	body, err := c.do(ctx, path, params)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(body, out); err != nil {
		return connectivityError(fmt.Errorf("decoding response: %w", err))
	}
	return nil
}

// GetText requests path and returns the raw body, for non-JSON formats.
func (c *Client) GetText(ctx context.Context, path string, params url.Values) (string, error) {
	body, err := c.do(ctx, path, params)
	if err != nil {
		return "", err
	}
	return string(body), nil
}

func (c *Client) do(ctx context.Context, path string, params url.Values) ([]byte, error) {
	u, err := url.Parse(c.baseURL + path)
	if err != nil {
		return nil, &Error{Kind: KindHTTP, Message: fmt.Sprintf("invalid request path %q", path), Err: err}
	}

	q := u.Query()
	if c.apiKey != "" {
		q.Set(apiKeyParam, c.apiKey)
	}
	for k, vs := range params {
		for _, v := range vs {
			q.Add(k, v)
		}
	}
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, connectivityError(err)
	}
	req.Header.Set("Accept", "application/json")

	release, err := c.pacer.Acquire(ctx)
	if err != nil {
		return nil, connectivityError(err)
	}
	defer release()

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		log.Warn().Err(redact(err, c.apiKey)).Str("path", path).Msg("DOL request failed")
		return nil, connectivityError(redact(err, c.apiKey))
	}
	defer resp.Body.Close()

	log.Debug().
		Str("path", path).
		Int("status", resp.StatusCode).
		Dur("duration", time.Since(start)).
		Msg("DOL request")

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		io.Copy(io.Discard, io.LimitReader(resp.Body, c.maxBody))
		log.Warn().Str("path", path).Int("status", resp.StatusCode).Msg("DOL API error")
		return nil, statusError(resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, c.maxBody+1))
	if err != nil {
		return nil, connectivityError(fmt.Errorf("reading response: %w", err))
	}
	if int64(len(body)) > c.maxBody {
		log.Warn().Str("path", path).Int64("limit", c.maxBody).Msg("DOL response too large")
		return nil, tooLargeError(c.maxBody)
	}
	return body, nil
}

// redact strips the API key from errors that echo the request URL.
func redact(err error, key string) error {
	if key == "" || !strings.Contains(err.Error(), key) {
		return err
	}
	return fmt.Errorf("%s", strings.ReplaceAll(err.Error(), key, "REDACTED"))
}
