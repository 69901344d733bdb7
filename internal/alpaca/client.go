// Package alpaca implements the venue-facing REST surface of the bridge.
package alpaca

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	json "github.com/goccy/go-json"
	"golang.org/x/time/rate"

	"github.com/tradewire/alpacabridge/config"
	"github.com/tradewire/alpacabridge/errs"
)

// Venue is the identifier stamped on error envelopes and telemetry.
const Venue = "alpaca"

const (
	// The venue allows 200 requests/minute on the basic plan; pace a little
	// under that so history backfills never trip the limiter.
	requestsPerSecond = 3
	requestBurst      = 10

	defaultPageLimit = 10000
)

// Client issues authenticated REST calls against the venue's trading and
// market-data surfaces.
type Client struct {
	tradingBase string
	dataBase    string
	creds       config.Credentials
	http        *http.Client
	limiter     *rate.Limiter
	pageLimit   int
	clock       func() time.Time
}

// NewClient constructs a REST client from bridge settings.
func NewClient(cfg config.Settings) *Client {
	timeout := cfg.HTTPTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	httpClient := new(http.Client)
	httpClient.Timeout = timeout
	return &Client{
		tradingBase: strings.TrimRight(cfg.TradingBaseURL, "/"),
		dataBase:    strings.TrimRight(cfg.DataBaseURL, "/"),
		creds:       cfg.Credentials,
		http:        httpClient,
		limiter:     rate.NewLimiter(rate.Limit(requestsPerSecond), requestBurst),
		pageLimit:   defaultPageLimit,
		clock:       time.Now,
	}
}

func (c *Client) authorize(req *http.Request) {
	if token := strings.TrimSpace(c.creds.AccessToken); token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
		return
	}
	req.Header.Set("APCA-API-KEY-ID", c.creds.APIKey)
	req.Header.Set("APCA-API-SECRET-KEY", c.creds.APISecret)
}

type venueError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// do executes a single REST round trip. A nil out discards the response body.
func (c *Client) do(ctx context.Context, method, base, path string, query url.Values, body, out any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return errs.New(Venue, errs.CodeNetwork, errs.WithMessage("request pacing interrupted"), errs.WithCause(err))
	}

	endpoint := base + path
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}

	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode %s request: %w", path, err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return fmt.Errorf("create %s request: %w", path, err)
	}
	c.authorize(req)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return errs.New(Venue, errs.CodeNetwork, errs.WithMessage(method+" "+path), errs.WithCause(err))
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return errs.New(Venue, errs.CodeNetwork, errs.WithMessage("read "+path+" response"), errs.WithCause(err))
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return decodeVenueError(resp.StatusCode, path, raw)
	}

	if out == nil || len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("decode %s response: %w", path, err)
	}
	return nil
}

func decodeVenueError(status int, path string, raw []byte) error {
	code := errs.CodeVenueRejection
	if status == http.StatusUnauthorized || status == http.StatusForbidden {
		code = errs.CodeAuth
	}
	var ve venueError
	if err := json.Unmarshal(raw, &ve); err == nil && ve.Message != "" {
		return errs.New(Venue, code,
			errs.WithHTTP(status),
			errs.WithMessage(path),
			errs.WithRawCode(fmt.Sprintf("%d", ve.Code)),
			errs.WithRawMessage(ve.Message))
	}
	return errs.New(Venue, code,
		errs.WithHTTP(status),
		errs.WithMessage(path),
		errs.WithRawMessage(strings.TrimSpace(string(raw))))
}
