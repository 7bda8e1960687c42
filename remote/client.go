// Package remote is the I/O boundary to the board service's REST API. Every
// method is exactly one HTTP call; nothing is cached or retried.
package remote

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/bytedance/sonic"
	log "github.com/sirupsen/logrus"

	"board-mirror/telemetry"
)

const (
	DefaultBaseURL = "https://api.trello.com/1"
	errorBodyLimit = 512
)

// Options configures a Client. APIKey and Token are forwarded unchanged on
// every request.
type Options struct {
	BaseURL    string
	APIKey     string
	Token      string
	Timeout    time.Duration
	HTTPClient *http.Client
	Logger     *log.Logger
}

// Client issues one request per domain operation.
type Client struct {
	baseURL string
	key     string
	token   string
	http    *http.Client
	logger  *log.Logger
}

// New creates a Client. A zero Timeout leaves the HTTP client's own setting.
func New(opts Options) *Client {
	base := strings.TrimRight(opts.BaseURL, "/")
	if base == "" {
		base = DefaultBaseURL
	}
	hc := opts.HTTPClient
	if hc == nil {
		hc = &http.Client{}
	}
	if opts.Timeout > 0 {
		clone := *hc
		clone.Timeout = opts.Timeout
		hc = &clone
	}
	return &Client{baseURL: base, key: opts.APIKey, token: opts.Token, http: hc, logger: opts.Logger}
}

func (c *Client) do(ctx context.Context, op, method, path string, params url.Values, out any) (err error) {
	obs, ctx := telemetry.Start(ctx, c.logger, "remote", op)
	status := 0
	defer func() {
		obs.EndWithStatus(status, err)
	}()
	obs.Set("method", method)

	if params == nil {
		params = url.Values{}
	}
	params.Set("key", c.key)
	params.Set("token", c.token)

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path+"?"+params.Encode(), nil)
	if err != nil {
		obs.SetErrorStage("request")
		return &Error{Op: op, Cause: err}
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		obs.SetErrorStage("transport")
		return &Error{Op: op, Cause: err}
	}
	defer resp.Body.Close()
	status = resp.StatusCode

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		obs.SetErrorStage("status")
		body, _ := io.ReadAll(io.LimitReader(resp.Body, errorBodyLimit))
		msg := strings.TrimSpace(string(body))
		if msg == "" {
			msg = http.StatusText(resp.StatusCode)
		}
		return &Error{Op: op, StatusCode: resp.StatusCode, Cause: errors.New(msg)}
	}

	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := sonic.ConfigStd.NewDecoder(resp.Body).Decode(out); err != nil {
		obs.SetErrorStage("decode")
		return &Error{Op: op, StatusCode: resp.StatusCode, Cause: err}
	}
	return nil
}

func seg(id string) string { return url.PathEscape(id) }
