package relay

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/rzbill/spotsync/internal/record"
	"github.com/rzbill/spotsync/internal/relay/wire"
	logpkg "github.com/rzbill/spotsync/pkg/log"
)

// maxLineBytes bounds a single NDJSON record line.
const maxLineBytes = 1 << 20

// HTTPTransport speaks the relay's HTTP API: POST /v1/query returns one
// JSON record per line, POST /v1/publish stores a record.
type HTTPTransport struct {
	client *http.Client
	dec    decoder
}

// HTTPOptions configures an HTTPTransport.
type HTTPOptions struct {
	Client           *http.Client
	VerifySignatures bool
	Logger           logpkg.Logger
}

// NewHTTPTransport constructs an HTTPTransport.
func NewHTTPTransport(opts HTTPOptions) *HTTPTransport {
	if opts.Client == nil {
		opts.Client = &http.Client{}
	}
	if opts.Logger == nil {
		opts.Logger = logpkg.NewNopLogger()
	}
	return &HTTPTransport{
		client: opts.Client,
		dec:    decoder{verify: opts.VerifySignatures, logger: opts.Logger.With(logpkg.Component("relay.http"))},
	}
}

func joinURL(endpoint, path string) string {
	return strings.TrimRight(endpoint, "/") + path
}

// Query implements Transport.
func (t *HTTPTransport) Query(ctx context.Context, endpoint string, sub Subscription, emit func(record.Record) error) error {
	body, err := json.Marshal(sub.Filter)
	if err != nil {
		return fmt.Errorf("encode filter: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, joinURL(endpoint, "/v1/query"), bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/x-ndjson")
	if sub.ID != "" {
		req.Header.Set(wire.SubscriptionIDHeader, sub.ID)
	}
	resp, err := t.client.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode >= 300 {
		_, _ = io.Copy(io.Discard, resp.Body)
		return fmt.Errorf("http error: %s", resp.Status)
	}

	sc := bufio.NewScanner(resp.Body)
	sc.Buffer(make([]byte, 0, 64<<10), maxLineBytes)
	for sc.Scan() {
		line := bytes.TrimSpace(sc.Bytes())
		if len(line) == 0 {
			continue
		}
		r, ok := t.dec.decode(endpoint, line)
		if !ok {
			continue
		}
		if err := emit(r); err != nil {
			return err
		}
	}
	if err := sc.Err(); err != nil {
		return err
	}
	return ctx.Err()
}

// Publish implements Transport.
func (t *HTTPTransport) Publish(ctx context.Context, endpoint string, r record.Record) error {
	body, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("encode record: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, joinURL(endpoint, "/v1/publish"), bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := t.client.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode < 300 {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	var msg struct {
		Error string `json:"error"`
	}
	_ = json.NewDecoder(io.LimitReader(resp.Body, 64<<10)).Decode(&msg)
	if resp.StatusCode >= 400 && resp.StatusCode < 500 && resp.StatusCode != http.StatusTooManyRequests {
		if msg.Error == "" {
			msg.Error = resp.Status
		}
		return &RejectedError{Endpoint: endpoint, Reason: msg.Error}
	}
	return fmt.Errorf("http error: %s", resp.Status)
}

// Ping implements Transport.
func (t *HTTPTransport) Ping(ctx context.Context, endpoint string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, joinURL(endpoint, "/v1/healthz"), nil)
	if err != nil {
		return err
	}
	resp, err := t.client.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()
	_, _ = io.Copy(io.Discard, resp.Body)
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("http error: %s", resp.Status)
	}
	return nil
}
