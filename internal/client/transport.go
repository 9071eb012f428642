// ABOUTME: HTTP transport for chat streams, the abort control plane and balance lookups
// ABOUTME: One POST per submission; frames are handed to a Dispatcher as they arrive

package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/2389/runstream/internal/protocol"
	"github.com/2389/runstream/internal/sse"
)

// DefaultCancelTimeout bounds the abort call made when a stream is torn down.
const DefaultCancelTimeout = 10 * time.Second

const maxErrorBody = 1 << 20

// TransportError describes a failed stream or control request.
type TransportError struct {
	StatusCode int
	Body       []byte
	Err        error
}

func (e *TransportError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("transport: %v", e.Err)
	}
	return fmt.Sprintf("transport: status %d: %s", e.StatusCode, strings.TrimSpace(string(e.Body)))
}

func (e *TransportError) Unwrap() error { return e.Err }

// ErrorBody parses the response body as a gateway error. It returns nil when
// the body is empty or not an error object.
func (e *TransportError) ErrorBody() *protocol.ErrorBody {
	if len(e.Body) == 0 {
		return nil
	}
	var body protocol.ErrorBody
	if err := json.Unmarshal(e.Body, &body); err != nil {
		return nil
	}
	if body.Text() == "" {
		return nil
	}
	return &body
}

// Control is the non-streaming side of the gateway API.
type Control interface {
	Abort(ctx context.Context, req protocol.AbortRequest) (*protocol.AbortResponse, error)
	Balance(ctx context.Context) (int64, error)
}

// Transport talks to one gateway.
type Transport struct {
	HTTP      *http.Client
	ServerURL string
	Token     string
	Logger    *slog.Logger

	// CancelTimeout bounds the teardown abort call. Zero means
	// DefaultCancelTimeout.
	CancelTimeout time.Duration
}

// NewTransport returns a transport for serverURL authenticating with token.
func NewTransport(serverURL, token string, logger *slog.Logger) *Transport {
	if logger == nil {
		logger = slog.Default()
	}
	return &Transport{
		HTTP:      &http.Client{},
		ServerURL: strings.TrimRight(serverURL, "/"),
		Token:     token,
		Logger:    logger.With("component", "transport"),
	}
}

func (t *Transport) client() *http.Client {
	if t.HTTP != nil {
		return t.HTTP
	}
	return http.DefaultClient
}

func (t *Transport) newRequest(ctx context.Context, method, path string, body any) (*http.Request, error) {
	var r io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshaling request: %w", err)
		}
		r = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, t.ServerURL+path, r)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if t.Token != "" {
		req.Header.Set("Authorization", "Bearer "+t.Token)
	}
	return req, nil
}

// Stream posts sub and feeds every frame to d until the stream ends or ctx
// is cancelled. On the way out, a stream that saw neither a final frame nor
// an error is cancelled through d, which aborts the run on the gateway.
func (t *Transport) Stream(ctx context.Context, sub *Submission, d *Dispatcher) error {
	d.connecting()
	defer t.teardown(ctx, sub, d)

	req, err := t.newRequest(ctx, http.MethodPost, "/api/agents/chat", sub.Request)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "text/event-stream")

	resp, err := t.client().Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		terr := &TransportError{Err: err}
		d.transportError(ctx, terr)
		return terr
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		terr := &TransportError{StatusCode: resp.StatusCode, Body: raw}
		d.transportError(ctx, terr)
		return terr
	}

	d.open()
	reader := sse.NewReader(resp.Body)
	for {
		msg, err := reader.Next()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			terr := &TransportError{StatusCode: resp.StatusCode, Err: fmt.Errorf("reading stream: %w", err)}
			d.transportError(ctx, terr)
			return terr
		}
		d.Dispatch(ctx, []byte(msg.Data))
	}
}

func (t *Transport) teardown(ctx context.Context, sub *Submission, d *Dispatcher) {
	d.closed()
	if sub.Terminated() || sub.Errored() {
		return
	}

	timeout := t.CancelTimeout
	if timeout <= 0 {
		timeout = DefaultCancelTimeout
	}
	cctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), timeout)
	defer cancel()
	d.Cancel(cctx)
}

// Abort asks the gateway to stop a run.
func (t *Transport) Abort(ctx context.Context, abort protocol.AbortRequest) (*protocol.AbortResponse, error) {
	req, err := t.newRequest(ctx, http.MethodPost, "/api/agents/chat/abort", abort)
	if err != nil {
		return nil, err
	}
	var out protocol.AbortResponse
	if err := t.do(req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Balance fetches the caller's remaining token credits.
func (t *Transport) Balance(ctx context.Context) (int64, error) {
	req, err := t.newRequest(ctx, http.MethodGet, "/api/balance", nil)
	if err != nil {
		return 0, err
	}
	var out protocol.BalanceResponse
	if err := t.do(req, &out); err != nil {
		return 0, err
	}
	return out.TokenCredits, nil
}

func (t *Transport) do(req *http.Request, out any) error {
	resp, err := t.client().Do(req)
	if err != nil {
		return &TransportError{Err: err}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	if err != nil {
		return &TransportError{StatusCode: resp.StatusCode, Err: fmt.Errorf("reading response: %w", err)}
	}
	if resp.StatusCode != http.StatusOK {
		return &TransportError{StatusCode: resp.StatusCode, Body: raw}
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}
	return nil
}

var _ Control = (*Transport)(nil)
