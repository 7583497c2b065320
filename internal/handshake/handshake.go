// Package handshake negotiates protocol and capabilities between two
// agents before any task flows between them. One call performs one
// logical handshake: a single handshake id, one or more sequential
// attempts over a Transport, and a final result or typed error.
package handshake

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/basket/swarmctl/internal/swarm"
	"github.com/google/uuid"
)

// Error codes. Timeout and transport failures retry; everything else
// is fatal because retrying cannot change the outcome.
const (
	CodeInvalidOptions    = "INVALID_OPTIONS"
	CodeInvalidRequest    = "INVALID_REQUEST"
	CodeInvalidResponse   = "INVALID_RESPONSE"
	CodeTimeout           = "TIMEOUT"
	CodeTransport         = "TRANSPORT_ERROR"
	CodeIDMismatch        = "ID_MISMATCH"
	CodeNegotiationFailed = "PROTOCOL_NEGOTIATION_FAILED"
)

// Error is the typed failure every handshake path reports.
type Error struct {
	Code    string
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

func newError(code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

func retryable(code string) bool {
	return code == CodeTimeout || code == CodeTransport
}

// Request is the handshake envelope sent to the peer.
type Request struct {
	Kind               string   `json:"kind"`
	ID                 string   `json:"id"`
	From               string   `json:"from"`
	SupportedProtocols []string `json:"supportedProtocols"`
	Capabilities       []string `json:"capabilities"`
	Timestamp          int64    `json:"timestamp"`
}

// Response is the peer's answer. Either Protocol names the single
// protocol the peer chose, or SupportedProtocols lists what it can do
// and the requester picks.
type Response struct {
	Kind               string   `json:"kind"`
	RequestID          string   `json:"requestId"`
	From               string   `json:"from"`
	Accepted           bool     `json:"accepted"`
	Protocol           string   `json:"protocol,omitempty"`
	SupportedProtocols []string `json:"supportedProtocols,omitempty"`
	Capabilities       []string `json:"capabilities,omitempty"`
	Reason             string   `json:"reason,omitempty"`
	Timestamp          int64    `json:"timestamp,omitempty"`
}

// Options configure Perform. The zero value is usable.
type Options struct {
	SupportedProtocols   []string      // default ["swarm/0.1"]
	Capabilities         []string      // default DefaultCapabilities
	RequiredCapabilities []string      // peer must advertise all of these
	Timeout              time.Duration // per attempt; default 5s, <=0 disables
	Retries              int           // extra attempts; default 0 = one attempt
	RetryDelay           time.Duration // default 250ms, scaled linearly by attempt
	Logger               *slog.Logger
}

// DefaultCapabilities is what an agent advertises when the caller does
// not say otherwise.
var DefaultCapabilities = []string{"task_exchange", "heartbeat"}

const (
	defaultProtocol   = "swarm/0.1"
	defaultTimeout    = 5 * time.Second
	defaultRetryDelay = 250 * time.Millisecond
)

func (o Options) withDefaults() (Options, error) {
	if o.SupportedProtocols == nil {
		o.SupportedProtocols = []string{defaultProtocol}
	}
	if len(o.SupportedProtocols) == 0 {
		return o, newError(CodeInvalidOptions, "supportedProtocols must be non-empty")
	}
	if o.Capabilities == nil {
		o.Capabilities = DefaultCapabilities
	}
	if o.Retries < 0 {
		return o, newError(CodeInvalidOptions, "retries must be >= 0, got %d", o.Retries)
	}
	if o.Timeout == 0 {
		o.Timeout = defaultTimeout
	}
	if o.RetryDelay <= 0 {
		o.RetryDelay = defaultRetryDelay
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	return o, nil
}

// Perform runs the handshake from one agent to another over the given
// transport. Peer declines come back as a result with Accepted false;
// only option, protocol, and exhausted-retry failures return an error.
func Perform(ctx context.Context, from, target string, transport Transport, opts Options) (*swarm.HandshakeResult, error) {
	if from == "" || target == "" {
		return nil, newError(CodeInvalidOptions, "from and target agent ids must be non-empty")
	}
	if transport == nil {
		return nil, newError(CodeInvalidOptions, "transport must be non-nil")
	}
	opts, err := opts.withDefaults()
	if err != nil {
		return nil, err
	}

	// One id for the whole call so the peer can correlate retransmits.
	handshakeID := uuid.NewString()
	req := &Request{
		Kind:               "handshake_request",
		ID:                 handshakeID,
		From:               from,
		SupportedProtocols: opts.SupportedProtocols,
		Capabilities:       opts.Capabilities,
		Timestamp:          swarm.NowMs(),
	}
	if err := ValidateRequest(req); err != nil {
		return nil, &Error{Code: CodeInvalidRequest, Message: "request envelope failed schema validation", Err: err}
	}

	started := time.Now()
	attempts := 0
	var lastErr *Error
	for attempt := 1; attempt <= opts.Retries+1; attempt++ {
		if attempt > 1 {
			delay := opts.RetryDelay * time.Duration(attempt-1)
			opts.Logger.Warn("handshake attempt failed, retrying",
				"handshake_id", handshakeID,
				"target", target,
				"attempt", attempt-1,
				"delay", delay.String(),
				"error", lastErr.Error())
			timer := time.NewTimer(delay)
			select {
			case <-ctx.Done():
				timer.Stop()
				return nil, &Error{Code: CodeTransport, Message: "handshake canceled during retry wait", Err: ctx.Err()}
			case <-timer.C:
			}
		}

		attempts = attempt
		resp, err := exchange(ctx, transport, req, opts.Timeout)
		if err != nil {
			lastErr = err
			if retryable(err.Code) {
				continue
			}
			return nil, err
		}

		result, err := interpret(resp, req, opts)
		if err != nil {
			return nil, err
		}
		result.HandshakeID = handshakeID
		result.Attempts = attempts
		result.LatencyMs = time.Since(started).Milliseconds()
		opts.Logger.Info("handshake finished",
			"handshake_id", handshakeID,
			"target", target,
			"accepted", result.Accepted,
			"protocol", result.Protocol,
			"attempts", attempts)
		return result, nil
	}
	return nil, lastErr
}

// exchange runs one attempt with its own timeout.
func exchange(ctx context.Context, transport Transport, req *Request, timeout time.Duration) (*Response, *Error) {
	attemptCtx := ctx
	if timeout > 0 {
		var cancel context.CancelFunc
		attemptCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	resp, err := transport.Exchange(attemptCtx, req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(attemptCtx.Err(), context.DeadlineExceeded) {
			return nil, &Error{Code: CodeTimeout, Message: "handshake attempt timed out", Err: err}
		}
		return nil, &Error{Code: CodeTransport, Message: "handshake transport failed", Err: err}
	}
	if resp == nil {
		return nil, newError(CodeTransport, "transport returned no response")
	}
	return resp, nil
}

// interpret validates and evaluates one response against the request.
func interpret(resp *Response, req *Request, opts Options) (*swarm.HandshakeResult, *Error) {
	if err := ValidateResponse(resp); err != nil {
		return nil, &Error{Code: CodeInvalidResponse, Message: "response envelope failed schema validation", Err: err}
	}
	if resp.RequestID != req.ID {
		return nil, newError(CodeIDMismatch, "response correlates to %q, sent %q", resp.RequestID, req.ID)
	}

	if !resp.Accepted {
		// Transport worked, the peer said no. That is an answer, so
		// the protocol is best effort and never a failure here.
		protocol, _ := Negotiate(opts.SupportedProtocols, resp)
		return &swarm.HandshakeResult{
			Accepted:         false,
			Protocol:         protocol,
			Reason:           resp.Reason,
			PeerCapabilities: resp.Capabilities,
		}, nil
	}

	protocol, err := Negotiate(opts.SupportedProtocols, resp)
	if err != nil {
		return nil, err
	}

	result := &swarm.HandshakeResult{
		Accepted:         true,
		Protocol:         protocol,
		Reason:           resp.Reason,
		PeerCapabilities: resp.Capabilities,
	}

	var missing []string
	for _, cap := range opts.RequiredCapabilities {
		found := false
		for _, c := range resp.Capabilities {
			if c == cap {
				found = true
				break
			}
		}
		if !found {
			missing = append(missing, cap)
		}
	}
	if len(missing) > 0 {
		result.Accepted = false
		result.Reason = "missing_capabilities"
		result.MissingCapabilities = missing
	}
	return result, nil
}
