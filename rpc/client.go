package rpc

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

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"

	"github.com/bountydotnew/querykit"
	"github.com/bountydotnew/querykit/apperr"
)

type ClientOptions struct {
	// Required
	BaseURL string // e.g. "http://localhost:8080"

	Token      string        // bearer token; "" => anonymous
	HTTPClient *http.Client  // nil => a client with Timeout
	Timeout    time.Duration // 0 => 15s; ignored when HTTPClient is set
	Tracer     trace.Tracer  // nil => global provider
}

type Client struct {
	base   string
	token  string
	hc     *http.Client
	tracer trace.Tracer
}

func NewClient(opts ClientOptions) (*Client, error) {
	if opts.BaseURL == "" {
		return nil, errors.New("rpc: base URL is required")
	}
	c := &Client{
		base:   strings.TrimRight(opts.BaseURL, "/"),
		token:  opts.Token,
		hc:     opts.HTTPClient,
		tracer: opts.Tracer,
	}
	if c.hc == nil {
		c.hc = &http.Client{Timeout: coalesceDur(opts.Timeout, 15*time.Second)}
	}
	if c.tracer == nil {
		c.tracer = otel.Tracer("github.com/bountydotnew/querykit/rpc")
	}
	return c, nil
}

// Call invokes procedure name with in and decodes the result into out (which
// may be nil). Server errors come back as *apperr.Error with their kind;
// transport failures are unavailable errors. A done ctx returns ctx.Err().
func (c *Client) Call(ctx context.Context, name string, in, out any) (err error) {
	ctx, span := c.tracer.Start(ctx, "rpc.client "+name,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(attribute.String("rpc.method", name)))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, string(apperr.KindOf(err)))
		}
		span.End()
	}()

	body, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("rpc: encode %s input: %w", name, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base+PathPrefix+name, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("rpc: %s: %w", name, err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(req.Header))

	resp, err := c.hc.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return apperr.Unavailable("Service unavailable", err)
	}
	defer resp.Body.Close()
	span.SetAttributes(attribute.Int("http.status_code", resp.StatusCode))

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return apperr.Unavailable("Service unavailable", err)
	}

	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		if resp.StatusCode >= 500 {
			return apperr.Unavailable(fmt.Sprintf("Service unavailable (%d)", resp.StatusCode), nil)
		}
		return apperr.Wrap(apperr.KindInternal, "malformed response from "+name, err)
	}
	if env.Error != nil {
		return env.Error.err()
	}
	if resp.StatusCode != http.StatusOK {
		return apperr.Newf(apperr.KindInternal, "rpc %s: unexpected status %d", name, resp.StatusCode)
	}
	if out == nil || len(env.Result) == 0 {
		return nil
	}
	if err := json.Unmarshal(env.Result, out); err != nil {
		return apperr.Wrap(apperr.KindInternal, "decode result of "+name, err)
	}
	return nil
}

// Procedure binds name to a typed operation usable by queries and mutations.
func Procedure[I, O any](c *Client, name string) querykit.Operation[I, O] {
	return func(ctx context.Context, in I) (O, error) {
		var out O
		err := c.Call(ctx, name, in, &out)
		return out, err
	}
}

func coalesceDur(v, def time.Duration) time.Duration {
	if v > 0 {
		return v
	}
	return def
}
