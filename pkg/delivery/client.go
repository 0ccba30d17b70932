// Package delivery sends attribute batches to the Batch.com profile API.
//
// A batch succeeds or fails as a whole: HTTP 202 marks every record as
// delivered, anything else (another status, a transport error, a payload
// that cannot be encoded) marks every record as failed. There is no retry
// here; the caller rolls the source back instead.
package delivery

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"
	"unicode/utf8"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"github.com/ajitpratap0/batchsync/pkg/batch"
	"github.com/ajitpratap0/batchsync/pkg/clients"
	"github.com/ajitpratap0/batchsync/pkg/credentials"
	"github.com/ajitpratap0/batchsync/pkg/json"
	"github.com/ajitpratap0/batchsync/pkg/metrics"
	"github.com/ajitpratap0/batchsync/pkg/observability"
)

// DateLayout is the wire form of date and timestamp attributes.
const DateLayout = "2006-01-02T15:04:05Z"

// MaxMessageLength bounds diagnostic messages.
const MaxMessageLength = 500

// Outcome is the result of one delivery call.
type Outcome struct {
	Succeeded int
	Failed    int
	Err       string
}

type identifiers struct {
	CustomID string `json:"custom_id"`
}

type profileUpdate struct {
	Identifiers identifiers    `json:"identifiers"`
	Attributes  map[string]any `json:"attributes"`
}

// Client posts batches to the profile update endpoint.
type Client struct {
	http     *clients.HTTPClient
	endpoint string
	logger   *zap.Logger
}

// NewClient creates a delivery client for endpoint.
func NewClient(httpClient *clients.HTTPClient, endpoint string, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		http:     httpClient,
		endpoint: endpoint,
		logger:   logger.With(zap.String("component", "delivery")),
	}
}

// Deliver sends b in one call and classifies the result.
func (c *Client) Deliver(ctx context.Context, b batch.Batch, creds credentials.Record) Outcome {
	if len(b) == 0 {
		return Outcome{}
	}

	ctx, span := observability.StartSpan(ctx, "delivery.deliver",
		attribute.Int("batch.size", len(b)), attribute.String("batch.first_id", b.FirstID()))
	defer span.End()

	timer := metrics.NewTimer("deliver")
	outcome := c.deliver(ctx, b, creds)

	status := metrics.StatusSucceeded
	if outcome.Failed > 0 {
		status = metrics.StatusFailed
		span.SetStatus(codes.Error, outcome.Err)
	}
	metrics.Batches.WithLabelValues(status).Inc()
	metrics.DeliveryLatency.WithLabelValues(status).Observe(timer.Stop().Seconds())
	return outcome
}

func (c *Client) deliver(ctx context.Context, b batch.Batch, creds credentials.Record) Outcome {
	payload, err := json.MarshalToBuffer(profileUpdates(b))
	if err != nil {
		return c.exception(b, err)
	}
	defer json.PutBuffer(payload)

	headers := map[string]string{
		"Content-Type":    "application/json",
		"Authorization":   "Bearer " + creds.RESTAPIKey,
		"X-Batch-Project": creds.ProjectKey,
	}

	c.logger.Debug("sending batch", zap.Int("records", len(b)), zap.String("first_custom_id", b.FirstID()))
	resp, err := c.http.Post(ctx, c.endpoint, bytes.NewReader(payload.Bytes()), headers)
	if err != nil {
		return c.exception(b, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusAccepted {
		_, _ = io.Copy(io.Discard, resp.Body)
		c.logger.Debug("batch accepted", zap.Int("records", len(b)))
		return Outcome{Succeeded: len(b)}
	}

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4*MaxMessageLength))
	msg := fmt.Sprintf("Failed for batch starting with custom_id %s: %s", b.FirstID(), Truncate(string(body), MaxMessageLength))
	c.logger.Error("batch rejected", zap.Int("status", resp.StatusCode), zap.String("error", msg))
	return Outcome{Failed: len(b), Err: msg}
}

func (c *Client) exception(b batch.Batch, err error) Outcome {
	msg := Truncate(fmt.Sprintf("Exception for batch starting with custom_id %s: %v", b.FirstID(), err), MaxMessageLength)
	c.logger.Error("batch delivery failed", zap.String("error", msg))
	return Outcome{Failed: len(b), Err: msg}
}

// Encode renders b as the JSON array accepted by the profile API.
func Encode(b batch.Batch) ([]byte, error) {
	buf, err := json.MarshalToBuffer(profileUpdates(b))
	if err != nil {
		return nil, err
	}
	defer json.PutBuffer(buf)
	return bytes.Clone(buf.Bytes()), nil
}

func profileUpdates(b batch.Batch) []profileUpdate {
	updates := make([]profileUpdate, len(b))
	for i, r := range b {
		attrs := make(map[string]any, len(r.Attributes))
		for k, v := range r.Attributes {
			attrs[k] = wireValue(v)
		}
		updates[i] = profileUpdate{
			Identifiers: identifiers{CustomID: r.CustomID},
			Attributes:  attrs,
		}
	}
	return updates
}

func wireValue(v any) any {
	switch tv := v.(type) {
	case time.Time:
		return formatDate(tv)
	case *time.Time:
		if tv == nil {
			return nil
		}
		return formatDate(*tv)
	default:
		return v
	}
}

// formatDate renders t in UTC. A value at midnight in its own location is a
// calendar date and keeps that date instead of shifting to the previous day.
func formatDate(t time.Time) string {
	if h, m, s := t.Clock(); h == 0 && m == 0 && s == 0 && t.Nanosecond() == 0 {
		return t.Format(DateLayout)
	}
	return t.UTC().Format(DateLayout)
}

// Truncate shortens s to at most n runes.
func Truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	runes := []rune(s)
	return string(runes[:n])
}
