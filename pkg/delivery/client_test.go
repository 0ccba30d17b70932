package delivery

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	gojson "github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ajitpratap0/batchsync/pkg/batch"
	"github.com/ajitpratap0/batchsync/pkg/clients"
	"github.com/ajitpratap0/batchsync/pkg/credentials"
	"github.com/ajitpratap0/batchsync/pkg/testutil"
)

var creds = credentials.Record{ProjectKey: "proj-1", RESTAPIKey: "rest-key"}

func newClient(t *testing.T, url string) *Client {
	t.Helper()
	return NewClient(clients.NewHTTPClient(nil, testutil.TestLogger(t)), url, testutil.TestLogger(t))
}

func sampleBatch() batch.Batch {
	return batch.Batch{
		{CustomID: "u1", Attributes: map[string]any{"email": "a@x.io", "age": int64(30)}},
		{CustomID: "u2", Attributes: map[string]any{}},
	}
}

func TestClient_DeliverAccepted(t *testing.T) {
	var header http.Header
	var payload []map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header = r.Header.Clone()
		body, _ := io.ReadAll(r.Body)
		_ = gojson.Unmarshal(body, &payload)
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	out := newClient(t, srv.URL).Deliver(context.Background(), sampleBatch(), creds)
	assert.Equal(t, Outcome{Succeeded: 2}, out)

	assert.Equal(t, "Bearer rest-key", header.Get("Authorization"))
	assert.Equal(t, "proj-1", header.Get("X-Batch-Project"))
	assert.Equal(t, "application/json", header.Get("Content-Type"))

	require.Len(t, payload, 2)
	assert.Equal(t, map[string]any{"custom_id": "u1"}, payload[0]["identifiers"])
	assert.Equal(t, map[string]any{"email": "a@x.io", "age": 30.0}, payload[0]["attributes"])
	assert.Equal(t, map[string]any{}, payload[1]["attributes"])
}

func TestClient_DeliverRejectedStatus(t *testing.T) {
	tests := []struct {
		name   string
		status int
	}{
		{name: "server error", status: http.StatusInternalServerError},
		{name: "ok is not accepted", status: http.StatusOK},
		{name: "bad request", status: http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(`{"error":"nope"}`))
			}))
			defer srv.Close()

			out := newClient(t, srv.URL).Deliver(context.Background(), sampleBatch(), creds)
			assert.Equal(t, 0, out.Succeeded)
			assert.Equal(t, 2, out.Failed)
			assert.Equal(t, `Failed for batch starting with custom_id u1: {"error":"nope"}`, out.Err)
		})
	}
}

func TestClient_DeliverTruncatesBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		_, _ = w.Write([]byte(strings.Repeat("x", 5000)))
	}))
	defer srv.Close()

	out := newClient(t, srv.URL).Deliver(context.Background(), sampleBatch(), creds)
	prefix := "Failed for batch starting with custom_id u1: "
	require.True(t, strings.HasPrefix(out.Err, prefix))
	assert.Len(t, strings.TrimPrefix(out.Err, prefix), MaxMessageLength)
}

func TestClient_DeliverTransportError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	url := srv.URL
	srv.Close()

	out := newClient(t, url).Deliver(context.Background(), sampleBatch(), creds)
	assert.Equal(t, 2, out.Failed)
	assert.True(t, strings.HasPrefix(out.Err, "Exception for batch starting with custom_id u1: "), out.Err)
}

func TestClient_DeliverEncodeError(t *testing.T) {
	called := false
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		called = true
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	b := batch.Batch{{CustomID: "u9", Attributes: map[string]any{"bad": make(chan int)}}}
	out := newClient(t, srv.URL).Deliver(context.Background(), b, creds)
	assert.Equal(t, 1, out.Failed)
	assert.True(t, strings.HasPrefix(out.Err, "Exception for batch starting with custom_id u9: "))
	assert.False(t, called)
}

func TestClient_DeliverEmptyBatch(t *testing.T) {
	out := newClient(t, "http://127.0.0.1:1").Deliver(context.Background(), nil, creds)
	assert.Equal(t, Outcome{}, out)
}

func TestEncode_Dates(t *testing.T) {
	paris := time.FixedZone("CET", 3600)
	tokyo := time.FixedZone("JST", 9*3600)
	renewal := time.Date(2025, 3, 1, 0, 0, 0, 0, tokyo)
	b := batch.Batch{{CustomID: "u1", Attributes: map[string]any{
		"date(birthday)":   time.Date(1990, 5, 17, 0, 0, 0, 0, time.UTC),
		"date(last_login)": time.Date(2024, 1, 2, 10, 30, 15, 999, paris),
		"date(signup)":     time.Date(2023, 7, 1, 0, 0, 0, 0, tokyo),
		"date(renewal)":    &renewal,
	}}}

	data, err := Encode(b)
	require.NoError(t, err)

	var decoded []struct {
		Attributes map[string]string `json:"attributes"`
	}
	require.NoError(t, gojson.Unmarshal(data, &decoded))
	assert.Equal(t, "1990-05-17T00:00:00Z", decoded[0].Attributes["date(birthday)"])
	assert.Equal(t, "2024-01-02T09:30:15Z", decoded[0].Attributes["date(last_login)"])
	assert.Equal(t, "2023-07-01T00:00:00Z", decoded[0].Attributes["date(signup)"], "a date scanned in a non-UTC location keeps its calendar day")
	assert.Equal(t, "2025-03-01T00:00:00Z", decoded[0].Attributes["date(renewal)"])

	parsed, err := time.Parse(DateLayout, decoded[0].Attributes["date(birthday)"])
	require.NoError(t, err)
	assert.Equal(t, "1990-05-17", parsed.Format("2006-01-02"))
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "abc", Truncate("abc", 5))
	assert.Equal(t, "ab", Truncate("abc", 2))
	assert.Equal(t, "éé", Truncate("ééé", 2))
}
