package alerting

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWebhookSink_PostsAlertJSON(t *testing.T) {
	var received Alert
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&received))
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	sink := NewWebhookSink(server.URL)
	alert := Alert{
		ID:       "a-1",
		Kind:     KindFrequentOpening,
		Severity: SeverityHigh,
		Resource: "patients",
		Message:  "breaker flapping",
	}

	require.NoError(t, sink.Deliver(context.Background(), alert))
	assert.Equal(t, "a-1", received.ID)
	assert.Equal(t, KindFrequentOpening, received.Kind)
	assert.Equal(t, "patients", received.Resource)
}

func TestWebhookSink_NonSuccessStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	sink := NewWebhookSink(server.URL)
	err := sink.Deliver(context.Background(), Alert{Kind: KindSlowExecution})

	require.Error(t, err)
	assert.Contains(t, err.Error(), "502")
}

func TestWebhookSink_RespectsContext(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
	}))
	defer server.Close()

	sink := NewWebhookSink(server.URL)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	assert.Error(t, sink.Deliver(ctx, Alert{Kind: KindSlowExecution}))
}

func TestLogSink_DeliverNeverFails(t *testing.T) {
	sink := NewLogSink(nil)

	for _, severity := range []Severity{SeverityInfo, SeverityWarning, SeverityHigh, SeverityCritical} {
		alert := Alert{
			ID:       "a-1",
			Kind:     KindLowReliability,
			Severity: severity,
			Resource: "patients",
			Message:  "reliability dropped",
			Data:     map[string]interface{}{"success_rate": 70.0},
		}
		assert.NoError(t, sink.Deliver(context.Background(), alert))
	}
	assert.Equal(t, "log", sink.Name())
}
