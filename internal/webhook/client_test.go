package webhook

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSendSignsPayload(t *testing.T) {
	var (
		gotSig  string
		gotTS   string
		gotEvt  string
		gotBody []byte
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotSig = r.Header.Get(HeaderSignature)
		gotTS = r.Header.Get(HeaderTimestamp)
		gotEvt = r.Header.Get(HeaderEvent)
		gotBody, _ = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	client := NewClient(Config{URL: srv.URL, SigningSecret: "test-secret", MaxAttempts: 1})
	err := client.Send(context.Background(), EventRequestLogged, map[string]any{"endpoint": "resize"})
	require.NoError(t, err)

	assert.Equal(t, EventRequestLogged, gotEvt)
	assert.NotEmpty(t, gotTS)
	assert.True(t, Verify("test-secret", gotTS, gotBody, gotSig))
	assert.False(t, Verify("wrong-secret", gotTS, gotBody, gotSig))
}

func TestSendRetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	client := NewClient(Config{
		URL:            srv.URL,
		MaxAttempts:    3,
		InitialBackoff: time.Millisecond,
		MaxBackoff:     2 * time.Millisecond,
	})
	require.NoError(t, client.Send(context.Background(), EventRequestLogged, struct{}{}))
	assert.Equal(t, int32(3), calls.Load())
}

func TestSendDoesNotRetryClientErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusUnprocessableEntity)
	}))
	defer srv.Close()

	client := NewClient(Config{URL: srv.URL, MaxAttempts: 4, InitialBackoff: time.Millisecond})
	err := client.Send(context.Background(), EventRequestLogged, struct{}{})
	require.Error(t, err)
	assert.Equal(t, int32(1), calls.Load())
}

func TestSendWithoutURLIsNoop(t *testing.T) {
	client := NewClient(Config{})
	assert.False(t, client.Enabled())
	require.NoError(t, client.Send(context.Background(), EventRequestLogged, struct{}{}))
}
