package downstream

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Pingpayio/ping-subscription-service/config"
	"github.com/Pingpayio/ping-subscription-service/rest"
)

func TestPostSendsJSONPayload(t *testing.T) {
	t.Parallel()
	var gotBody []byte
	var gotUA, gotCT, gotMethod string
	s := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotMethod = r.Method
		gotUA = r.Header.Get("User-Agent")
		gotCT = r.Header.Get("Content-Type")
		gotBody, _ = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusOK)
	}))
	defer s.Close()

	c := NewClient(5 * time.Second)
	err := c.Post(s.URL, json.RawMessage(`{"amount":"19.99"}`))
	require.NoError(t, err)
	assert.Equal(t, "POST", gotMethod)
	assert.Equal(t, fmt.Sprintf("ping-subscription-service/%s", config.Version), gotUA)
	assert.Equal(t, "application/json; charset=utf-8", gotCT)
	assert.JSONEq(t, `{"amount":"19.99"}`, string(gotBody))
}

func TestPostEmptyPayloadSendsNull(t *testing.T) {
	t.Parallel()
	var gotBody []byte
	s := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotBody, _ = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer s.Close()

	c := NewClient(5 * time.Second)
	require.NoError(t, c.Post(s.URL, nil))
	assert.Equal(t, "null", string(gotBody))
}

func TestPostNon2xxReturnsError(t *testing.T) {
	t.Parallel()
	s := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
		w.Write([]byte("over capacity"))
	}))
	defer s.Close()

	c := NewClient(5 * time.Second)
	err := c.Post(s.URL, json.RawMessage(`{}`))
	require.Error(t, err)
	rerr, ok := err.(*rest.Error)
	require.True(t, ok, "expected *rest.Error, got %T", err)
	assert.Equal(t, http.StatusServiceUnavailable, rerr.StatusCode)
	assert.Contains(t, rerr.Detail, "over capacity")
}

func TestPostErrorBodyIsBounded(t *testing.T) {
	t.Parallel()
	big := make([]byte, 4096)
	for i := range big {
		big[i] = 'x'
	}
	s := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write(big)
	}))
	defer s.Close()

	c := NewClient(5 * time.Second)
	err := c.Post(s.URL, json.RawMessage(`{}`))
	require.Error(t, err)
	rerr := err.(*rest.Error)
	assert.Len(t, rerr.Detail, maxErrorBodySize)
}

func TestPostTimeout(t *testing.T) {
	t.Parallel()
	s := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
	}))
	defer s.Close()

	c := NewClient(20 * time.Millisecond)
	err := c.Post(s.URL, json.RawMessage(`{}`))
	require.Error(t, err)
}
