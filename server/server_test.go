package server

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Pingpayio/ping-subscription-service/rest"
)

func authedRequest(method, path string, body []byte) *http.Request {
	req := httptest.NewRequest(method, path, bytes.NewReader(body))
	req.SetBasicAuth("test", "password")
	return req
}

func testServer() http.Handler {
	a := NewSharedSecretAuthorizer()
	a.AddUser("test", "password")
	return Get(a)
}

func decodeError(t *testing.T, w *httptest.ResponseRecorder) *rest.Error {
	t.Helper()
	e := new(rest.Error)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), e))
	return e
}

func TestHealthUnauthenticated(t *testing.T) {
	t.Parallel()
	w := httptest.NewRecorder()
	testServer().ServeHTTP(w, httptest.NewRequest("GET", "/health", nil))
	assert.Equal(t, http.StatusOK, w.Code)

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "ok", body["status"])
	assert.NotEmpty(t, body["timestamp"])
}

func TestNoCredentialsReturns401(t *testing.T) {
	t.Parallel()
	w := httptest.NewRecorder()
	testServer().ServeHTTP(w, httptest.NewRequest("GET", "/jobs", nil))
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Contains(t, w.Header().Get("WWW-Authenticate"), "Basic")
	assert.Equal(t, "unauthorized", decodeError(t, w).ID)
}

func TestWrongPasswordReturns403(t *testing.T) {
	t.Parallel()
	req := httptest.NewRequest("GET", "/jobs", nil)
	req.SetBasicAuth("test", "wrong")
	w := httptest.NewRecorder()
	testServer().ServeHTTP(w, req)
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Equal(t, "incorrect_password", decodeError(t, w).ID)
}

func TestUnknownUserReturns403(t *testing.T) {
	t.Parallel()
	req := httptest.NewRequest("GET", "/jobs", nil)
	req.SetBasicAuth("nobody", "password")
	w := httptest.NewRecorder()
	testServer().ServeHTTP(w, req)
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Equal(t, "forbidden", decodeError(t, w).ID)
}

func TestInvalidUUIDReturns400(t *testing.T) {
	t.Parallel()
	w := httptest.NewRecorder()
	testServer().ServeHTTP(w, authedRequest("GET", "/jobs/job_notauuid", nil))
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "invalid_uuid", decodeError(t, w).ID)
}

func TestWrongPrefixReturns400(t *testing.T) {
	t.Parallel()
	w := httptest.NewRecorder()
	testServer().ServeHTTP(w, authedRequest("GET", "/jobs/usr_6740b44e-13b9-475d-af06-979627e0e0d6", nil))
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "invalid_prefix", decodeError(t, w).ID)
}

func TestCreateJobBadJSONReturns400(t *testing.T) {
	t.Parallel()
	w := httptest.NewRecorder()
	testServer().ServeHTTP(w, authedRequest("POST", "/jobs", []byte("{not json")))
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "invalid_request", decodeError(t, w).ID)
}

func TestCreateJobValidationErrorsIncludeFields(t *testing.T) {
	t.Parallel()
	w := httptest.NewRecorder()
	testServer().ServeHTTP(w, authedRequest("POST", "/jobs", []byte(`{"schedule_type":"cron"}`)))
	assert.Equal(t, http.StatusBadRequest, w.Code)
	e := decodeError(t, w)
	assert.Equal(t, "invalid_parameter", e.ID)
	assert.Contains(t, e.Fields, "name")
	assert.Contains(t, e.Fields, "target")
	assert.Contains(t, e.Fields, "cron_expression")
}

func TestListJobsRejectsUnknownStatusFilter(t *testing.T) {
	t.Parallel()
	w := httptest.NewRecorder()
	testServer().ServeHTTP(w, authedRequest("GET", "/jobs?status=paused", nil))
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "invalid_parameter", decodeError(t, w).ID)
}

func TestPatchStatusRejectsUnknownValue(t *testing.T) {
	t.Parallel()
	w := httptest.NewRecorder()
	testServer().ServeHTTP(w, authedRequest("PATCH",
		"/jobs/job_6740b44e-13b9-475d-af06-979627e0e0d6/status", []byte(`{"status":"failed"}`)))
	assert.Equal(t, http.StatusBadRequest, w.Code)
	e := decodeError(t, w)
	assert.Contains(t, e.Fields, "status")
}

func TestResponseHeaders(t *testing.T) {
	t.Parallel()
	w := httptest.NewRecorder()
	testServer().ServeHTTP(w, httptest.NewRequest("GET", "/health", nil))
	assert.Equal(t, "application/json; charset=utf-8", w.Header().Get("Content-Type"))
	assert.Contains(t, w.Header().Get("Server"), "ping-subscription-service/")
}
