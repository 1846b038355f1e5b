package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestRequestIDGenerated(t *testing.T) {
	var seen string
	handler := RequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = GetRequestID(r.Context())
	}))

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/v1/state", nil))

	if seen == "" {
		t.Error("no request id in handler context")
	}
	if got := rr.Header().Get(RequestIDHeader); got != seen {
		t.Errorf("response %s = %q, want the context id %q", RequestIDHeader, got, seen)
	}
}

func TestRequestIDHonorsClientHeader(t *testing.T) {
	const clientID = "client-supplied-7f3a"
	var seen string
	handler := RequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = GetRequestID(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/v1/state", nil)
	req.Header.Set(RequestIDHeader, clientID)
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	if seen != clientID {
		t.Errorf("context id = %q, want %q", seen, clientID)
	}
	if got := rr.Header().Get(RequestIDHeader); got != clientID {
		t.Errorf("response %s = %q, want %q", RequestIDHeader, got, clientID)
	}
}

func TestGetRequestIDAbsent(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/v1/state", nil)
	if got := GetRequestID(req.Context()); got != "" {
		t.Errorf("GetRequestID on bare context = %q, want empty", got)
	}
}
