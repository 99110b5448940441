package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestResolveSignedURL_SendsHeadersAndBody(t *testing.T) {
	var got SignedURLRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/signed-url" || r.Method != http.MethodPost {
			t.Errorf("unexpected %s %s", r.Method, r.URL.Path)
		}
		if auth := r.Header.Get("Authorization"); auth != "Bearer access-123" {
			t.Errorf("expected bearer token, got %q", auth)
		}
		if vs := r.Header.Get(VideoSessionHeader); vs != "vs-token" {
			t.Errorf("expected video session header, got %q", vs)
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Fatalf("decode body: %v", err)
		}
		_, _ = w.Write([]byte(`{"signedUrl":"https://cdn.example.com/v.mp4?sig=abc"}`))
	}))
	defer srv.Close()

	client := New(Config{BaseURL: srv.URL + "/", AccessToken: "access-123"})
	client.SetVideoSession("vs-token")

	resp, err := client.ResolveSignedURL(context.Background(), SignedURLRequest{LessonID: "lesson-1"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.SignedURL != "https://cdn.example.com/v.mp4?sig=abc" {
		t.Errorf("unexpected signed url %q", resp.SignedURL)
	}
	if got.LessonID != "lesson-1" {
		t.Errorf("expected lessonId in body, got %+v", got)
	}
}

func TestGetProgress_NullProgress(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("lessonId") != "abc" {
			t.Errorf("expected lessonId query, got %q", r.URL.RawQuery)
		}
		_, _ = w.Write([]byte(`{"success":true,"progress":null}`))
	}))
	defer srv.Close()

	p, err := New(Config{BaseURL: srv.URL}).GetProgress(context.Background(), "abc")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p != nil {
		t.Errorf("expected nil progress, got %+v", p)
	}
}

func TestDo_NonSuccessReturnsStatusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusConflict)
		_, _ = w.Write([]byte(`{"error":"another device is playing","stop":true}`))
	}))
	defer srv.Close()

	err := New(Config{BaseURL: srv.URL}).Heartbeat(context.Background(), HeartbeatRequest{Event: HeartbeatEventName})

	var se *StatusError
	if !errors.As(err, &se) {
		t.Fatalf("expected StatusError, got %v", err)
	}
	if se.Status != http.StatusConflict || se.Message != "another device is playing" {
		t.Errorf("unexpected status error %+v", se)
	}
	if !IsHardStop(err) {
		t.Error("expected hard stop")
	}
}

func TestErrorClassification(t *testing.T) {
	tests := []struct {
		status    int
		transient bool
		expired   bool
	}{
		{http.StatusUnauthorized, true, false},
		{http.StatusInternalServerError, true, false},
		{http.StatusServiceUnavailable, true, false},
		{http.StatusForbidden, false, true},
		{http.StatusNotFound, false, false},
		{http.StatusBadGateway, false, false},
	}
	for _, tt := range tests {
		err := &StatusError{Status: tt.status}
		if IsTransient(err) != tt.transient {
			t.Errorf("status %d: IsTransient = %v", tt.status, !tt.transient)
		}
		if IsAuthExpired(err) != tt.expired {
			t.Errorf("status %d: IsAuthExpired = %v", tt.status, !tt.expired)
		}
	}
	if IsTransient(errors.New("dial tcp: refused")) {
		t.Error("transport errors carry no status and are not transient")
	}
}

func TestStatusError_FallbackMessage(t *testing.T) {
	err := &StatusError{Status: 502}
	if err.Error() != "request failed with status 502" {
		t.Errorf("unexpected message %q", err.Error())
	}
}

func TestVerifyOTP_SendsAction(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req OTPRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		if req.Action != OTPActionVerify || req.Code != "123456" || req.LessonID != "abc" {
			t.Errorf("unexpected request %+v", req)
		}
		_, _ = w.Write([]byte(`{"verified":true,"videoSessionToken":"tok","expiresAt":1700000000000}`))
	}))
	defer srv.Close()

	resp, err := New(Config{BaseURL: srv.URL}).VerifyOTP(context.Background(), "abc", "123456")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !resp.Verified || resp.VideoSessionToken != "tok" || resp.ExpiresAt != 1700000000000 {
		t.Errorf("unexpected response %+v", resp)
	}
}
