package lesson

import (
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/pashagolub/pgxmock/v4"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/redis/go-redis/v9"

	"github.com/sendrec/lessonstream/internal/api"
	"github.com/sendrec/lessonstream/internal/httputil"
)

const chromeOnWindows = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"

func heartbeatRequest(t *testing.T, deviceID string, position float64) *http.Request {
	t.Helper()
	req := newRequest(t, http.MethodPost, "/api/heartbeat", student, api.HeartbeatRequest{
		Event: api.HeartbeatEventName,
		Metadata: api.HeartbeatMetadata{
			LessonID:      "lesson-1",
			CourseID:      "course-1",
			CurrentTime:   position,
			Duration:      600,
			WatchInterval: 30,
		},
	})
	req.Header.Set(api.DeviceIDHeader, deviceID)
	req.Header.Set("X-Forwarded-For", "203.0.113.7, 10.0.0.1")
	req.Header.Set("User-Agent", chromeOnWindows)
	return req
}

func expectHeartbeatInsert(env *testEnv, deviceID string, position float64) {
	env.mock.ExpectExec(`INSERT INTO heartbeats`).
		WithArgs("user-1", "lesson-1", "course-1", deviceID, position, float64(600), "EG", "Cairo", pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
}

func TestHeartbeat_RecordsWithLocation(t *testing.T) {
	env := newTestEnv(t)
	expectHeartbeatInsert(env, "device-a", 42.5)

	rec := serve(env.handler.Heartbeat, heartbeatRequest(t, "device-a", 42.5))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if resp := decodeBody[api.HeartbeatResponse](t, rec); !resp.Success || resp.Stop {
		t.Errorf("unexpected response %+v", resp)
	}
	if err := env.mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
	if got := testutil.ToFloat64(env.metrics.Heartbeats); got != 1 {
		t.Errorf("expected one heartbeat counted, got %v", got)
	}
}

func TestHeartbeat_SameDeviceRenewsLease(t *testing.T) {
	env := newTestEnv(t)
	expectHeartbeatInsert(env, "device-a", 10)
	expectHeartbeatInsert(env, "device-a", 40)

	if rec := serve(env.handler.Heartbeat, heartbeatRequest(t, "device-a", 10)); rec.Code != http.StatusOK {
		t.Fatalf("first heartbeat: expected 200, got %d", rec.Code)
	}
	env.redis.FastForward(20 * time.Second)
	if rec := serve(env.handler.Heartbeat, heartbeatRequest(t, "device-a", 40)); rec.Code != http.StatusOK {
		t.Fatalf("second heartbeat: expected 200, got %d", rec.Code)
	}
	if ttl := env.redis.TTL(leaseKey("user-1")); ttl != 30*time.Second {
		t.Errorf("expected the lease renewed to 30s, got %v", ttl)
	}
}

func TestHeartbeat_SecondDeviceStopped(t *testing.T) {
	env := newTestEnv(t)
	expectHeartbeatInsert(env, "device-a", 10)
	serve(env.handler.Heartbeat, heartbeatRequest(t, "device-a", 10))

	rec := serve(env.handler.Heartbeat, heartbeatRequest(t, "device-b", 5))
	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", rec.Code)
	}
	body := decodeBody[httputil.ErrorBody](t, rec)
	if !body.Stop || body.Error != "This lesson is playing on another device." {
		t.Errorf("unexpected stop body %+v", body)
	}
	if got := testutil.ToFloat64(env.metrics.DeviceConflicts); got != 1 {
		t.Errorf("expected one conflict counted, got %v", got)
	}
	if err := env.mock.ExpectationsWereMet(); err != nil {
		t.Errorf("the rejected heartbeat must not be stored: %v", err)
	}
}

func TestHeartbeat_LeaseLapsesWhenFirstDeviceGoesQuiet(t *testing.T) {
	env := newTestEnv(t)
	expectHeartbeatInsert(env, "device-a", 10)
	expectHeartbeatInsert(env, "device-b", 5)
	serve(env.handler.Heartbeat, heartbeatRequest(t, "device-a", 10))

	env.redis.FastForward(31 * time.Second)
	if rec := serve(env.handler.Heartbeat, heartbeatRequest(t, "device-b", 5)); rec.Code != http.StatusOK {
		t.Fatalf("expected the second device to take over, got %d", rec.Code)
	}
	if owner, _ := env.redis.Get(leaseKey("user-1")); owner != "device-b" {
		t.Errorf("expected device-b to own the lease, got %q", owner)
	}
}

func TestHeartbeat_LeaseStoreDownFailsOpen(t *testing.T) {
	env := newTestEnv(t)
	down := redis.NewClient(&redis.Options{Addr: "127.0.0.1:1", MaxRetries: -1})
	t.Cleanup(func() { _ = down.Close() })
	env.handler.leases = NewLeases(down, 30*time.Second)
	expectHeartbeatInsert(env, "device-a", 10)

	if rec := serve(env.handler.Heartbeat, heartbeatRequest(t, "device-a", 10)); rec.Code != http.StatusOK {
		t.Fatalf("expected 200 with the lease store down, got %d", rec.Code)
	}
}

func TestHeartbeat_DeviceIDFromMetadata(t *testing.T) {
	env := newTestEnv(t)
	req := newRequest(t, http.MethodPost, "/api/heartbeat", student, api.HeartbeatRequest{
		Event:    api.HeartbeatEventName,
		Metadata: api.HeartbeatMetadata{LessonID: "lesson-1", DeviceID: "device-m", CurrentTime: 1, Duration: 2},
	})
	env.mock.ExpectExec(`INSERT INTO heartbeats`).
		WithArgs("user-1", "lesson-1", "", "device-m", float64(1), float64(2), "", "", "").
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	if rec := serve(env.handler.Heartbeat, req); rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if err := env.mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestHeartbeat_DBError(t *testing.T) {
	env := newTestEnv(t)
	env.mock.ExpectExec(`INSERT INTO heartbeats`).WillReturnError(errDB)

	rec := serve(env.handler.Heartbeat, heartbeatRequest(t, "device-a", 10))
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", rec.Code)
	}
}

func TestHeartbeat_Validation(t *testing.T) {
	tests := []struct {
		name string
		req  api.HeartbeatRequest
		want string
	}{
		{
			name: "wrong event",
			req:  api.HeartbeatRequest{Event: "PING", Metadata: api.HeartbeatMetadata{LessonID: "l", DeviceID: "d"}},
			want: "unsupported event",
		},
		{
			name: "missing device",
			req:  api.HeartbeatRequest{Event: api.HeartbeatEventName, Metadata: api.HeartbeatMetadata{LessonID: "l"}},
			want: "deviceId is required",
		},
		{
			name: "negative position",
			req:  api.HeartbeatRequest{Event: api.HeartbeatEventName, Metadata: api.HeartbeatMetadata{LessonID: "l", DeviceID: "d", CurrentTime: -1}},
			want: "currentTime must be a finite non-negative number",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t)
			rec := serve(env.handler.Heartbeat, newRequest(t, http.MethodPost, "/api/heartbeat", student, tt.req))
			if rec.Code != http.StatusBadRequest {
				t.Fatalf("expected 400, got %d", rec.Code)
			}
			if msg := decodeErrorResponse(t, rec); msg != tt.want {
				t.Errorf("expected %q, got %q", tt.want, msg)
			}
		})
	}
}

func TestDeviceLabel(t *testing.T) {
	tests := []struct {
		name string
		ua   string
		want string
	}{
		{"empty", "", ""},
		{"desktop", chromeOnWindows, "Chrome on Windows"},
		{"mobile", "Mozilla/5.0 (Linux; Android 13; Pixel 7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Mobile Safari/537.36", "(mobile)"},
		{"bot", "Mozilla/5.0 (compatible; Googlebot/2.1; +http://www.google.com/bot.html)", "bot"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := deviceLabel(tt.ua)
			if tt.want == "" {
				if got != "" {
					t.Errorf("expected empty label, got %q", got)
				}
				return
			}
			if !strings.Contains(got, tt.want) {
				t.Errorf("deviceLabel() = %q, want it to contain %q", got, tt.want)
			}
		})
	}
}
