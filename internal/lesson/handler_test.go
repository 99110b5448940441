package lesson

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/redis/go-redis/v9"
	"golang.org/x/crypto/bcrypt"

	"github.com/sendrec/lessonstream/internal/auth"
	"github.com/sendrec/lessonstream/internal/geoip"
	"github.com/sendrec/lessonstream/internal/metrics"
	"github.com/sendrec/lessonstream/internal/otpstore"
)

const testSessionSecret = "test-video-session-secret"

type fakePresigner struct {
	keys []string
	err  error
}

func (f *fakePresigner) GenerateDownloadURL(ctx context.Context, key string, expiry time.Duration) (string, error) {
	f.keys = append(f.keys, key)
	if f.err != nil {
		return "", f.err
	}
	return "https://media.example.com/" + key + "?X-Amz-Signature=abc", nil
}

func (f *fakePresigner) PublicURL(key string) string {
	return "https://media.example.com/" + key
}

type sentCode struct {
	to, code, lang string
	ttl            time.Duration
}

type fakeSender struct {
	sent []sentCode
	err  error
}

func (f *fakeSender) SendOTP(ctx context.Context, to, code, lang string, ttl time.Duration) error {
	if f.err != nil {
		return f.err
	}
	f.sent = append(f.sent, sentCode{to, code, lang, ttl})
	return nil
}

type fakeNotifier struct {
	calls []string
}

func (f *fakeNotifier) LessonCompleted(ctx context.Context, userID, lessonID string, watchedSeconds float64) {
	f.calls = append(f.calls, fmt.Sprintf("%s/%s/%g", userID, lessonID, watchedSeconds))
}

type fakeLocator struct{}

func (fakeLocator) Lookup(ip string) geoip.Location {
	if ip == "203.0.113.7" {
		return geoip.Location{Country: "EG", City: "Cairo"}
	}
	return geoip.Location{}
}

type testEnv struct {
	handler   *Handler
	mock      pgxmock.PgxPoolIface
	redis     *miniredis.Miniredis
	storage   *fakePresigner
	sender    *fakeSender
	completed *fakeNotifier
	metrics   *metrics.Metrics
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("create pgxmock pool: %v", err)
	}
	t.Cleanup(mock.Close)

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	env := &testEnv{
		mock:      mock,
		redis:     mr,
		storage:   &fakePresigner{},
		sender:    &fakeSender{},
		completed: &fakeNotifier{},
		metrics:   metrics.New(),
	}
	env.handler = NewHandler(mock, Deps{
		Storage:   env.storage,
		Codes:     otpstore.New(rdb, otpstore.Config{Cost: bcrypt.MinCost}),
		Sender:    env.sender,
		Geo:       fakeLocator{},
		Leases:    NewLeases(rdb, 30*time.Second),
		Completed: env.completed,
		Metrics:   env.metrics,
	}, Config{
		VideoSessionSecret: testSessionSecret,
		VideoSessionTTL:    time.Hour,
		SignedURLTTL:       10 * time.Minute,
	})
	return env
}

var (
	student    = &auth.Claims{UserID: "user-1", Email: "student@example.com", Phone: "+15550100", Role: auth.RoleStudent}
	instructor = &auth.Claims{UserID: "staff-1", Email: "instructor@example.com", Role: auth.RoleInstructor}
)

func newRequest(t *testing.T, method, target string, claims *auth.Claims, body any) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatal(err)
		}
	}
	req := httptest.NewRequest(method, target, &buf)
	if claims != nil {
		req = req.WithContext(auth.ContextWithClaims(req.Context(), claims))
	}
	return req
}

func serve(h http.HandlerFunc, req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	h(rec, req)
	return rec
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.NewDecoder(rec.Body).Decode(&v); err != nil {
		t.Fatalf("decode response %q: %v", rec.Body.String(), err)
	}
	return v
}

func decodeErrorResponse(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	return decodeBody[struct {
		Error string `json:"error"`
	}](t, rec).Error
}

var errDB = errors.New("connection reset")
