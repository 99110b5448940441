package auth

import (
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const testSecret = "test-jwt-secret-key"

func TestGenerateAccessToken_CarriesIdentity(t *testing.T) {
	token, err := GenerateAccessToken(testSecret, User{ID: "user-123", Email: "a@example.com", Phone: "+15550100", Role: RoleStudent})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	claims, err := ValidateToken(testSecret, token)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if claims.TokenType != TokenTypeAccess {
		t.Errorf("expected token type %q, got %q", TokenTypeAccess, claims.TokenType)
	}
	if claims.UserID != "user-123" || claims.Email != "a@example.com" || claims.Phone != "+15550100" {
		t.Errorf("unexpected claims %+v", claims)
	}
	if claims.IsStaff() {
		t.Error("student should not be staff")
	}
}

func TestClaims_IsStaff(t *testing.T) {
	for role, want := range map[string]bool{RoleAdmin: true, RoleInstructor: true, RoleStudent: false, "": false} {
		c := &Claims{Role: role}
		if c.IsStaff() != want {
			t.Errorf("role %q: expected staff=%v", role, want)
		}
	}
}

func TestValidateToken_WrongSecret(t *testing.T) {
	token, _ := GenerateAccessToken(testSecret, User{ID: "user-123"})
	if _, err := ValidateToken("other-secret", token); err == nil {
		t.Fatal("expected error for wrong secret")
	}
}

func TestValidateToken_Expired(t *testing.T) {
	claims := &Claims{
		UserID:    "user-123",
		TokenType: TokenTypeAccess,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Minute)),
		},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(testSecret))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := ValidateToken(testSecret, token); err == nil {
		t.Fatal("expected error for expired token")
	}
}

func TestValidateToken_RejectsNoneAlgorithm(t *testing.T) {
	token, err := jwt.NewWithClaims(jwt.SigningMethodNone, &Claims{UserID: "u"}).SignedString(jwt.UnsafeAllowNoneSignatureType)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := ValidateToken(testSecret, token); err == nil {
		t.Fatal("expected error for unsigned token")
	}
}

func TestVideoSession_ScopedToUserAndLesson(t *testing.T) {
	token, expiresAt, err := GenerateVideoSession(testSecret, "user-1", "lesson-1", time.Hour)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if time.Until(expiresAt) < 59*time.Minute {
		t.Errorf("unexpected expiry %v", expiresAt)
	}

	if err := ValidateVideoSession(testSecret, token, "user-1", "lesson-1"); err != nil {
		t.Errorf("expected valid session, got %v", err)
	}
	if err := ValidateVideoSession(testSecret, token, "user-2", "lesson-1"); !errors.Is(err, ErrSessionMismatch) {
		t.Errorf("expected mismatch for another user, got %v", err)
	}
	if err := ValidateVideoSession(testSecret, token, "user-1", "lesson-2"); !errors.Is(err, ErrSessionMismatch) {
		t.Errorf("expected mismatch for another lesson, got %v", err)
	}
}

func TestVideoSession_GlobalUnlocksEveryLesson(t *testing.T) {
	token, _, _ := GenerateVideoSession(testSecret, "user-1", GlobalLesson, time.Hour)
	if err := ValidateVideoSession(testSecret, token, "user-1", "any-lesson"); err != nil {
		t.Errorf("expected global session to unlock, got %v", err)
	}
}

func TestVideoSession_AccessTokenIsNotASession(t *testing.T) {
	token, _ := GenerateAccessToken(testSecret, User{ID: "user-1"})
	if err := ValidateVideoSession(testSecret, token, "user-1", ""); !errors.Is(err, ErrSessionMismatch) {
		t.Errorf("expected mismatch for an access token, got %v", err)
	}
}
