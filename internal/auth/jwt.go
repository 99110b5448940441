package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const (
	AccessTokenDuration = 15 * time.Minute

	TokenTypeAccess       = "access"
	TokenTypeVideoSession = "video_session"

	RoleStudent    = "student"
	RoleInstructor = "instructor"
	RoleAdmin      = "admin"

	// GlobalLesson in a video session token unlocks every lesson.
	GlobalLesson = "*"
)

var (
	ErrInvalidToken    = errors.New("invalid token")
	ErrSessionMismatch = errors.New("video session does not match")
)

// Claims identify the viewer. Access tokens are issued by the platform that
// shares JWT_SECRET with this service.
type Claims struct {
	UserID    string `json:"userId"`
	Email     string `json:"email,omitempty"`
	Phone     string `json:"phone,omitempty"`
	Role      string `json:"role,omitempty"`
	TokenType string `json:"type"`
	jwt.RegisteredClaims
}

// IsStaff reports roles that skip the code challenge.
func (c *Claims) IsStaff() bool {
	return c.Role == RoleInstructor || c.Role == RoleAdmin
}

type VideoSessionClaims struct {
	UserID    string `json:"userId"`
	LessonID  string `json:"lessonId"`
	TokenType string `json:"type"`
	jwt.RegisteredClaims
}

type User struct {
	ID    string
	Email string
	Phone string
	Role  string
}

func GenerateAccessToken(secret string, u User) (string, error) {
	now := time.Now()
	claims := &Claims{
		UserID:    u.ID,
		Email:     u.Email,
		Phone:     u.Phone,
		Role:      u.Role,
		TokenType: TokenTypeAccess,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(AccessTokenDuration)),
			IssuedAt:  jwt.NewNumericDate(now),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
}

func ValidateToken(secret string, tokenStr string) (*Claims, error) {
	claims := &Claims{}
	if err := parse(secret, tokenStr, claims); err != nil {
		return nil, err
	}
	return claims, nil
}

// GenerateVideoSession issues the token a successful code verify returns.
func GenerateVideoSession(secret, userID, lessonID string, ttl time.Duration) (string, time.Time, error) {
	now := time.Now()
	expiresAt := now.Add(ttl)
	claims := &VideoSessionClaims{
		UserID:    userID,
		LessonID:  lessonID,
		TokenType: TokenTypeVideoSession,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			IssuedAt:  jwt.NewNumericDate(now),
		},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign video session: %w", err)
	}
	return token, expiresAt, nil
}

// ValidateVideoSession checks that tokenStr unlocks lessonID for userID.
func ValidateVideoSession(secret, tokenStr, userID, lessonID string) error {
	claims := &VideoSessionClaims{}
	if err := parse(secret, tokenStr, claims); err != nil {
		return err
	}
	if claims.TokenType != TokenTypeVideoSession || claims.UserID != userID {
		return ErrSessionMismatch
	}
	if claims.LessonID != lessonID && claims.LessonID != GlobalLesson {
		return ErrSessionMismatch
	}
	return nil
}

func parse(secret, tokenStr string, claims jwt.Claims) error {
	token, err := jwt.ParseWithClaims(tokenStr, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return []byte(secret), nil
	})
	if err != nil {
		return fmt.Errorf("parse token: %w", err)
	}
	if !token.Valid {
		return ErrInvalidToken
	}
	return nil
}
