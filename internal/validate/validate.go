package validate

import (
	"fmt"
	"math"
)

const (
	MaxIDLength      = 128
	OTPCodeLength    = 6
	MaxLessonSeconds = 24 * 60 * 60
	MinPlaybackSpeed = 0.25
	MaxPlaybackSpeed = 4.0
)

func checkID(value, field string) string {
	if value == "" {
		return fmt.Sprintf("%s is required", field)
	}
	if len(value) > MaxIDLength {
		return fmt.Sprintf("%s must be %d characters or fewer", field, MaxIDLength)
	}
	return ""
}

func LessonID(s string) string { return checkID(s, "lessonId") }
func DeviceID(s string) string { return checkID(s, "deviceId") }

// OptionalID accepts empty values.
func OptionalID(s, field string) string {
	if s == "" {
		return ""
	}
	return checkID(s, field)
}

func OTPCode(s string) string {
	if len(s) != OTPCodeLength {
		return fmt.Sprintf("code must be %d digits", OTPCodeLength)
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return fmt.Sprintf("code must be %d digits", OTPCodeLength)
		}
	}
	return ""
}

// Seconds checks a media position or length reported by a player.
func Seconds(v float64, field string) string {
	if math.IsNaN(v) || math.IsInf(v, 0) || v < 0 {
		return fmt.Sprintf("%s must be a finite non-negative number", field)
	}
	if v > MaxLessonSeconds {
		return fmt.Sprintf("%s must be at most %d", field, MaxLessonSeconds)
	}
	return ""
}

// Duration is Seconds that must also be positive.
func Duration(v float64, field string) string {
	if msg := Seconds(v, field); msg != "" {
		return msg
	}
	if v == 0 {
		return fmt.Sprintf("%s must be positive", field)
	}
	return ""
}

func PlaybackSpeed(v float64) string {
	if math.IsNaN(v) || v < MinPlaybackSpeed || v > MaxPlaybackSpeed {
		return fmt.Sprintf("preferredSpeed must be between %g and %g", MinPlaybackSpeed, MaxPlaybackSpeed)
	}
	return ""
}

// FieldLimits returns a map of field names to limits for clients.
func FieldLimits() map[string]float64 {
	return map[string]float64{
		"id":               MaxIDLength,
		"otpCode":          OTPCodeLength,
		"lessonSeconds":    MaxLessonSeconds,
		"minPlaybackSpeed": MinPlaybackSpeed,
		"maxPlaybackSpeed": MaxPlaybackSpeed,
	}
}
