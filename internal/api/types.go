package api

// Wire types shared by the lesson service and the playback client.

const (
	OTPActionRequest = "request"
	OTPActionVerify  = "verify"

	HeartbeatEventName = "VIDEO_HEARTBEAT"

	// VideoSessionHeader carries the token issued by a successful OTP verify.
	VideoSessionHeader = "X-Video-Session"
	DeviceIDHeader     = "X-Device-Id"

	AssetTypeVideo     = "video"
	AssetTypeThumbnail = "thumbnail"
)

type SignedURLRequest struct {
	LessonID string `json:"lessonId,omitempty"`
	AssetID  string `json:"assetId,omitempty"`
	Type     string `json:"type,omitempty"`
}

type SignedURLResponse struct {
	SignedURL string `json:"signedUrl"`
	PublicURL string `json:"publicUrl,omitempty"`
}

type Progress struct {
	Progress       float64 `json:"progress"`
	PreferredSpeed float64 `json:"preferredSpeed"`
	Duration       float64 `json:"duration"`
}

type ProgressResponse struct {
	Success  bool      `json:"success"`
	Progress *Progress `json:"progress"`
}

type ProgressRequest struct {
	LessonID       string  `json:"lessonId"`
	WatchedSeconds float64 `json:"watchedSeconds"`
	TotalSeconds   float64 `json:"totalSeconds"`
	Completed      bool    `json:"completed"`
	PreferredSpeed float64 `json:"preferredSpeed"`
}

type DurationRequest struct {
	LessonID string  `json:"lessonId"`
	Duration float64 `json:"duration"`
}

type Ack struct {
	Success bool `json:"success"`
}

type OTPRequest struct {
	Action   string `json:"action"`
	LessonID string `json:"lessonId"`
	Lang     string `json:"lang,omitempty"`
	Code     string `json:"code,omitempty"`
}

type OTPRequestResponse struct {
	Success   bool   `json:"success,omitempty"`
	ExpiresIn int    `json:"expiresIn,omitempty"`
	Bypass    bool   `json:"bypass,omitempty"`
	Error     string `json:"error,omitempty"`
}

type OTPVerifyResponse struct {
	Verified          bool   `json:"verified"`
	VideoSessionToken string `json:"videoSessionToken,omitempty"`
	// ExpiresAt is unix milliseconds.
	ExpiresAt int64  `json:"expiresAt,omitempty"`
	Error     string `json:"error,omitempty"`
}

type HeartbeatMetadata struct {
	LessonID      string  `json:"lessonId"`
	CourseID      string  `json:"courseId"`
	DeviceID      string  `json:"deviceId"`
	CurrentTime   float64 `json:"currentTime"`
	Duration      float64 `json:"duration"`
	WatchInterval int     `json:"watchInterval"`
}

type HeartbeatRequest struct {
	Event    string            `json:"event"`
	Metadata HeartbeatMetadata `json:"metadata"`
}

type HeartbeatResponse struct {
	Success bool   `json:"success,omitempty"`
	Stop    bool   `json:"stop,omitempty"`
	Error   string `json:"error,omitempty"`
}
