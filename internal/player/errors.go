package player

import "fmt"

// Native media error codes.
const (
	MediaErrAborted         = 1
	MediaErrNetwork         = 2
	MediaErrDecode          = 3
	MediaErrSrcNotSupported = 4
)

func MediaErrorMessage(code int) string {
	switch code {
	case MediaErrAborted:
		return "Video playback was aborted."
	case MediaErrNetwork:
		return "A network error stopped the video from loading."
	case MediaErrDecode:
		return "The video could not be decoded."
	case MediaErrSrcNotSupported:
		return "This video format is not supported on this device."
	}
	return "An unknown playback error occurred."
}

// MediaError is a native media failure. It is never retried automatically.
type MediaError struct {
	Code int
}

func (e *MediaError) Error() string {
	return fmt.Sprintf("media error %d: %s", e.Code, MediaErrorMessage(e.Code))
}
