package anomaly

import "medical-photo-sharing/internal/domain/viewing"

// ActivityType
// @Enum SCREENSHOT_ATTEMPT, MULTIPLE_SCREENSHOT_ATTEMPTS, DOWNLOAD_ATTEMPT, PRINT_ATTEMPT, COPY_ATTEMPT, SCREEN_RECORDING_DETECTED, UNUSUAL_DEVICE_BEHAVIOR, RAPID_NAVIGATION, MULTIPLE_DEVICE_ACCESS
type ActivityType string

const (
	ScreenshotAttempt          ActivityType = "SCREENSHOT_ATTEMPT"
	MultipleScreenshotAttempts ActivityType = "MULTIPLE_SCREENSHOT_ATTEMPTS"
	DownloadAttempt            ActivityType = "DOWNLOAD_ATTEMPT"
	PrintAttempt               ActivityType = "PRINT_ATTEMPT"
	CopyAttempt                ActivityType = "COPY_ATTEMPT"
	ScreenRecordingDetected    ActivityType = "SCREEN_RECORDING_DETECTED"
	UnusualDeviceBehavior      ActivityType = "UNUSUAL_DEVICE_BEHAVIOR"
	RapidNavigation            ActivityType = "RAPID_NAVIGATION"
	MultipleDeviceAccess       ActivityType = "MULTIPLE_DEVICE_ACCESS"
)

func (t ActivityType) Valid() bool {
	switch t {
	case ScreenshotAttempt, MultipleScreenshotAttempts, DownloadAttempt, PrintAttempt, CopyAttempt,
		ScreenRecordingDetected, UnusualDeviceBehavior, RapidNavigation, MultipleDeviceAccess:
		return true
	}
	return false
}

// Tabla fija: no es configurable por sesión.
var autoRevoke = map[ActivityType]bool{
	MultipleScreenshotAttempts: true,
	DownloadAttempt:            true,
	ScreenRecordingDetected:    true,
}

// TriggersAutoRevoke indica si el tipo revoca la sesión dueña del evento.
func (t ActivityType) TriggersAutoRevoke() bool {
	return autoRevoke[t]
}

func (t ActivityType) counter() viewing.Counter {
	switch t {
	case ScreenshotAttempt, MultipleScreenshotAttempts:
		return viewing.CounterScreenshot
	case DownloadAttempt:
		return viewing.CounterDownload
	default:
		return viewing.CounterNone
	}
}

type Result struct {
	Recorded            bool
	ActivityType        ActivityType
	AutoRevokeTriggered bool
}
