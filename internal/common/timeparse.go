package common

import (
	"fmt"
	"strconv"
	"time"

	"github.com/slamd-project/slamd/internal/models"
)

// timestampLayout is the 14-digit "yyyyMMddHHmmss" form used throughout
// job start/stop times in request payloads and persisted records.
const timestampLayout = "20060102150405"

// ParseTimestamp parses a 14-digit timestamp in the local time zone. An
// empty string means "now", so an omitted startTime starts immediately.
func ParseTimestamp(s string) (time.Time, error) {
	if s == "" {
		return time.Now(), nil
	}
	t, err := time.ParseInLocation(timestampLayout, s, time.Local)
	if err != nil {
		return time.Time{}, models.WrapError(models.ErrorKindInvalidValue,
			fmt.Sprintf("timestamp %q is not in yyyyMMddHHmmss form", s), err)
	}
	return t, nil
}

// FormatTimestamp renders t in the 14-digit form ParseTimestamp accepts.
func FormatTimestamp(t time.Time) string {
	return t.Format(timestampLayout)
}

// ParseDurationSeconds parses a human duration string ("30m", "2h",
// "90s") and returns whole seconds. An empty string means unbounded and
// returns (nil, nil), matching Job.DurationSeconds' *int64 zero value.
//
// Unlike time.ParseDuration, a bare integer string is accepted and
// treated as seconds, since most of the AccessPoints payloads and the
// legacy job templates this core must stay compatible with express
// durations as plain numbers.
func ParseDurationSeconds(s string) (*int64, error) {
	if s == "" {
		return nil, nil
	}
	if secs, err := strconv.ParseInt(s, 10, 64); err == nil {
		return &secs, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return nil, models.WrapError(models.ErrorKindInvalidValue,
			fmt.Sprintf("duration %q is neither a second count nor a Go duration", s), err)
	}
	secs := int64(d / time.Second)
	return &secs, nil
}
