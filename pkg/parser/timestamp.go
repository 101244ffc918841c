package parser

import (
	"strconv"
	"strings"
	"time"
)

// Layouts tried in order after the user-supplied pattern and ISO-8601.
// Mirrors the formats log files actually carry: log4j with dot or comma
// millis, slash dates, Apache clf, syslog month-day.
var timestampLayouts = []string{
	"2006-01-02 15:04:05.000",
	"2006-01-02 15:04:05,000",
	"2006-01-02T15:04:05.000",
	"2006-01-02T15:04:05.000000",
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
	"2006/01/02 15:04:05",
	"02/Jan/2006:15:04:05",
	"Jan 02, 2006 15:04:05",
	"Jan 02 15:04:05",
	"Jan  2 15:04:05",
}

// epochMillisFloor: numeric timestamps above this are millisecond epochs,
// at or below are second epochs.
const epochMillisFloor = int64(1e12)

// ParseTimestamp resolves a textual timestamp using, in order: the
// user-supplied layout, ISO-8601 variants, epoch seconds/millis, then the
// layout ladder. It never fails: unparseable input yields now.
// Offsets are normalized into the local zone, which drops the original
// zone information.
func ParseTimestamp(value, userLayout string) time.Time {
	value = strings.TrimSpace(value)
	if value == "" {
		return time.Now()
	}

	if userLayout != "" {
		if ts, err := time.Parse(userLayout, value); err == nil {
			return ts
		}
	}

	for _, layout := range []string{time.RFC3339Nano, time.RFC3339} {
		if ts, err := time.Parse(layout, value); err == nil {
			return ts.Local()
		}
	}

	if epoch, err := strconv.ParseInt(value, 10, 64); err == nil {
		return FromEpoch(epoch)
	}

	for _, layout := range timestampLayouts {
		if ts, err := time.Parse(layout, value); err == nil {
			if ts.Year() == 0 {
				ts = ts.AddDate(time.Now().Year(), 0, 0)
			}
			return ts
		}
	}

	// Apache clf carries a trailing zone: strip and retry.
	if strings.Contains(value, "/") && strings.Contains(value, ":") {
		cleaned := strings.Fields(value)[0]
		if ts, err := time.Parse("02/Jan/2006:15:04:05", cleaned); err == nil {
			return ts
		}
	}

	return time.Now()
}

// FromEpoch interprets a numeric timestamp: milliseconds when the
// magnitude says so, seconds otherwise.
func FromEpoch(epoch int64) time.Time {
	if epoch > epochMillisFloor {
		return time.UnixMilli(epoch)
	}
	return time.Unix(epoch, 0)
}
