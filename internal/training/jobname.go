package training

import (
	"strings"
	"time"
)

// Name limits of the training service. Tuning job names are much shorter.
const (
	MaxJobNameLength       = 63
	MaxTuningJobNameLength = 32
)

const jobNameLayout = "2006-01-02-15-04-05.000"

// JobName derives a unique job name from prefix and a millisecond timestamp,
// e.g. cvr-2024-05-01-13-04-59-123. The prefix is shortened so the result
// fits MaxJobNameLength.
func JobName(prefix string, now time.Time) string {
	return jobName(prefix, now, MaxJobNameLength)
}

// TuningJobName is JobName limited to MaxTuningJobNameLength.
func TuningJobName(prefix string, now time.Time) string {
	return jobName(prefix, now, MaxTuningJobNameLength)
}

func jobName(prefix string, now time.Time, limit int) string {
	stamp := strings.Replace(now.UTC().Format(jobNameLayout), ".", "-", 1)
	prefix = sanitize(prefix)
	room := limit - len(stamp) - 1
	if room <= 0 {
		return stamp
	}
	if len(prefix) > room {
		prefix = strings.TrimRight(prefix[:room], "-")
	}
	if prefix == "" {
		return stamp
	}
	return prefix + "-" + stamp
}

// sanitize keeps the characters allowed in job names: alphanumerics and hyphens.
func sanitize(s string) string {
	var b strings.Builder
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == '-' || r == '_' || r == '.' || r == ' ':
			b.WriteByte('-')
		}
	}
	return strings.Trim(b.String(), "-")
}
