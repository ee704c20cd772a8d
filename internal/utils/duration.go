package utils

import (
	"errors"
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"
)

var (
	durationRegex = regexp.MustCompile(`^(?:(\d+)w)?(?:(\d+)d)?(?:(\d+)h)?(?:(\d+)m)?(?:(\d+)s)?$`)
	unitSizes     = []time.Duration{7 * 24 * time.Hour, 24 * time.Hour, time.Hour, time.Minute, time.Second}

	ErrInvalidDuration = errors.New("invalid duration")
	// ErrDurationTooLong wraps ErrInvalidDuration for values past time.Duration's range.
	ErrDurationTooLong = fmt.Errorf("%w: too long", ErrInvalidDuration)
)

// LooksLikeDuration reports whether token has the shape of a duration
// argument rather than the start of a reason. A token with that shape can
// still fail ParseDuration.
func LooksLikeDuration(token string) bool {
	token = strings.ToLower(strings.TrimSpace(token))
	switch token {
	case "":
		return false
	case "0", "perm", "permanent":
		return true
	}
	return durationRegex.MatchString(token)
}

// ParseDuration reads compact durations such as 30m, 12h, 7d or 1w2d.
// "0", "perm" and "permanent" mean indefinite and return zero.
func ParseDuration(value string) (time.Duration, error) {
	value = strings.ToLower(strings.TrimSpace(value))
	switch value {
	case "":
		return 0, ErrInvalidDuration
	case "0", "perm", "permanent":
		return 0, nil
	}

	match := durationRegex.FindStringSubmatch(value)
	if match == nil {
		return 0, fmt.Errorf("%w: %q", ErrInvalidDuration, value)
	}
	var total time.Duration
	for i, part := range match[1:] {
		if part == "" {
			continue
		}
		n, err := strconv.ParseInt(part, 10, 64)
		if err != nil {
			return 0, fmt.Errorf("%w: %q", ErrDurationTooLong, value)
		}
		unit := unitSizes[i]
		if n > math.MaxInt64/int64(unit) {
			return 0, fmt.Errorf("%w: %q", ErrDurationTooLong, value)
		}
		step := time.Duration(n) * unit
		if total > math.MaxInt64-step {
			return 0, fmt.Errorf("%w: %q", ErrDurationTooLong, value)
		}
		total += step
	}
	if total <= 0 {
		return 0, fmt.Errorf("%w: %q", ErrInvalidDuration, value)
	}
	return total, nil
}

func FormatDuration(d time.Duration) string {
	if d <= 0 {
		return "permanent"
	}
	d = d.Round(time.Second)
	labels := []string{"w", "d", "h", "m", "s"}
	var parts []string
	for i, size := range unitSizes {
		if n := d / size; n > 0 {
			parts = append(parts, fmt.Sprintf("%d%s", n, labels[i]))
			d -= n * size
		}
	}
	return strings.Join(parts, " ")
}
