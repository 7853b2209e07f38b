package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"
	"unicode"
)

// unitDurations единицы в стиле pandas ("60min", "2h", "30T", "1D")
var unitDurations = map[string]time.Duration{
	"ms":      time.Millisecond,
	"s":       time.Second,
	"sec":     time.Second,
	"min":     time.Minute,
	"t":       time.Minute,
	"m":       time.Minute,
	"h":       time.Hour,
	"hr":      time.Hour,
	"d":       24 * time.Hour,
	"day":     24 * time.Hour,
	"days":    24 * time.Hour,
	"minutes": time.Minute,
	"hours":   time.Hour,
}

// ParseDuration разбирает длительность в стиле pandas или Go
func ParseDuration(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("empty duration")
	}
	if d, err := time.ParseDuration(s); err == nil {
		if d <= 0 {
			return 0, fmt.Errorf("duration %q must be positive", s)
		}
		return d, nil
	}

	i := strings.IndexFunc(s, func(r rune) bool { return !unicode.IsDigit(r) && r != '.' })
	if i < 0 {
		return 0, fmt.Errorf("duration %q has no unit", s)
	}
	numPart, unitPart := s[:i], strings.ToLower(strings.TrimSpace(s[i:]))
	n := 1.0
	if numPart != "" {
		var err error
		n, err = strconv.ParseFloat(numPart, 64)
		if err != nil {
			return 0, fmt.Errorf("invalid duration %q: %w", s, err)
		}
	}
	unit, ok := unitDurations[unitPart]
	if !ok {
		return 0, fmt.Errorf("invalid duration %q: unknown unit %q", s, unitPart)
	}
	d := time.Duration(n * float64(unit))
	if d <= 0 {
		return 0, fmt.Errorf("duration %q must be positive", s)
	}
	return d, nil
}
