// Package format provides shared parsing and formatting utilities.
package format

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// ParseDuration extends time.ParseDuration with support for a whole-number
// "d" (days) suffix. Negative durations are rejected.
func ParseDuration(s string) (time.Duration, error) {
	if days, ok := strings.CutSuffix(s, "d"); ok {
		n, err := strconv.Atoi(days)
		if err != nil || strings.HasPrefix(days, "+") {
			return 0, fmt.Errorf("invalid days format: %q", s)
		}
		if n < 0 {
			return 0, fmt.Errorf("negative duration: %q", s)
		}
		return time.Duration(n) * 24 * time.Hour, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, err
	}
	if d < 0 {
		return 0, fmt.Errorf("negative duration: %q", s)
	}
	return d, nil
}

// Ago formats a duration in short human-readable form ("45s", "3m", "2h 5m", "1d 4h").
func Ago(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	if d < time.Minute {
		return fmt.Sprintf("%ds", int(d.Seconds()))
	}
	if d < time.Hour {
		return fmt.Sprintf("%dm", int(d.Minutes()))
	}
	if d < 24*time.Hour {
		h := int(d.Hours())
		m := int(d.Minutes()) % 60
		return fmt.Sprintf("%dh %dm", h, m)
	}
	days := int(d.Hours()) / 24
	h := int(d.Hours()) % 24
	return fmt.Sprintf("%dd %dh", days, h)
}

// MaskPhone hides all but the last three digits of the subscriber number,
// keeping a leading country code: "+91 9876543210" -> "+91 *****210".
func MaskPhone(phone string) string {
	phone = strings.TrimSpace(phone)
	if phone == "" {
		return ""
	}

	prefix := ""
	rest := phone
	if strings.HasPrefix(phone, "+") {
		if i := strings.IndexByte(phone, ' '); i > 0 {
			prefix, rest = phone[:i+1], phone[i+1:]
		}
	}

	var digits []rune
	for _, r := range rest {
		if r >= '0' && r <= '9' {
			digits = append(digits, r)
		}
	}
	if len(digits) <= 3 {
		return phone
	}
	return prefix + "*****" + string(digits[len(digits)-3:])
}
