package ratelimit

// #region imports
import (
	"regexp"
	"strings"
	"time"
)

// #endregion

// #region info

// Info is the classification of a backend error message.
type Info struct {
	RateLimited bool
	RetryAt     *time.Time // nil when unknown or not rate limited
	Message     string
}

// #endregion

// #region keywords

var limitPhrases = []string{
	"usage limit", "quota exceeded", "rate limit", "credits",
	"upgrade to pro", "usage limit reached", "quota",
	"billing", "subscription", "plan upgrade",
}

var retryPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)try again at (.+?)(?:\.|$)`),
	regexp.MustCompile(`(?i)retry after (.+?)(?:\.|$)`),
	regexp.MustCompile(`(?i)available at (.+?)(?:\.|$)`),
	regexp.MustCompile(`(?i)reset at (.+?)(?:\.|$)`),
}

var ordinalSuffix = regexp.MustCompile(`(?i)\b(\d{1,2})(st|nd|rd|th)\b`)

var timeLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04:05Z",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
	"Jan 2, 2006 3:04 PM",
	"Jan 2, 2006 3:04PM",
	"Jan 2 2006 3:04 PM",
	"January 2, 2006 3:04 PM",
	"Jan 2, 2006 15:04",
	"Jan 2, 2006",
	"January 2, 2006",
	"2006-01-02",
}

// #endregion

// #region classify

// Classify reports whether text describes a usage or rate limit and, when it
// does, the advertised retry time. Pure function: no clock, no I/O.
func Classify(text string) Info {
	info := Info{Message: text}
	if !IsRateLimited(text) {
		return info
	}
	info.RateLimited = true
	info.RetryAt = ExtractRetryTime(text)
	return info
}

// IsRateLimited matches text against the known limit phrases, case-insensitively.
func IsRateLimited(text string) bool {
	if text == "" {
		return false
	}
	lower := strings.ToLower(text)
	for _, p := range limitPhrases {
		if strings.Contains(lower, p) {
			return true
		}
	}
	return false
}

// #endregion

// #region retry-time

// ExtractRetryTime returns the first parseable retry timestamp in text.
// Unknown formats yield nil.
func ExtractRetryTime(text string) *time.Time {
	if text == "" {
		return nil
	}
	for _, re := range retryPatterns {
		m := re.FindStringSubmatch(text)
		if m == nil {
			continue
		}
		if t, ok := parseTime(m[1]); ok {
			return &t
		}
	}
	return nil
}

func parseTime(raw string) (time.Time, bool) {
	s := strings.TrimSpace(raw)
	s = strings.TrimSuffix(s, ",")
	s = ordinalSuffix.ReplaceAllString(s, "$1")
	for _, layout := range timeLayouts {
		if t, err := time.ParseInLocation(layout, s, time.UTC); err == nil {
			return t.UTC(), true
		}
	}
	// ISO prefix followed by trailing words ("2025-12-05T16:05:00Z UTC")
	if len(s) >= 19 {
		for _, layout := range []string{"2006-01-02T15:04:05", "2006-01-02 15:04:05"} {
			if t, err := time.ParseInLocation(layout, s[:19], time.UTC); err == nil {
				return t.UTC(), true
			}
		}
	}
	return time.Time{}, false
}

// #endregion
