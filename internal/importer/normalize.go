package importer

import (
	"regexp"
	"strconv"
	"strings"
	"time"
)

func normalizeEmail(value string) string {
	return strings.ToLower(strings.TrimSpace(value))
}

// normalizePhone reduces a partner-supplied phone to national format: digits
// only, with a leading 44 country code rewritten to 0. Returns ok=false when
// the remainder cannot be a UK number.
func normalizePhone(value string) (string, bool) {
	raw := strings.TrimSpace(value)
	if raw == "" {
		return "", true
	}

	digits := make([]byte, 0, len(raw))
	for i := 0; i < len(raw); i++ {
		if raw[i] >= '0' && raw[i] <= '9' {
			digits = append(digits, raw[i])
		}
	}
	number := string(digits)

	// International dialing prefix, as in 0044 7700 900123.
	if strings.HasPrefix(number, "0044") {
		number = number[2:]
	}
	if strings.HasPrefix(number, "44") && len(number) >= 11 {
		number = "0" + number[2:]
	}
	if len(number) == 10 && number[0] == '7' {
		number = "0" + number
	}

	if len(number) < 10 || len(number) > 11 || number[0] != '0' {
		return "", false
	}
	return number, true
}

var dateFormats = []string{"02/01/2006", "2006-01-02", "02/01/06"}

// parseInstallDate accepts DD/MM/YYYY, YYYY-MM-DD or DD/MM/YY. The result is
// anchored to 12:00 UTC so the calendar day survives timezone conversion.
// Placeholder and unparseable values become nil without comment.
func parseInstallDate(value string) *time.Time {
	raw := strings.TrimSpace(value)
	if raw == "" || strings.EqualFold(raw, "tbc") {
		return nil
	}
	for _, format := range dateFormats {
		parsed, err := time.Parse(format, raw)
		if err != nil {
			continue
		}
		anchored := time.Date(parsed.Year(), parsed.Month(), parsed.Day(), 12, 0, 0, 0, time.UTC)
		return &anchored
	}
	return nil
}

// parseAmountPennies strips currency symbols and separators before parsing.
// ok=false means the value was present but unusable.
func parseAmountPennies(value string) (*int64, bool) {
	raw := strings.TrimSpace(value)
	if raw == "" {
		return nil, true
	}

	cleaned := make([]byte, 0, len(raw))
	for i := 0; i < len(raw); i++ {
		c := raw[i]
		if (c >= '0' && c <= '9') || c == '.' || (c == '-' && len(cleaned) == 0) {
			cleaned = append(cleaned, c)
		}
	}
	if len(cleaned) == 0 {
		return nil, false
	}

	parsed, err := strconv.ParseFloat(string(cleaned), 64)
	if err != nil {
		return nil, false
	}
	if parsed < 0 {
		parsed = 0
	}
	pennies := int64(parsed*100 + 0.5)
	return &pennies, true
}

const (
	minDurationHours = 0
	maxDurationHours = 12
)

var (
	clockDurationRe    = regexp.MustCompile(`^(\d{1,2}):([0-5]\d)$`)
	freeformDurationRe = regexp.MustCompile(`(?i)^(?:(\d+(?:\.\d+)?)\s*h(?:rs?|ours?)?)?\s*(?:(\d+)\s*m(?:ins?|inutes?)?)?$`)
)

// parseDurationHours tries a plain decimal, then an H:MM clock string, then a
// free-text "Xh Ym" form, in that order. Values outside the 0-12 hour sanity
// range are rejected like any other unparseable input.
func parseDurationHours(value string) (float64, bool) {
	raw := strings.TrimSpace(value)
	if raw == "" {
		return 0, false
	}

	if parsed, err := strconv.ParseFloat(raw, 64); err == nil {
		return boundDuration(parsed)
	}

	if m := clockDurationRe.FindStringSubmatch(raw); m != nil {
		hours, _ := strconv.ParseFloat(m[1], 64)
		minutes, _ := strconv.ParseFloat(m[2], 64)
		return boundDuration(hours + minutes/60)
	}

	if m := freeformDurationRe.FindStringSubmatch(raw); m != nil && (m[1] != "" || m[2] != "") {
		var hours float64
		if m[1] != "" {
			hours, _ = strconv.ParseFloat(m[1], 64)
		}
		if m[2] != "" {
			minutes, _ := strconv.ParseFloat(m[2], 64)
			hours += minutes / 60
		}
		return boundDuration(hours)
	}

	return 0, false
}

func boundDuration(hours float64) (float64, bool) {
	if hours < minDurationHours || hours > maxDurationHours {
		return 0, false
	}
	return hours, true
}
