// Package query implements the ranking, tie-break, and time-parsing
// rules shared across storage backends (spec §4.10).
package query

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/hearthlabs/memoryd/internal/engineerr"
	"github.com/hearthlabs/memoryd/internal/storage"
)

var relativeAgoRe = regexp.MustCompile(`^(\d+)\s*(second|minute|hour|day|week|month|year)s?\s+ago$`)

const dayDuration = 24 * time.Hour

func startOfDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}

func endOfDay(t time.Time) time.Time {
	return startOfDay(t).Add(dayDuration - time.Second)
}

// ParseTimeQuery parses a query string per the grammar in spec §4.10,
// evaluated relative to now. It returns an InvalidInput error naming
// the offending substring on failure.
func ParseTimeQuery(query string, now time.Time) (storage.TimeRange, error) {
	q := strings.TrimSpace(strings.ToLower(query))

	switch {
	case strings.HasPrefix(q, "between "):
		return parseBetween(q, now)
	case strings.HasPrefix(q, "since "):
		t, err := parseSingleTimeToken(strings.TrimSpace(q[len("since "):]), now)
		if err != nil {
			return storage.TimeRange{}, err
		}
		return storage.TimeRange{Start: t, End: now}, nil
	case strings.HasPrefix(q, "before "):
		t, err := parseSingleTimeToken(strings.TrimSpace(q[len("before "):]), now)
		if err != nil {
			return storage.TimeRange{}, err
		}
		return storage.TimeRange{Start: time.Unix(0, 0).UTC(), End: t}, nil
	}

	switch q {
	case "today":
		return storage.TimeRange{Start: startOfDay(now), End: endOfDay(now)}, nil
	case "yesterday":
		y := now.Add(-dayDuration)
		return storage.TimeRange{Start: startOfDay(y), End: endOfDay(y)}, nil
	case "this week":
		return weekRange(now, 0), nil
	case "last week":
		return weekRange(now, -1), nil
	case "this month":
		return monthRange(now, 0), nil
	case "last month":
		return monthRange(now, -1), nil
	case "this year":
		return yearRange(now, 0), nil
	case "last year":
		return yearRange(now, -1), nil
	}

	if m := relativeAgoRe.FindStringSubmatch(q); m != nil {
		n, _ := strconv.Atoi(m[1])
		d, err := unitDuration(m[2], n, now)
		if err != nil {
			return storage.TimeRange{}, err
		}
		t := now.Add(-d)
		return storage.TimeRange{Start: t, End: now}, nil
	}

	t, err := parseAbsolute(q)
	if err != nil {
		return storage.TimeRange{}, engineerr.New(engineerr.InvalidInput, "unparseable time query: %q", query)
	}
	// A bare day-level token gets day granularity per spec default.
	if _, dayErr := time.Parse("2006-01-02", q); dayErr == nil {
		return storage.TimeRange{Start: startOfDay(t), End: endOfDay(t)}, nil
	}
	return storage.TimeRange{Start: t, End: t}, nil
}

func parseBetween(q string, now time.Time) (storage.TimeRange, error) {
	rest := strings.TrimSpace(q[len("between "):])
	parts := strings.SplitN(rest, " and ", 2)
	if len(parts) != 2 {
		return storage.TimeRange{}, engineerr.New(engineerr.InvalidInput, "malformed between range: %q", q)
	}
	start, err := parseSingleTimeToken(strings.TrimSpace(parts[0]), now)
	if err != nil {
		return storage.TimeRange{}, err
	}
	end, err := parseSingleTimeToken(strings.TrimSpace(parts[1]), now)
	if err != nil {
		return storage.TimeRange{}, err
	}
	return storage.TimeRange{Start: start, End: end}, nil
}

func parseSingleTimeToken(tok string, now time.Time) (time.Time, error) {
	switch tok {
	case "today":
		return startOfDay(now), nil
	case "yesterday":
		return startOfDay(now.Add(-dayDuration)), nil
	}
	if m := relativeAgoRe.FindStringSubmatch(tok); m != nil {
		n, _ := strconv.Atoi(m[1])
		d, err := unitDuration(m[2], n, now)
		if err != nil {
			return time.Time{}, err
		}
		return now.Add(-d), nil
	}
	t, err := parseAbsolute(tok)
	if err != nil {
		return time.Time{}, engineerr.New(engineerr.InvalidInput, "unparseable time: %q", tok)
	}
	return t, nil
}

func unitDuration(unit string, n int, now time.Time) (time.Duration, error) {
	switch unit {
	case "second":
		return time.Duration(n) * time.Second, nil
	case "minute":
		return time.Duration(n) * time.Minute, nil
	case "hour":
		return time.Duration(n) * time.Hour, nil
	case "day":
		return time.Duration(n) * dayDuration, nil
	case "week":
		return time.Duration(n) * 7 * dayDuration, nil
	case "month":
		return time.Duration(n) * 30 * dayDuration, nil
	case "year":
		return time.Duration(n) * 365 * dayDuration, nil
	default:
		return 0, engineerr.New(engineerr.InvalidInput, "unknown time unit: %q", unit)
	}
}

func weekRange(now time.Time, offsetWeeks int) storage.TimeRange {
	// Monday-anchored week, matching common ISO week convention.
	weekday := int(now.Weekday())
	if weekday == 0 {
		weekday = 7
	}
	monday := startOfDay(now).AddDate(0, 0, -(weekday-1)+7*offsetWeeks)
	sunday := monday.AddDate(0, 0, 6)
	return storage.TimeRange{Start: monday, End: endOfDay(sunday)}
}

func monthRange(now time.Time, offsetMonths int) storage.TimeRange {
	y, m, _ := now.Date()
	first := time.Date(y, m, 1, 0, 0, 0, 0, now.Location()).AddDate(0, offsetMonths, 0)
	last := first.AddDate(0, 1, 0).Add(-time.Second)
	return storage.TimeRange{Start: first, End: last}
}

func yearRange(now time.Time, offsetYears int) storage.TimeRange {
	y := now.Year() + offsetYears
	first := time.Date(y, 1, 1, 0, 0, 0, 0, now.Location())
	last := time.Date(y, 12, 31, 23, 59, 59, 0, now.Location())
	return storage.TimeRange{Start: first, End: last}
}

// parseAbsolute accepts RFC 3339, "YYYY-MM-DD", "YYYY-MM-DD HH:MM[:SS]",
// and epoch seconds/milliseconds (auto-detected by magnitude).
func parseAbsolute(s string) (time.Time, error) {
	// Callers lowercase the whole query, so restore the upper-case "T"
	// separator and "Z" suffix RFC 3339 parsing requires.
	if t, err := time.Parse(time.RFC3339, strings.ToUpper(s)); err == nil {
		return t.UTC(), nil
	}
	if t, err := time.Parse("2006-01-02", s); err == nil {
		return t.UTC(), nil
	}
	if t, err := time.Parse("2006-01-02 15:04:05", s); err == nil {
		return t, nil
	}
	if t, err := time.Parse("2006-01-02 15:04", s); err == nil {
		return t, nil
	}
	if epoch, err := strconv.ParseInt(s, 10, 64); err == nil {
		// Milliseconds have 13 digits, seconds have 10, for dates in
		// the plausible operating range of this service.
		if len(s) >= 13 {
			return time.UnixMilli(epoch).UTC(), nil
		}
		return time.Unix(epoch, 0).UTC(), nil
	}
	return time.Time{}, fmt.Errorf("no matching format for %q", s)
}
