package records

import (
	"regexp"
	"strconv"
	"strings"
	"time"
)

var nonAlphanumeric = regexp.MustCompile(`[^a-z0-9]+`)

// Slugify lowercases title, replaces runs of non-alphanumeric characters
// with a single hyphen, trims leading/trailing hyphens, and truncates to
// 50 characters.
func Slugify(title string) string {
	s := strings.ToLower(title)
	s = nonAlphanumeric.ReplaceAllString(s, "-")
	s = strings.Trim(s, "-")
	if len(s) > 50 {
		s = strings.Trim(s[:50], "-")
	}
	return s
}

// TimeIndexedID builds the `"<unix-seconds>-<type-prefix>-<slug>"` form
// used for tasks, cycles, executions, changelogs, and feedback.
func TimeIndexedID(unixSeconds int64, typePrefix, title string) string {
	return formatID(unixSeconds, typePrefix, Slugify(title))
}

func formatID(unixSeconds int64, typePrefix, slug string) string {
	return strconv.FormatInt(unixSeconds, 10) + "-" + typePrefix + "-" + slug
}

// CreatedAtFromID recovers the creation timestamp embedded in a
// TimeIndexedID's leading unix-seconds segment. It reports false for IDs
// that don't follow that form (e.g. actor IDs, or fixture IDs in tests).
func CreatedAtFromID(id string) (time.Time, bool) {
	prefix, _, ok := strings.Cut(id, "-")
	if !ok {
		return time.Time{}, false
	}
	seconds, err := strconv.ParseInt(prefix, 10, 64)
	if err != nil {
		return time.Time{}, false
	}
	return time.Unix(seconds, 0), true
}
