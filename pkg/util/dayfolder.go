package util

import (
	"strings"
	"time"
)

// DayLayout is the layout of dated backup folder names.
const DayLayout = "2006-01-02"

// ArchiveExtensions lists the suffixes of compressed day folders, longest first.
var ArchiveExtensions = []string{".tar.zst", ".tar.gz", ".zip"}

// DayName returns the folder name for the calendar day of t in t's location.
func DayName(t time.Time) string {
	return t.Format(DayLayout)
}

// ParseDayName parses a strict YYYY-MM-DD name. Names that only partially
// match (like "2024-3-1" or "2024-03-01-old") are rejected.
func ParseDayName(name string) (time.Time, bool) {
	if len(name) != len(DayLayout) {
		return time.Time{}, false
	}
	day, err := time.Parse(DayLayout, name)
	if err != nil || day.Format(DayLayout) != name {
		return time.Time{}, false
	}
	return day, true
}

// ParseDayArchiveName parses names like "2024-03-01.tar.zst" and returns the day
// and the matched extension.
func ParseDayArchiveName(name string) (time.Time, string, bool) {
	for _, ext := range ArchiveExtensions {
		if !strings.HasSuffix(name, ext) {
			continue
		}
		day, ok := ParseDayName(strings.TrimSuffix(name, ext))
		return day, ext, ok
	}
	return time.Time{}, "", false
}

// DaysBetween returns the number of whole calendar days from day to today.
// Only the calendar dates matter, not the wall clock times or locations.
func DaysBetween(day, today time.Time) int {
	y1, m1, d1 := day.Date()
	y2, m2, d2 := today.Date()
	from := time.Date(y1, m1, d1, 0, 0, 0, 0, time.UTC)
	to := time.Date(y2, m2, d2, 0, 0, 0, 0, time.UTC)
	return int(to.Sub(from).Hours() / 24)
}
