package weather

import (
	"fmt"
	"time"

	"github.com/goccy/go-json"
)

const dateLayout = "2006-01-02"

// DateWindow is an inclusive range of UTC calendar dates.
type DateWindow struct {
	Start time.Time
	End   time.Time
}

// Days returns the number of calendar days covered by the window.
func (w DateWindow) Days() int {
	return int(w.End.Sub(w.Start).Hours()/24) + 1
}

// MarshalJSON renders the window as {"start":"YYYY-MM-DD","end":"YYYY-MM-DD"}.
func (w DateWindow) MarshalJSON() ([]byte, error) {
	return []byte(`{"start":"` + w.Start.Format(dateLayout) + `","end":"` + w.End.Format(dateLayout) + `"}`), nil
}

// UnmarshalJSON accepts the form written by MarshalJSON.
func (w *DateWindow) UnmarshalJSON(b []byte) error {
	var raw struct {
		Start string `json:"start"`
		End   string `json:"end"`
	}
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}

	start, err := ParseDate(raw.Start)
	if err != nil {
		return fmt.Errorf("window start: %w", err)
	}
	end, err := ParseDate(raw.End)
	if err != nil {
		return fmt.Errorf("window end: %w", err)
	}
	w.Start, w.End = start, end
	return nil
}

// ComputeWindow derives the processing window. end defaults to yesterday
// relative to now (UTC calendar date) and start = end - (lookbackDays-1).
func ComputeWindow(end *time.Time, lookbackDays int, now time.Time) DateWindow {
	if lookbackDays < 1 {
		lookbackDays = 1
	}

	var e time.Time
	if end != nil {
		e = TruncateDay(*end)
	} else {
		e = TruncateDay(now.UTC()).AddDate(0, 0, -1)
	}

	return DateWindow{
		Start: e.AddDate(0, 0, -(lookbackDays - 1)),
		End:   e,
	}
}

// TruncateDay returns midnight UTC of t's calendar date. The date is taken in
// t's own location so that a parsed "2024-06-01" stays June 1.
func TruncateDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// ParseDate parses a YYYY-MM-DD date as midnight UTC.
func ParseDate(s string) (time.Time, error) {
	return time.ParseInLocation(dateLayout, s, time.UTC)
}

// FormatDate renders t as YYYY-MM-DD.
func FormatDate(t time.Time) string {
	return t.Format(dateLayout)
}
