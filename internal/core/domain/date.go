package domain

import (
	"bytes"
	"database/sql/driver"
	"encoding/json"
	"strings"
	"time"
)

const dateLayout = "2006-01-02"

var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999Z07:00",
	"2006-01-02 15:04:05.999999999",
}

// Date is a calendar day without a time of day. The zero Date means "no date".
//
// Decoding never fails: malformed input yields the zero Date.
type Date struct {
	year  int
	month time.Month
	day   int
}

func NewDate(year int, month time.Month, day int) Date {
	if year <= 0 {
		return Date{}
	}
	return DateOf(time.Date(year, month, day, 0, 0, 0, 0, time.UTC))
}

// DateOf returns the calendar day of t as seen in t's own location.
func DateOf(t time.Time) Date {
	if t.IsZero() {
		return Date{}
	}
	y, m, d := t.Date()
	if y <= 0 {
		return Date{}
	}
	return Date{year: y, month: m, day: d}
}

// ParseDate accepts "2006-01-02" or any supported timestamp form; anything
// else is treated as no date.
func ParseDate(raw string) Date {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return Date{}
	}
	if t, err := time.Parse(dateLayout, raw); err == nil {
		return DateOf(t)
	}
	if ts := ParseTimestamp(raw); !ts.IsZero() {
		return DateOf(ts.Time())
	}
	return Date{}
}

func (d Date) IsZero() bool { return d.year == 0 }
func (d Date) Year() int { return d.year }
func (d Date) Month() time.Month { return d.month }
func (d Date) Day() int { return d.day }

// Midnight returns the start of the day in loc.
func (d Date) Midnight(loc *time.Location) time.Time {
	if d.IsZero() {
		return time.Time{}
	}
	if loc == nil {
		loc = time.UTC
	}
	return time.Date(d.year, d.month, d.day, 0, 0, 0, 0, loc)
}

func (d Date) String() string {
	if d.IsZero() {
		return ""
	}
	return d.Midnight(time.UTC).Format(dateLayout)
}

func (d Date) MarshalJSON() ([]byte, error) {
	if d.IsZero() {
		return []byte("null"), nil
	}
	return json.Marshal(d.String())
}

func (d *Date) UnmarshalJSON(data []byte) error {
	*d = Date{}
	var raw string
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil
	}
	*d = ParseDate(raw)
	return nil
}

func (d *Date) Scan(src any) error {
	*d = Date{}
	switch v := src.(type) {
	case time.Time:
		*d = DateOf(v)
	case string:
		*d = ParseDate(v)
	case []byte:
		*d = ParseDate(string(v))
	}
	return nil
}

func (d Date) Value() (driver.Value, error) {
	if d.IsZero() {
		return nil, nil
	}
	return d.Midnight(time.UTC), nil
}

// Timestamp is an instant that may be absent. The zero Timestamp means "no time".
//
// Decoding never fails: malformed input yields the zero Timestamp.
type Timestamp struct {
	t time.Time
}

func TimestampOf(t time.Time) Timestamp {
	return Timestamp{t: t}
}

func ParseTimestamp(raw string) Timestamp {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return Timestamp{}
	}
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, raw); err == nil {
			return Timestamp{t: t}
		}
	}
	if t, err := time.Parse(dateLayout, raw); err == nil {
		return Timestamp{t: t}
	}
	return Timestamp{}
}

func (ts Timestamp) IsZero() bool { return ts.t.IsZero() }
func (ts Timestamp) Time() time.Time { return ts.t }

func (ts Timestamp) String() string {
	if ts.IsZero() {
		return ""
	}
	return ts.t.Format(time.RFC3339Nano)
}

func (ts Timestamp) MarshalJSON() ([]byte, error) {
	if ts.IsZero() {
		return []byte("null"), nil
	}
	return json.Marshal(ts.String())
}

func (ts *Timestamp) UnmarshalJSON(data []byte) error {
	*ts = Timestamp{}
	if bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		return nil
	}
	var raw string
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil
	}
	*ts = ParseTimestamp(raw)
	return nil
}

func (ts *Timestamp) Scan(src any) error {
	*ts = Timestamp{}
	switch v := src.(type) {
	case time.Time:
		*ts = Timestamp{t: v}
	case string:
		*ts = ParseTimestamp(v)
	case []byte:
		*ts = ParseTimestamp(string(v))
	}
	return nil
}

func (ts Timestamp) Value() (driver.Value, error) {
	if ts.IsZero() {
		return nil, nil
	}
	return ts.t, nil
}
