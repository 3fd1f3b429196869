package db

import (
	"database/sql/driver"
	"fmt"
	"strings"
	"time"
)

// mwLayout is the host's 14-digit timestamp format.
const mwLayout = "20060102150405"

var timestampLayouts = []string{
	mwLayout,
	time.RFC3339Nano,
	"2006-01-02 15:04:05.999999999-07:00",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02 15:04:05",
}

// Timestamp scans host timestamps stored either as 14-digit strings or as
// native time columns. Values are normalized to UTC.
type Timestamp struct {
	Time  time.Time
	Valid bool
}

func (ts *Timestamp) Scan(src any) error {
	ts.Time, ts.Valid = time.Time{}, false
	switch v := src.(type) {
	case nil:
		return nil
	case time.Time:
		ts.Time, ts.Valid = v.UTC(), true
		return nil
	case []byte:
		return ts.parse(string(v))
	case string:
		return ts.parse(v)
	case int64:
		return ts.parse(fmt.Sprintf("%014d", v))
	}
	return fmt.Errorf("unsupported timestamp type %T", src)
}

func (ts *Timestamp) parse(s string) error {
	s = strings.TrimRight(strings.TrimSpace(s), "\x00")
	if s == "" {
		return nil
	}
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			ts.Time, ts.Valid = t.UTC(), true
			return nil
		}
	}
	return fmt.Errorf("unrecognized timestamp %q", s)
}

func (ts Timestamp) Value() (driver.Value, error) {
	if !ts.Valid {
		return nil, nil
	}
	return formatTimestamp(ts.Time), nil
}

func formatTimestamp(t time.Time) string {
	return t.UTC().Format(mwLayout)
}
