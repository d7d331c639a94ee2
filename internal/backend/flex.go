package backend

import (
	"encoding/json"
	"fmt"
	"time"
)

// FlexTime accepts the timestamp shapes the backend emits: RFC3339 with a
// zone, or a naive ISO-8601 string in the backend host's local time.
type FlexTime struct {
	time.Time
}

var zonedFormats = []string{
	time.RFC3339Nano,
	"2006-01-02 15:04:05.999999999Z07:00",
}

var naiveFormats = []string{
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02T15:04",
}

func (f *FlexTime) UnmarshalJSON(data []byte) error {
	if len(data) == 0 || string(data) == "null" || string(data) == `""` {
		f.Time = time.Time{}
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("timestamp must be a string: %w", err)
	}
	t, err := ParseTime(s)
	if err != nil {
		return err
	}
	f.Time = t
	return nil
}

// ParseTime parses s using the backend's accepted layouts. Naive timestamps
// are interpreted in time.Local.
func ParseTime(s string) (time.Time, error) {
	for _, layout := range zonedFormats {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	for _, layout := range naiveFormats {
		if t, err := time.ParseInLocation(layout, s, time.Local); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unable to parse time: %q", s)
}
