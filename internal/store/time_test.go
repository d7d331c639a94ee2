package store

import (
	"database/sql"
	"testing"
	"time"
)

func TestParseTime(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    time.Time
		wantErr bool
	}{
		{name: "empty", input: "", want: time.Time{}},
		{name: "stored layout", input: "2026-03-02T09:15:00.250000000Z",
			want: time.Date(2026, 3, 2, 9, 15, 0, 250000000, time.UTC)},
		{name: "rfc3339 with offset", input: "2026-03-02T10:15:00+01:00",
			want: time.Date(2026, 3, 2, 9, 15, 0, 0, time.UTC)},
		{name: "sqlite datetime()", input: "2026-03-02 09:15:00",
			want: time.Date(2026, 3, 2, 9, 15, 0, 0, time.UTC)},
		{name: "garbage", input: "yesterday", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseTime(tt.input)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("expected error for %q", tt.input)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if !got.Equal(tt.want) {
				t.Errorf("parseTime(%q) = %v, want %v", tt.input, got, tt.want)
			}
		})
	}
}

func TestFormatTimeSortsLexically(t *testing.T) {
	a := formatTime(time.Date(2026, 3, 2, 9, 0, 0, 5, time.UTC))
	b := formatTime(time.Date(2026, 3, 2, 9, 0, 0, 40, time.UTC))
	if a >= b {
		t.Fatalf("expected %q < %q", a, b)
	}
}

func TestParseNullTime(t *testing.T) {
	got, err := parseNullTime(sql.NullString{})
	if err != nil || got != nil {
		t.Fatalf("null: got %v, %v", got, err)
	}
	got, err = parseNullTime(sql.NullString{Valid: true, String: "2026-03-02T09:00:00.000000000Z"})
	if err != nil || got == nil {
		t.Fatalf("valid: got %v, %v", got, err)
	}
}
