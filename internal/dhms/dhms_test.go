package dhms

import (
	"errors"
	"testing"
)

func TestParse(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		in   string
		want int64
	}{
		{name: "mm:ss", in: "05:00", want: 300},
		{name: "mm:ss unpadded", in: "1:5", want: 65},
		{name: "hh:mm:ss", in: "01:02:03", want: 3723},
		{name: "dd:hh:mm:ss", in: "2:03:04:05", want: 2*86400 + 3*3600 + 4*60 + 5},
		{name: "zero", in: "00:00", want: 0},
		{name: "spaces trimmed", in: "  10:00 ", want: 600},
		{name: "large days", in: "7:00:00:00", want: 7 * 86400},
		{name: "largest days", in: "106751991167299:23:59:59", want: 106751991167299*86400 + 86399},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, err := Parse(tt.in)
			if err != nil {
				t.Fatalf("Parse(%q) error: %v", tt.in, err)
			}
			if got != tt.want {
				t.Fatalf("Parse(%q) = %d, want %d", tt.in, got, tt.want)
			}
		})
	}
}

func TestParseErrors(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name  string
		in    string
		want  error
		field string
	}{
		{name: "empty", in: "", want: ErrMalformed},
		{name: "single group", in: "300", want: ErrMalformed},
		{name: "five groups", in: "1:1:1:1:1", want: ErrMalformed},
		{name: "letters", in: "aa:10", want: ErrMalformed},
		{name: "sign", in: "-1:10", want: ErrMalformed},
		{name: "empty group", in: "10:", want: ErrMalformed},
		{name: "seconds", in: "00:60", want: ErrOutOfRange, field: "seconds"},
		{name: "minutes", in: "60:00", want: ErrOutOfRange, field: "minutes"},
		{name: "hours", in: "24:00:00", want: ErrOutOfRange, field: "hours"},
		{name: "days overflow", in: "94368760191893771:00:00:00", want: ErrOutOfRange, field: "days"},
		{name: "days past max int64", in: "106751991167300:23:59:59", want: ErrOutOfRange, field: "days"},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := Parse(tt.in)
			if !errors.Is(err, tt.want) {
				t.Fatalf("Parse(%q) err = %v, want %v", tt.in, err, tt.want)
			}
			if tt.field != "" {
				var re *RangeError
				if !errors.As(err, &re) || re.Field != tt.field {
					t.Fatalf("Parse(%q) err = %#v, want RangeError on %s", tt.in, err, tt.field)
				}
				if errors.Is(err, ErrMalformed) {
					t.Fatalf("range error also matches ErrMalformed")
				}
			}
		})
	}
}

func TestFormat(t *testing.T) {
	t.Parallel()
	tests := []struct {
		in   int64
		want string
	}{
		{in: -5, want: "00:00"},
		{in: 0, want: "00:00"},
		{in: 59, want: "00:59"},
		{in: 900, want: "15:00"},
		{in: 3599, want: "59:59"},
		{in: 3600, want: "01:00:00"},
		{in: 86399, want: "23:59:59"},
		{in: 86400, want: "1g 00:00:00"},
		{in: 7*86400 + 61, want: "7g 00:01:01"},
	}
	for _, tt := range tests {
		if got := Format(tt.in); got != tt.want {
			t.Fatalf("Format(%d) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestFormatParseRoundTrip(t *testing.T) {
	t.Parallel()
	// Two- and three-group forms cover everything below one day.
	for s := int64(0); s < 86400; s += 7 {
		got, err := Parse(Format(s))
		if err != nil {
			t.Fatalf("Parse(Format(%d)) error: %v", s, err)
		}
		if got != s {
			t.Fatalf("Parse(Format(%d)) = %d", s, got)
		}
	}
}

func TestFormatDayFormIsNotParseable(t *testing.T) {
	t.Parallel()
	if _, err := Parse(Format(2 * 86400)); !errors.Is(err, ErrMalformed) {
		t.Fatalf("expected day form to be rejected, got %v", err)
	}
}
