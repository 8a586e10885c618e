package asset

import (
	"errors"
	"testing"
)

func TestParseFormatUnits(t *testing.T) {
	cases := map[string]string{
		"100":   "100000000000000000000",
		"0.001": "1000000000000000",
		".5":    "500000000000000000",
		"0":     "0",
		"10000": "10000000000000000000000",
	}
	for in, want := range cases {
		got, err := ParseUnits(in, 18)
		if err != nil {
			t.Fatalf("ParseUnits(%q): %v", in, err)
		}
		if got.Dec() != want {
			t.Fatalf("ParseUnits(%q)=%s, want %s", in, got.Dec(), want)
		}
	}
	if _, err := ParseUnits("1.0000000000000000001", 18); !errors.Is(err, ErrInvalidAmount) {
		t.Fatalf("expected ErrInvalidAmount, got %v", err)
	}
	if _, err := ParseUnits("-1", 18); !errors.Is(err, ErrInvalidAmount) {
		t.Fatalf("expected ErrInvalidAmount for negative, got %v", err)
	}

	v, _ := ParseUnits("0.001", 18)
	if got := FormatUnits(v, 18); got != "0.001" {
		t.Fatalf("FormatUnits=%q", got)
	}
	v, _ = ParseUnits("2500", 18)
	if got := FormatUnits(v, 18); got != "2500" {
		t.Fatalf("FormatUnits=%q", got)
	}
}
