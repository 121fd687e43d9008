package domain_test

import (
	"testing"

	"kalshi-agent/internal/domain"
)

func TestCentsDollarsRoundTrip(t *testing.T) {
	// The venue prices contracts on [1, 99] cents; conversion through the
	// internal fixed-point representation must be the identity for every
	// value in that range.
	for cents := int64(1); cents <= 99; cents++ {
		d := domain.CentsToDollars(cents)
		if got := d.ToCents(); got != cents {
			t.Fatalf("round trip %d cents -> %s -> %d cents", cents, d, got)
		}
	}
}

func TestToCentsRounds(t *testing.T) {
	cases := []struct {
		in   domain.Dollars
		want int64
	}{
		{in: 9009, want: 90},  // 0.9009 -> 90c
		{in: 9050, want: 91},  // half rounds away from zero
		{in: 9049, want: 90},
		{in: -9050, want: -91},
		{in: 0, want: 0},
	}
	for _, tc := range cases {
		if got := tc.in.ToCents(); got != tc.want {
			t.Errorf("ToCents(%d) = %d, want %d", int64(tc.in), got, tc.want)
		}
	}
}

func TestDollarsString(t *testing.T) {
	cases := []struct {
		in   domain.Dollars
		want string
	}{
		{in: 9100, want: "0.9100"},
		{in: 1_000_0000, want: "1000.0000"},
		{in: -2_0000, want: "-2.0000"},
		{in: 5, want: "0.0005"},
	}
	for _, tc := range cases {
		if got := tc.in.String(); got != tc.want {
			t.Errorf("String(%d) = %q, want %q", int64(tc.in), got, tc.want)
		}
	}
}

func TestSafeMulOverflowPanics(t *testing.T) {
	defer func() {
		if r := recover(); r == nil {
			t.Fatal("expected panic on multiply overflow")
		}
	}()
	domain.SafeMul(1<<40, 1<<40)
}

func TestSafeAddOverflowPanics(t *testing.T) {
	defer func() {
		if r := recover(); r == nil {
			t.Fatal("expected panic on add overflow")
		}
	}()
	domain.SafeAdd(1<<62, 1<<62)
}
