package utils

import "testing"

func TestAtoiDefault(t *testing.T) {
	cases := []struct {
		s    string
		def  int
		want int
	}{
		// empty -> default
		{"", 10, 10},
		// valid ints
		{"42", 0, 42},
		{"-13", 1, -13},
		{"0012", 99, 12},
		// invalid -> default (no trim)
		{"x", 5, 5},
		{" 42", 7, 7},
		// overflow -> default
		{"999999999999999999999999", -1, -1},
	}

	for _, tc := range cases {
		if got := AtoiDefault(tc.s, tc.def); got != tc.want {
			t.Fatalf("AtoiDefault(%q, %d) = %d; want %d", tc.s, tc.def, got, tc.want)
		}
	}
}

func TestClamp(t *testing.T) {
	cases := []struct{ n, lo, hi, want int }{
		{5, 1, 10, 5},
		{0, 1, 10, 1},
		{500, 1, 100, 100},
		{-3, -5, 5, -3},
	}
	for _, tc := range cases {
		if got := Clamp(tc.n, tc.lo, tc.hi); got != tc.want {
			t.Fatalf("Clamp(%d,%d,%d) = %d; want %d", tc.n, tc.lo, tc.hi, got, tc.want)
		}
	}
}

func TestPageWindow(t *testing.T) {
	cases := []struct {
		page, size         int
		wantOff, wantLimit int
	}{
		{1, 20, 0, 20},
		{3, 20, 40, 20},
		{0, 20, 0, 20},  // page floor
		{2, 0, 30, 30},  // default size
		{2, -4, 30, 30}, // negative size -> default
		{2, 500, 100, 100},
	}
	for _, tc := range cases {
		off, lim := PageWindow(tc.page, tc.size, 30, 100)
		if off != tc.wantOff || lim != tc.wantLimit {
			t.Fatalf("PageWindow(%d,%d) = (%d,%d); want (%d,%d)", tc.page, tc.size, off, lim, tc.wantOff, tc.wantLimit)
		}
	}
}
