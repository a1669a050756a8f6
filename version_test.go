package authcore

import (
	"errors"
	"testing"
)

func TestIsMobileClient(t *testing.T) {
	mobile := []string{
		"okhttp/4.12.0",
		"Dalvik/2.1.0 (Linux; U; Android 14)",
		"MyApp/2.14 CFNetwork/1494.0.7 Darwin/23.4.0",
	}
	for _, ua := range mobile {
		if !isMobileClient(ua) {
			t.Fatalf("expected %q to classify as mobile", ua)
		}
	}

	nonMobile := []string{
		"",
		"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36",
		"Mozilla/5.0 (iPhone; CPU iPhone OS 17_4 like Mac OS X) Safari/604.1",
		"curl/8.4.0",
	}
	for _, ua := range nonMobile {
		if isMobileClient(ua) {
			t.Fatalf("expected %q to classify as non-mobile", ua)
		}
	}
}

func TestParseClientVersion(t *testing.T) {
	good := map[string][]int{
		"1":       {1},
		"2.14":    {2, 14},
		"2.14.0":  {2, 14, 0},
		" 3.0.1 ": {3, 0, 1},
	}
	for in, want := range good {
		v, err := parseClientVersion(in)
		if err != nil {
			t.Fatalf("parseClientVersion(%q): %v", in, err)
		}
		if len(v) != len(want) {
			t.Fatalf("parseClientVersion(%q) = %v, want %v", in, v, want)
		}
		for i := range want {
			if v[i] != want[i] {
				t.Fatalf("parseClientVersion(%q) = %v, want %v", in, v, want)
			}
		}
	}

	bad := []string{"", ".", "1..2", "1.x", "-1.2", "1.2-beta", "v1.2"}
	for _, in := range bad {
		if _, err := parseClientVersion(in); !errors.Is(err, ErrClientVersionInvalid) {
			t.Fatalf("parseClientVersion(%q): got %v, want ErrClientVersionInvalid", in, err)
		}
	}
}

func TestClientVersionCompare(t *testing.T) {
	cases := []struct {
		a, b string
		want int
	}{
		{"1.2", "1.2.0", 0},
		{"1.2", "1.2.1", -1},
		{"2.0", "1.9.9", 1},
		{"1.10", "1.9", 1},
		{"1.2.3", "1.2.3", 0},
	}
	for _, tc := range cases {
		a, err := parseClientVersion(tc.a)
		if err != nil {
			t.Fatalf("parse %q: %v", tc.a, err)
		}
		b, err := parseClientVersion(tc.b)
		if err != nil {
			t.Fatalf("parse %q: %v", tc.b, err)
		}
		if got := a.compare(b); got != tc.want {
			t.Fatalf("compare(%q, %q) = %d, want %d", tc.a, tc.b, got, tc.want)
		}
	}
}
