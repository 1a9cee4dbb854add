package pretty

import "testing"

func TestAbbrev(t *testing.T) {
	cases := []struct {
		In   Abbreviated
		Want string
	}{
		{Abbrev("short"), "short"},
		{Abbrev("0123456789abcdef"), "0123456789ab…"},
		{Abbrev("0123456789abcdef", 20), "0123456789abcdef"},
		{Abbrev("0123456789abcdef", 10, 4), "0123…"},
	}

	for i, tc := range cases {
		if got := tc.In.String(); got != tc.Want {
			t.Errorf("case #%d: got: %q; want %q", i, got, tc.Want)
		}
	}
}

func TestLag(t *testing.T) {
	cases := []struct {
		StateVersion, Top uint64
		Want              string
	}{
		{100, 100, "synced"},
		{120, 100, "synced"},
		{90, 100, "10 behind"},
	}

	for i, tc := range cases {
		if got := Lag(tc.StateVersion, tc.Top); got != tc.Want {
			t.Errorf("case #%d: got: %q; want %q", i, got, tc.Want)
		}
	}
}
