package infra

import "testing"

func TestMaskSecret(t *testing.T) {
	cases := []struct{ in, want string }{
		{"", ""},
		{"ab", "**"},
		{"abcd", "****"},
		{"abcdef", "abcd**"},
		{"a1-TokenValue99", "a1-T***********"},
	}
	for _, tc := range cases {
		if got := MaskSecret(tc.in); got != tc.want {
			t.Errorf("MaskSecret(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}
