package infra

import "strings"

// MaskSecret hides all but the first four characters of a credential so
// it can appear in banners and logs. Values of four characters or fewer
// are masked entirely.
func MaskSecret(s string) string {
	if len(s) <= 4 {
		return strings.Repeat("*", len(s))
	}
	return s[:4] + strings.Repeat("*", len(s)-4)
}

// MaskedToken returns the venue API token in log-safe form.
func (c *Config) MaskedToken() string {
	return MaskSecret(c.Venue.Token)
}
