// Package whatsapp builds click-to-chat links for the support fallback.
package whatsapp

import (
	"net/url"
	"strings"
)

const countryCode = "234"

// NormalizePhone strips formatting and applies the default country code: a
// leading trunk 0 becomes 234, other numbers get 234 prepended unless present.
func NormalizePhone(raw string) string {
	var b strings.Builder
	for _, r := range raw {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	digits := b.String()
	switch {
	case digits == "":
		return ""
	case strings.HasPrefix(digits, "0"):
		return countryCode + digits[1:]
	case strings.HasPrefix(digits, countryCode):
		return digits
	default:
		return countryCode + digits
	}
}

// Link returns https://wa.me/<digits>?text=<message>, or "" without a number.
func Link(phone, text string) string {
	digits := NormalizePhone(phone)
	if digits == "" {
		return ""
	}
	link := "https://wa.me/" + digits
	if text != "" {
		link += "?text=" + strings.ReplaceAll(url.QueryEscape(text), "+", "%20")
	}
	return link
}
