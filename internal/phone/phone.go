// Package phone canonicalizes Indonesian WhatsApp numbers into comparable forms.
package phone

import "strings"

const (
	CountryCode = "62"
	MinDigits   = 6
)

// StripJID removes a WhatsApp address suffix ("@c.us", "@s.whatsapp.net") and a
// multi-device marker (":12") from a sender address.
func StripJID(addr string) string {
	addr = strings.TrimSpace(addr)
	if i := strings.IndexByte(addr, '@'); i >= 0 {
		addr = addr[:i]
	}
	if i := strings.IndexByte(addr, ':'); i >= 0 {
		addr = addr[:i]
	}
	return addr
}

// Digits keeps only ASCII digits of a JID-stripped address.
func Digits(raw string) string {
	raw = StripJID(raw)
	var b strings.Builder
	b.Grow(len(raw))
	for _, r := range raw {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// Normalize returns the leading-62 form. Numbers that are neither local ("0…"),
// bare subscriber ("8…") nor already international are returned as digits.
func Normalize(raw string) string {
	d := Digits(raw)
	switch {
	case d == "":
		return ""
	case strings.HasPrefix(d, CountryCode):
		return d
	case strings.HasPrefix(d, "0"):
		return CountryCode + strings.TrimLeft(d, "0")
	case strings.HasPrefix(d, "8"):
		return CountryCode + d
	default:
		return d
	}
}

// Local returns the leading-0 form, or "" when the number is not Indonesian.
func Local(raw string) string {
	n := Normalize(raw)
	if !strings.HasPrefix(n, CountryCode) {
		return ""
	}
	return "0" + strings.TrimPrefix(n, CountryCode)
}

// Alternatives lists every stored representation the same number may have.
func Alternatives(raw string) []string {
	n := Normalize(raw)
	if n == "" {
		return nil
	}
	out := []string{n}
	if l := Local(raw); l != "" {
		out = append(out, l, "+"+n)
	}
	return out
}

func Valid(raw string) bool {
	return len(Digits(raw)) >= MinDigits
}

// Equal reports whether two representations refer to the same number.
func Equal(a, b string) bool {
	na := Normalize(a)
	return na != "" && na == Normalize(b)
}
