// Package intent classifies free-text patient replies with one ordered keyword rule table.
package intent

import (
	"strings"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

type Intent string

const (
	Unsubscribe        Intent = "unsubscribe"
	Accept             Intent = "accept"
	Decline            Intent = "decline"
	ConfirmationTaken  Intent = "confirmation_taken"
	ConfirmationMissed Intent = "confirmation_missed"
	ConfirmationLater  Intent = "confirmation_later"
	Unknown            Intent = "unknown"
)

// Verification reports whether the intent answers a verification request.
func (i Intent) Verification() bool {
	return i == Accept || i == Decline
}

func (i Intent) Confirmation() bool {
	return i == ConfirmationTaken || i == ConfirmationMissed || i == ConfirmationLater
}

// Scope limits a rule to a patient situation.
type Scope int

const (
	// ScopeAny applies regardless of the patient's situation.
	ScopeAny Scope = iota
	// ScopeVerificationPending applies while the patient's verification is pending.
	ScopeVerificationPending
	// ScopeConfirmationPending applies when no verification is pending and a reminder
	// awaits confirmation.
	ScopeConfirmationPending
	// ScopeSettled applies when no verification is pending.
	ScopeSettled
)

// Hints describe the patient's durable situation. The zero value means nothing is pending.
type Hints struct {
	VerificationPending bool
	ConfirmationPending bool
}

func (s Scope) applies(h Hints) bool {
	switch s {
	case ScopeVerificationPending:
		return h.VerificationPending
	case ScopeConfirmationPending:
		return !h.VerificationPending && h.ConfirmationPending
	case ScopeSettled:
		return !h.VerificationPending
	default:
		return true
	}
}

type Rule struct {
	Priority int
	Intent   Intent
	Scope    Scope
	Keywords []string
	// Negatable rules do not match a keyword directly preceded by a negation word,
	// so "tidak setuju" is not an acceptance.
	Negatable bool
}

var (
	unsubscribeWords = []string{"berhenti", "stop", "batal", "unsubscribe", "hentikan", "keluar", "jangan kirim lagi"}
	acceptWords      = []string{"ya", "iya", "iyaa", "y", "yes", "ok", "oke", "okay", "setuju", "siap", "benar"}
	declineWords     = []string{"tidak", "tolak", "menolak", "no", "gak", "ga", "nggak", "enggak", "ndak", "bukan"}
	takenWords       = []string{"sudah", "selesai", "udah", "sdh", "done", "sudah minum", "taken"}
	missedWords      = []string{"belum", "lupa", "blm", "terlewat", "missed"}
	laterWords       = []string{"nanti", "besok", "sebentar lagi", "later"}

	negations = map[string]bool{"tidak": true, "gak": true, "ga": true, "nggak": true, "enggak": true, "bukan": true, "belum": true, "not": true, "dont": true}
)

// DefaultRules is evaluated top-down; the first matching rule wins.
var DefaultRules = []Rule{
	{Priority: 1, Intent: Unsubscribe, Scope: ScopeAny, Keywords: unsubscribeWords},
	{Priority: 2, Intent: Accept, Scope: ScopeVerificationPending, Keywords: acceptWords, Negatable: true},
	{Priority: 3, Intent: Decline, Scope: ScopeVerificationPending, Keywords: declineWords},
	{Priority: 4, Intent: ConfirmationTaken, Scope: ScopeAny, Keywords: takenWords},
	{Priority: 5, Intent: ConfirmationMissed, Scope: ScopeAny, Keywords: missedWords},
	{Priority: 6, Intent: ConfirmationLater, Scope: ScopeAny, Keywords: laterWords},
	{Priority: 7, Intent: ConfirmationTaken, Scope: ScopeConfirmationPending, Keywords: acceptWords, Negatable: true},
	{Priority: 8, Intent: ConfirmationMissed, Scope: ScopeConfirmationPending, Keywords: declineWords},
	{Priority: 9, Intent: Accept, Scope: ScopeSettled, Keywords: acceptWords, Negatable: true},
	{Priority: 10, Intent: Decline, Scope: ScopeSettled, Keywords: declineWords},
}

// DefaultEmergencyWords trigger human escalation before any rule is consulted.
var DefaultEmergencyWords = []string{
	"darurat", "emergency", "gawat", "pingsan", "sesak", "sesak napas", "kejang",
	"pendarahan", "perdarahan", "sos", "tolong segera",
}

type Result struct {
	Intent     Intent
	Recognized bool
	Emergency  bool
	// Keyword is the matched keyword or phrase; empty for Unknown.
	Keyword string
	// Rule is the priority of the matching rule; zero for Unknown.
	Rule int
}

type Classifier struct {
	rules     []compiledRule
	emergency []phrase
}

type phrase []string

type compiledRule struct {
	Rule
	phrases []phrase
}

func New() *Classifier {
	return NewWithRules(DefaultRules, DefaultEmergencyWords)
}

// NewWithRules compiles rules in their given order.
func NewWithRules(rules []Rule, emergencyWords []string) *Classifier {
	c := &Classifier{}
	for _, r := range rules {
		cr := compiledRule{Rule: r}
		for _, k := range r.Keywords {
			if p := tokenize(k); len(p) > 0 {
				cr.phrases = append(cr.phrases, p)
			}
		}
		c.rules = append(c.rules, cr)
	}
	for _, k := range emergencyWords {
		if p := tokenize(k); len(p) > 0 {
			c.emergency = append(c.emergency, p)
		}
	}
	return c
}

func (c *Classifier) Classify(text string, h Hints) Result {
	tokens := tokenize(text)
	res := Result{Intent: Unknown}

	for _, p := range c.emergency {
		if matchAt(tokens, p, false) >= 0 {
			res.Emergency = true
			break
		}
	}

	for _, r := range c.rules {
		if !r.Scope.applies(h) {
			continue
		}
		for _, p := range r.phrases {
			if matchAt(tokens, p, r.Negatable) >= 0 {
				res.Intent = r.Intent
				res.Recognized = true
				res.Keyword = strings.Join(p, " ")
				res.Rule = r.Priority
				return res
			}
		}
	}
	return res
}

// matchAt returns the index where p occurs as whole consecutive tokens, or -1.
func matchAt(tokens []string, p phrase, negatable bool) int {
	for i := 0; i+len(p) <= len(tokens); i++ {
		ok := true
		for j := range p {
			if tokens[i+j] != p[j] {
				ok = false
				break
			}
		}
		if !ok {
			continue
		}
		if negatable && i > 0 && negations[tokens[i-1]] {
			continue
		}
		return i
	}
	return -1
}

var folder = transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)

// fold lowercases and strips diacritics so "SUDÁH" and "sudah" compare equal.
func fold(s string) string {
	if out, _, err := transform.String(folder, s); err == nil {
		s = out
	}
	return cases.Fold().String(s)
}

func tokenize(s string) []string {
	return strings.FieldsFunc(fold(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}
