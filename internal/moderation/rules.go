package moderation

import (
	"regexp"
	"strings"
	"unicode"

	"github.com/sparkmeet/messaging/internal/domain"
)

// Rule is one declarative heuristic: a pattern mapped to a policy
// category, a severity, and a spam score weight. Rules are data so each
// one can be tested on its own.
type Rule struct {
	Name     string
	Pattern  *regexp.Regexp
	Category string
	Severity domain.Severity
	Weight   int
	// FirstMessageOnly restricts the rule to the first message of a
	// conversation.
	FirstMessageOnly bool
}

var rules = []Rule{
	{
		Name:     "phone_number",
		Pattern:  regexp.MustCompile(`(\+?\d{1,3}[-.\s]?)?\(?\d{3}\)?[-.\s]?\d{3}[-.\s]?\d{4}`),
		Category: domain.CategoryPhoneNumber,
		Severity: domain.SeverityMedium,
		Weight:   25,
	},
	{
		Name:     "email_address",
		Pattern:  regexp.MustCompile(`[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}`),
		Category: domain.CategoryEmail,
		Severity: domain.SeverityMedium,
		Weight:   20,
	},
	{
		Name:     "social_handle",
		Pattern:  regexp.MustCompile(`(?i)(@[a-zA-Z0-9_.]{3,}|\b(instagram|insta|snapchat|snap|telegram|whatsapp|kik)\b[\s:]*[a-zA-Z0-9_.]*)`),
		Category: domain.CategorySocialHandle,
		Severity: domain.SeverityLow,
		Weight:   15,
	},
	{
		Name:     "payment_solicitation",
		Pattern:  regexp.MustCompile(`(?i)(\b(venmo|cashapp|cash app|paypal|zelle|onlyfans|sugar daddy|sugar baby)\b|\$\d+|send me money|wire transfer|gift card)`),
		Category: domain.CategoryPaymentSolicitation,
		Severity: domain.SeverityHigh,
		Weight:   40,
	},
	{
		Name:     "minor_reference",
		Pattern:  regexp.MustCompile(`(?i)\b(i'?m\s+1[0-7]\b|1[0-7]\s*(yo|y/o|years?\s+old)\b|\bunderage\b|\bminor\b|high\s+school(er)?\b)`),
		Category: domain.CategoryMinorReference,
		Severity: domain.SeverityHigh,
		Weight:   50,
	},
	{
		Name:     "sales_language",
		Pattern:  regexp.MustCompile(`(?i)\b(buy now|limited offer|click here|free money|earn \$|work from home|crypto|investment opportunity|forex)\b`),
		Category: domain.CategorySpam,
		Severity: domain.SeverityMedium,
		Weight:   20,
	},
	{
		Name:     "long_url",
		Pattern:  regexp.MustCompile(`https?://\S{40,}`),
		Category: domain.CategorySpam,
		Severity: domain.SeverityMedium,
		Weight:   20,
	},
	{
		Name:     "character_repetition",
		Pattern:  regexp.MustCompile(`(.)\1{7,}`),
		Category: domain.CategorySpam,
		Severity: domain.SeverityLow,
		Weight:   10,
	},
	{
		Name:             "url_in_first_message",
		Pattern:          regexp.MustCompile(`https?://\S+|www\.\S+`),
		Category:         domain.CategoryRawURL,
		Severity:         domain.SeverityMedium,
		Weight:           20,
		FirstMessageOnly: true,
	},
}

// Blocked words match as case-insensitive substrings regardless of
// surrounding text.
var blockedWords = []string{
	"kill yourself",
	"kys",
	"nude pics",
	"send nudes",
	"escort service",
}

// Ratio signals that are cheaper to compute than to express as regexes.
const (
	capsRatioThreshold   = 0.7
	symbolRatioThreshold = 0.4
	ratioMinLength       = 12
	capsRatioWeight      = 10
	symbolRatioWeight    = 15
	blockedWordWeight    = 35
)

// match is one triggered heuristic.
type match struct {
	rule     string
	category string
	severity domain.Severity
	weight   int
}

// evaluateRules runs the rule table and ratio signals over the content.
func evaluateRules(content string, firstMessage bool) []match {
	var matches []match

	lower := strings.ToLower(content)
	for _, w := range blockedWords {
		if strings.Contains(lower, w) {
			matches = append(matches, match{
				rule:     "blocked_word",
				category: domain.CategoryBlockedWord,
				severity: domain.SeverityHigh,
				weight:   blockedWordWeight,
			})
			break
		}
	}

	for _, r := range rules {
		if r.FirstMessageOnly && !firstMessage {
			continue
		}
		if r.Pattern.MatchString(content) {
			matches = append(matches, match{
				rule:     r.Name,
				category: r.Category,
				severity: r.Severity,
				weight:   r.Weight,
			})
		}
	}

	if capsRatio(content) > capsRatioThreshold {
		matches = append(matches, match{
			rule:     "excessive_caps",
			category: domain.CategorySpam,
			severity: domain.SeverityLow,
			weight:   capsRatioWeight,
		})
	}
	if symbolRatio(content) > symbolRatioThreshold {
		matches = append(matches, match{
			rule:     "excessive_symbols",
			category: domain.CategorySpam,
			severity: domain.SeverityLow,
			weight:   symbolRatioWeight,
		})
	}

	return matches
}

// capsRatio is the share of letters that are upper case. Short strings
// are exempt.
func capsRatio(s string) float64 {
	var letters, upper int
	for _, r := range s {
		if unicode.IsLetter(r) {
			letters++
			if unicode.IsUpper(r) {
				upper++
			}
		}
	}
	if letters < ratioMinLength {
		return 0
	}
	return float64(upper) / float64(letters)
}

// symbolRatio is the share of non-space runes that are neither letters
// nor digits. Short strings are exempt.
func symbolRatio(s string) float64 {
	var total, symbols int
	for _, r := range s {
		if unicode.IsSpace(r) {
			continue
		}
		total++
		if !unicode.IsLetter(r) && !unicode.IsDigit(r) {
			symbols++
		}
	}
	if total < ratioMinLength {
		return 0
	}
	return float64(symbols) / float64(total)
}
