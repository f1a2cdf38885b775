package domain

// Severity grades a moderation finding.
type Severity string

const (
	SeverityLow    Severity = "low"
	SeverityMedium Severity = "medium"
	SeverityHigh   Severity = "high"
)

// rank orders severities for max-merging.
func (s Severity) rank() int {
	switch s {
	case SeverityHigh:
		return 3
	case SeverityMedium:
		return 2
	case SeverityLow:
		return 1
	}
	return 0
}

// Max returns the higher of the two severities.
func (s Severity) Max(other Severity) Severity {
	if other.rank() > s.rank() {
		return other
	}
	return s
}

// ModerationAction is the decision attached to a verdict.
type ModerationAction string

const (
	ActionAllow  ModerationAction = "allow"
	ActionWarn   ModerationAction = "warn"
	ActionReview ModerationAction = "review"
	ActionBlock  ModerationAction = "block"
)

// Policy categories produced by the heuristic rules and the external API.
const (
	CategoryBlockedWord         = "blocked_word"
	CategorySpam                = "spam"
	CategoryPhoneNumber         = "phone_number"
	CategoryEmail               = "email"
	CategorySocialHandle        = "social_handle"
	CategoryPaymentSolicitation = "payment_solicitation"
	CategoryMinorReference      = "minor_reference"
	CategoryRawURL              = "raw_url"
	CategoryRateLimit           = "rate_limit"
)

// criticalCategories force action=block regardless of confidence.
var criticalCategories = map[string]bool{
	CategoryPaymentSolicitation: true,
	CategoryMinorReference:      true,
}

// IsCriticalCategory reports whether cat always blocks.
func IsCriticalCategory(cat string) bool {
	return criticalCategories[cat]
}

// ModerationVerdict is the outcome of evaluating one message.
type ModerationVerdict struct {
	Flagged    bool             `json:"flagged"`
	Categories []string         `json:"categories"`
	Severity   Severity         `json:"severity"`
	Action     ModerationAction `json:"action"`
	Confidence float64          `json:"confidence"`
	Reason     string           `json:"reason,omitempty"`
	SpamScore  int              `json:"spam_score"`
}

// HasCategory reports whether the verdict carries the given category.
func (v *ModerationVerdict) HasCategory(cat string) bool {
	for _, c := range v.Categories {
		if c == cat {
			return true
		}
	}
	return false
}

// HasCriticalCategory reports whether any category is in the critical set.
func (v *ModerationVerdict) HasCriticalCategory() bool {
	for _, c := range v.Categories {
		if IsCriticalCategory(c) {
			return true
		}
	}
	return false
}
