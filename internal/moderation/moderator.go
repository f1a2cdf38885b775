package moderation

import (
	"context"
	"strconv"
	"strings"

	"github.com/sparkmeet/messaging/internal/audit"
	"github.com/sparkmeet/messaging/internal/domain"
	"github.com/sparkmeet/messaging/internal/ratelimit"
	"github.com/sparkmeet/messaging/pkg/log"
)

// RateChecker is the admission gate consulted per identity.
type RateChecker interface {
	Allow(identity, action string) bool
}

// ExternalModerator scores content through a remote policy service.
type ExternalModerator interface {
	Enabled() bool
	Moderate(ctx context.Context, content string) (*APIResult, error)
}

// AuditRecorder receives moderation audit events.
type AuditRecorder interface {
	Record(ev audit.Event)
}

// Moderator combines the local heuristic rules, the external moderation
// API, and the rate limiter into a single verdict per message.
type Moderator struct {
	external ExternalModerator
	limiter  RateChecker
	auditor  AuditRecorder
}

// New creates a Moderator. external and auditor may be nil.
func New(external ExternalModerator, limiter RateChecker, auditor AuditRecorder) *Moderator {
	return &Moderator{
		external: external,
		limiter:  limiter,
		auditor:  auditor,
	}
}

// Evaluate scores sanitized content for the given sender identity.
// firstMessage widens the rule set for conversation openers.
//
// An external API failure degrades to the local-only result: it neither
// blocks the message nor waves it through.
func (m *Moderator) Evaluate(ctx context.Context, content, identity string, firstMessage bool) *domain.ModerationVerdict {
	matches := evaluateRules(content, firstMessage)

	score := 0
	severity := domain.Severity("")
	var categories []string
	seen := make(map[string]bool)
	for _, hit := range matches {
		score += hit.weight
		severity = severity.Max(hit.severity)
		if !seen[hit.category] {
			seen[hit.category] = true
			categories = append(categories, hit.category)
		}
	}
	if score > 100 {
		score = 100
	}

	verdict := &domain.ModerationVerdict{
		Flagged:    len(categories) > 0,
		Categories: categories,
		Severity:   severity,
		Confidence: float64(score) / 100,
		SpamScore:  score,
	}
	if verdict.Severity == "" {
		verdict.Severity = domain.SeverityLow
	}

	// Critical local findings force high severity before any merge.
	if verdict.HasCriticalCategory() {
		verdict.Severity = domain.SeverityHigh
	}

	m.mergeExternal(ctx, content, verdict, seen)

	verdict.Action = decideAction(verdict)

	// Rate limiting overrides content scoring entirely.
	if m.limiter != nil && !m.limiter.Allow(identity, ratelimit.ActionMessage) {
		verdict.Flagged = true
		verdict.Action = domain.ActionBlock
		verdict.Reason = "rate limit exceeded"
		if !seen[domain.CategoryRateLimit] {
			verdict.Categories = append(verdict.Categories, domain.CategoryRateLimit)
		}
	}

	m.recordVerdict(identity, verdict)

	return verdict
}

// mergeExternal folds the external API result into the local verdict:
// categories are unioned, severity and confidence take the max.
func (m *Moderator) mergeExternal(ctx context.Context, content string, verdict *domain.ModerationVerdict, seen map[string]bool) {
	if m.external == nil || !m.external.Enabled() {
		return
	}

	result, err := m.external.Moderate(ctx, content)
	if err != nil {
		log.L().Warn().Err(err).Msg("external moderation unavailable, using local heuristics only")
		return
	}

	if result.Flagged {
		verdict.Flagged = true
		verdict.Severity = verdict.Severity.Max(domain.SeverityMedium)
	}
	for _, cat := range result.Categories {
		if !seen[cat] {
			seen[cat] = true
			verdict.Categories = append(verdict.Categories, cat)
		}
		if domain.IsCriticalCategory(cat) {
			verdict.Severity = domain.SeverityHigh
		}
	}
	if result.Confidence > verdict.Confidence {
		verdict.Confidence = result.Confidence
	}
}

// decideAction maps a merged verdict to its action.
func decideAction(v *domain.ModerationVerdict) domain.ModerationAction {
	switch {
	case v.HasCriticalCategory():
		return domain.ActionBlock
	case v.Severity == domain.SeverityHigh || len(v.Categories) >= 3:
		return domain.ActionReview
	case len(v.Categories) > 0 || v.Severity == domain.SeverityMedium:
		return domain.ActionWarn
	default:
		return domain.ActionAllow
	}
}

// recordVerdict emits an audit event for anything that was not allowed.
func (m *Moderator) recordVerdict(identity string, v *domain.ModerationVerdict) {
	if m.auditor == nil || v.Action == domain.ActionAllow {
		return
	}

	action := audit.ActionMessageFlagged
	severity := audit.SeverityMedium
	if v.Action == domain.ActionBlock {
		action = audit.ActionMessageBlocked
		severity = audit.SeverityHigh
		if v.HasCategory(domain.CategoryRateLimit) {
			action = audit.ActionRateLimited
			severity = audit.SeverityMedium
		}
	}

	m.auditor.Record(audit.Event{
		Action:   action,
		Severity: severity,
		UserID:   identity,
		Details: map[string]string{
			"categories": strings.Join(v.Categories, ","),
			"spam_score": strconv.Itoa(v.SpamScore),
			"verdict":    string(v.Action),
		},
	})
}
