package sanitize

import (
	"fmt"
	"html"
	"net/url"
	"regexp"
	"strings"
	"time"
	"unicode"

	"github.com/microcosm-cc/bluemonday"

	"github.com/sparkmeet/messaging/internal/domain"
)

// ValidationError describes one rejected aspect of a draft.
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidationErrors is the full set of problems found in one draft.
type ValidationErrors []ValidationError

func (e ValidationErrors) Error() string {
	msgs := make([]string, len(e))
	for i, v := range e {
		msgs[i] = v.Error()
	}
	return strings.Join(msgs, "; ")
}

// Hosts trusted to serve image/voice attachments.
var trustedMediaHosts = map[string]bool{
	"storage.sparkmeet.app": true,
	"cdn.sparkmeet.app":     true,
	"media.sparkmeet.app":   true,
}

var whitespaceRun = regexp.MustCompile(`\s+`)

// Sanitizer normalizes and validates raw message drafts. It is a pure
// transform; it performs no I/O.
type Sanitizer struct {
	maxLength int
	policy    *bluemonday.Policy
	now       func() time.Time
}

// New creates a Sanitizer with the given content length ceiling. A
// non-positive maxLength falls back to domain.MaxMessageLength.
func New(maxLength int) *Sanitizer {
	if maxLength <= 0 {
		maxLength = domain.MaxMessageLength
	}
	return &Sanitizer{
		maxLength: maxLength,
		// Zero allowed tags or attributes: all markup is stripped.
		policy: bluemonday.StrictPolicy(),
		now:    time.Now,
	}
}

// ValidateAndSanitize checks a draft against the message schema and returns
// a normalized optimistic Message, or the full list of validation errors.
// The returned message carries a temporary ID and IsOptimistic=true.
func (s *Sanitizer) ValidateAndSanitize(draft domain.Draft, senderID string) (*domain.Message, ValidationErrors) {
	var errs ValidationErrors

	if senderID == "" {
		errs = append(errs, ValidationError{Field: "sender_id", Message: "sender ID is required"})
	}
	if draft.ReceiverID == "" {
		errs = append(errs, ValidationError{Field: "receiver_id", Message: "receiver ID is required"})
	}
	if draft.ConversationID == "" {
		errs = append(errs, ValidationError{Field: "conversation_id", Message: "conversation ID is required"})
	}

	msgType := draft.Type
	if msgType == "" {
		msgType = domain.MessageText
	}
	if !msgType.Valid() {
		errs = append(errs, ValidationError{Field: "type", Message: fmt.Sprintf("unknown message type %q", draft.Type)})
	}

	content := s.Sanitize(draft.Content)
	if content == "" {
		errs = append(errs, ValidationError{Field: "content", Message: "content is empty"})
	}
	if len([]rune(draft.Content)) > s.maxLength {
		errs = append(errs, ValidationError{Field: "content", Message: fmt.Sprintf("content exceeds %d characters", s.maxLength)})
	}

	mediaURL := strings.TrimSpace(draft.MediaURL)
	if msgType == domain.MessageImage || msgType == domain.MessageVoice {
		if err := validateMediaURL(mediaURL); err != nil {
			errs = append(errs, ValidationError{Field: "media_url", Message: err.Error()})
		}
	}

	if len(errs) > 0 {
		return nil, errs
	}

	now := s.now()
	return &domain.Message{
		ID:             domain.TempID(now),
		ConversationID: draft.ConversationID,
		SenderID:       senderID,
		ReceiverID:     draft.ReceiverID,
		Content:        content,
		Type:           msgType,
		MediaURL:       mediaURL,
		CreatedAt:      now,
		IsOptimistic:   true,
	}, nil
}

// Sanitize normalizes a content string: strips all markup and control
// characters, collapses whitespace runs, trims, and truncates to the
// configured ceiling as a last resort. Idempotent.
func (s *Sanitizer) Sanitize(content string) string {
	// Resolve entity encoding before stripping, so encoded markup like
	// &lt;script&gt; is removed as markup instead of decoding back into
	// the output afterwards.
	out := unescapeFully(content)

	// The strict policy HTML-escapes the surviving text; undo that one
	// layer since message content is stored as plain text. The input is
	// entity-free here, so the unescape cannot reintroduce a tag.
	out = html.UnescapeString(s.policy.Sanitize(out))

	out = strings.Map(func(r rune) rune {
		if r == '\n' || r == '\t' {
			return ' '
		}
		if unicode.IsControl(r) {
			return -1
		}
		return r
	}, out)

	out = whitespaceRun.ReplaceAllString(out, " ")
	out = strings.TrimSpace(out)

	if runes := []rune(out); len(runes) > s.maxLength {
		out = strings.TrimSpace(string(runes[:s.maxLength]))
	}
	return out
}

// unescapeFully resolves HTML entities to a fixed point, so that
// double-encoded input cannot smuggle markup past the strip. The bound
// only guards against pathological input; real content converges in one
// or two passes.
func unescapeFully(s string) string {
	for i := 0; i < 8; i++ {
		u := html.UnescapeString(s)
		if u == s {
			return u
		}
		s = u
	}
	return s
}

// validateMediaURL requires an HTTPS URL hosted on a trusted media host.
func validateMediaURL(raw string) error {
	if raw == "" {
		return fmt.Errorf("media URL is required for media messages")
	}
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("media URL is not a valid URL")
	}
	if u.Scheme != "https" {
		return fmt.Errorf("media URL must use https")
	}
	if !trustedMediaHosts[u.Hostname()] {
		return fmt.Errorf("media URL host %q is not trusted", u.Hostname())
	}
	return nil
}
