package audit

import (
	"sync"
	"time"

	"github.com/sparkmeet/messaging/pkg/log"
)

// Audit actions recorded by the messaging core.
const (
	ActionMessageBlocked   = "moderation.blocked"
	ActionMessageFlagged   = "moderation.flagged"
	ActionRateLimited      = "ratelimit.exceeded"
	ActionSessionRefreshed = "session.refreshed"
	ActionRefreshFailed    = "session.refresh_failed"
	ActionForcedSignOut    = "session.forced_sign_out"
	ActionSignedOut        = "session.signed_out"
	ActionHealthCheck      = "session.health_check_failed"
)

// Event severities.
const (
	SeverityLow      = "low"
	SeverityMedium   = "medium"
	SeverityHigh     = "high"
	SeverityCritical = "critical"
)

// Event is one compliance-retention record.
type Event struct {
	Action    string            `json:"action"`
	Severity  string            `json:"severity"`
	UserID    string            `json:"user_id,omitempty"`
	Details   map[string]string `json:"details,omitempty"`
	Timestamp time.Time         `json:"timestamp"`
}

// Sink receives flushed batches of audit events.
type Sink interface {
	Write(events []Event) error
}

// Recorder batches audit events and flushes them to a Sink. A batch is
// flushed when it reaches batchSize or when flushInterval elapses,
// whichever comes first. Critical events flush the whole pending batch
// immediately. Record never blocks the caller on sink I/O.
type Recorder struct {
	sink          Sink
	batchSize     int
	flushInterval time.Duration

	mu      sync.Mutex
	pending []Event
	flushCh chan struct{}
	done    chan struct{}
	closed  bool
}

// NewRecorder creates and starts a Recorder. Non-positive arguments fall
// back to batch size 10 and a 30 second interval.
func NewRecorder(sink Sink, batchSize int, flushInterval time.Duration) *Recorder {
	if batchSize <= 0 {
		batchSize = 10
	}
	if flushInterval <= 0 {
		flushInterval = 30 * time.Second
	}
	r := &Recorder{
		sink:          sink,
		batchSize:     batchSize,
		flushInterval: flushInterval,
		flushCh:       make(chan struct{}, 1),
		done:          make(chan struct{}),
	}
	go r.run()
	return r
}

// Record queues an event. Fire-and-forget: errors surface only in logs.
func (r *Recorder) Record(ev Event) {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now()
	}

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.pending = append(r.pending, ev)
	full := len(r.pending) >= r.batchSize
	r.mu.Unlock()

	if full || ev.Severity == SeverityCritical {
		r.requestFlush()
	}
}

// Flush forces a synchronous flush of all pending events.
func (r *Recorder) Flush() {
	r.flush()
}

// Close flushes remaining events and stops the background loop.
func (r *Recorder) Close() {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.closed = true
	r.mu.Unlock()

	close(r.done)
	r.flush()
}

func (r *Recorder) requestFlush() {
	select {
	case r.flushCh <- struct{}{}:
	default:
	}
}

func (r *Recorder) run() {
	ticker := time.NewTicker(r.flushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			r.flush()
		case <-r.flushCh:
			r.flush()
		case <-r.done:
			return
		}
	}
}

func (r *Recorder) flush() {
	r.mu.Lock()
	if len(r.pending) == 0 {
		r.mu.Unlock()
		return
	}
	batch := r.pending
	r.pending = nil
	r.mu.Unlock()

	if err := r.sink.Write(batch); err != nil {
		log.L().Error().Err(err).Int("events", len(batch)).Msg("audit sink write failed")
	}
}
