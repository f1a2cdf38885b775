package audit

import "github.com/sparkmeet/messaging/pkg/log"

// LogSink writes audit events as structured zerolog entries tagged
// log_type=audit, the shape the compliance pipeline ingests.
type LogSink struct{}

// NewLogSink creates a LogSink.
func NewLogSink() *LogSink {
	return &LogSink{}
}

// Write emits each event in the batch.
func (s *LogSink) Write(events []Event) error {
	for _, ev := range events {
		e := log.L().Info().
			Str(log.FieldLogType, log.LogTypeAudit).
			Str(log.FieldAction, ev.Action).
			Str(log.FieldSeverity, ev.Severity).
			Time("event_time", ev.Timestamp)
		if ev.UserID != "" {
			e = e.Str(log.FieldUserID, ev.UserID)
		}
		for k, v := range ev.Details {
			e = e.Str(k, v)
		}
		e.Msg("audit event")
	}
	return nil
}

var _ Sink = (*LogSink)(nil)
