package models

import "time"

// Session is a point-in-time snapshot of in-flight local-execution state,
// keyed by user identity. It enables resume-or-discard recovery after an
// interrupted run. Superseded wholesale on every write.
type Session struct {
	UserID    string     `json:"user_id"`
	Step      string     `json:"step"`
	Job       *Job       `json:"job,omitempty"`
	Quota     QuotaState `json:"quota"`
	PlanID    string     `json:"plan_id"`
	UpdatedAt time.Time  `json:"updated_at"`
}

// InFlight reports whether the session captured a batch that started but
// did not finish. Only such sessions are worth offering for recovery.
func (s *Session) InFlight() bool {
	if s.Job == nil || len(s.Job.Items) == 0 {
		return false
	}
	counts := CountItems(s.Job.Items)
	started := counts.Processing+counts.Completed+counts.Failed > 0
	return started && !counts.Settled()
}
