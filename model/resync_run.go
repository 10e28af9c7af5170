package model

import "time"

// Resync run outcomes.
const (
	RunSucceeded = "succeeded"
	RunPartial   = "partial"
	RunFailed    = "failed"
	RunRejected  = "rejected"
)

// ResyncRun is one /backup invocation as kept in the run history.
type ResyncRun struct {
	ID                 int64     `db:"id"`
	SourceGuildID      string    `db:"source_guild_id"`
	DestinationGuildID string    `db:"destination_guild_id"`
	InvokerID          string    `db:"invoker_id"`
	Status             string    `db:"status"`
	Created            int       `db:"created"`
	Failed             int       `db:"failed"`
	Summary            string    `db:"summary"`
	Error              string    `db:"error"`
	StartedAt          time.Time `db:"started_at"`
	FinishedAt         time.Time `db:"finished_at"`
}

// Duration is how long the run took.
func (r ResyncRun) Duration() time.Duration {
	return r.FinishedAt.Sub(r.StartedAt)
}
