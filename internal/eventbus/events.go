package eventbus

import (
	"time"

	"reportd/internal/job"
)

// Event types published by the service.
const (
	TypeJobStarted     = "job.started"
	TypeJobFinished    = "job.finished"
	TypeDayRollover    = "day.rollover"
	TypePersistFailed  = "state.persist_failed"
	TypeConfigReloaded = "config.reloaded"
)

// JobStarted is the Data of a TypeJobStarted event.
type JobStarted struct {
	Slot    string
	Trigger string
	At      time.Time
}

// JobFinished is the Data of a TypeJobFinished event.
type JobFinished struct {
	Trigger string
	Outcome job.Outcome
}

// DayRollover is the Data of a TypeDayRollover event.
type DayRollover struct {
	From string
	To   string
}

// PersistFailed is the Data of a TypePersistFailed event.
type PersistFailed struct {
	Day string
	Err error
}

// ConfigReloaded is the Data of a TypeConfigReloaded event.
type ConfigReloaded struct {
	Summary string
	Restart []string // settings that only take effect after a restart
}
