package notifier

import (
	"time"

	kit "reportd/internal/transport"
)

// Config controls the async notification pipeline.
type Config struct {
	Enabled   bool
	OnSuccess bool

	Target  kit.ChatTarget
	Channel string

	QueueSize     int
	RatePerMinute int
	RetryMax      int
	RetryBase     time.Duration
	SendTimeout   time.Duration

	// Host is shown in alert headers so several runners can share one chat.
	Host string
}

type HistoryItem struct {
	At   time.Time `json:"at"`
	Text string    `json:"text"`
	Err  string    `json:"error,omitempty"`
}

// Stats is a point-in-time view for the status endpoint.
type Stats struct {
	Enabled bool          `json:"enabled"`
	Queued  int           `json:"queued"`
	Sent    uint64        `json:"sent"`
	Failed  uint64        `json:"failed"`
	Dropped uint64        `json:"dropped"`
	Breaker string        `json:"breaker"`
	Recent  []HistoryItem `json:"recent,omitempty"`
}

const (
	defaultQueueSize     = 32
	defaultRatePerMinute = 20
	defaultRetryMax      = 2
	defaultRetryBase     = 2 * time.Second
	defaultSendTimeout   = 15 * time.Second
	historyLimit         = 20
)
