// Package queue is a durable, at-least-once work queue on Redis. A message is
// keyed by job id, so one job has at most one message. Dequeued messages stay
// in the queue, hidden for a lease; a worker that dies without acknowledging
// loses its lease and the message becomes visible again.
package queue

import (
	"encoding/json"
	"math"
	"time"

	"github.com/rotisserie/eris"
)

var (
	ErrDuplicate = eris.New("message already queued")
	ErrNotQueued = eris.New("message not queued")
)

// RetryPolicy bounds how often and how soon a failed job is retried.
type RetryPolicy struct {
	MaxAttempts    int           `json:"max_attempts"`
	InitialBackoff time.Duration `json:"initial_backoff"`
	MaxBackoff     time.Duration `json:"max_backoff"`
}

// DefaultRetryPolicy allows three attempts, two seconds apart and doubling.
var DefaultRetryPolicy = RetryPolicy{MaxAttempts: 3, InitialBackoff: 2 * time.Second, MaxBackoff: time.Minute}

// Backoff returns the delay before the attempt following attempt n:
// InitialBackoff * 2^(n-1), capped at MaxBackoff.
func (p RetryPolicy) Backoff(n int) time.Duration {
	if n < 1 {
		n = 1
	}
	d := float64(p.InitialBackoff) * math.Pow(2, float64(n-1))
	if p.MaxBackoff > 0 && d > float64(p.MaxBackoff) {
		return p.MaxBackoff
	}
	return time.Duration(d)
}

// Exhausted reports whether attempt n was the last one allowed.
func (p RetryPolicy) Exhausted(n int) bool {
	return n >= p.MaxAttempts
}

// Message is one unit of work. Token names the submission the message was
// queued for; settling operations given a token leave a message queued under
// another token alone.
type Message struct {
	JobID      string          `json:"job_id"`
	Token      string          `json:"token,omitempty"`
	Payload    json.RawMessage `json:"payload,omitempty"`
	Policy     RetryPolicy     `json:"policy"`
	EnqueuedAt time.Time       `json:"enqueued_at"`
}

// Delivery is a dequeued message and the delivery attempt it represents,
// starting at 1.
type Delivery struct {
	Message
	Attempt int
}
