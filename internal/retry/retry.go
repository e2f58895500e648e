package retry

import (
	"time"

	"github.com/wb-go/wbf/retry"
)

// DefaultStrategy is used for database statements.
var DefaultStrategy = retry.Strategy{
	Attempts: 3,
	Delay:    500 * time.Millisecond,
	Backoff:  2.0,
}

// QueueStrategy is used for kafka publish and fetch.
var QueueStrategy = retry.Strategy{
	Attempts: 3,
	Delay:    2 * time.Second,
	Backoff:  2.0,
}

// HandlerStrategy re-runs a failed kafka task before its message is committed.
var HandlerStrategy = retry.Strategy{
	Attempts: 3,
	Delay:    time.Second,
	Backoff:  2.0,
}
