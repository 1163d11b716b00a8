// Package ids generates the identifiers attached to streams and packet
// messages.
package ids

import (
	"crypto/rand"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
)

const streamPrefix = "stream-"

// NewStreamID names an anonymous stream, for example "stream-1f0c9a2e".
func NewStreamID() string {
	return streamPrefix + uuid.NewString()[:8]
}

var (
	msgMu      sync.Mutex
	msgEntropy = ulid.Monotonic(rand.Reader, 0)
	msgClock   = time.Now
)

// NewMessageID returns the ULID carried as the UUID of a packet message.
// IDs from one process sort in publish order, which keeps archived and
// replayed packets ordered by their message id.
func NewMessageID() string {
	msgMu.Lock()
	defer msgMu.Unlock()
	return ulid.MustNew(ulid.Timestamp(msgClock()), msgEntropy).String()
}

// MessageTime extracts the publish time encoded in a message id.
func MessageTime(id string) (time.Time, error) {
	parsed, err := ulid.Parse(id)
	if err != nil {
		return time.Time{}, err
	}
	return ulid.Time(parsed.Time()), nil
}
