// Package invalidation broadcasts permission cache invalidations between
// instances over Kafka so per-process caches drop stale entries together.
package invalidation

import (
	"encoding/json"
	"fmt"
	"time"
)

// Message lists cache keys one mutation made stale.
type Message struct {
	Origin string    `json:"origin"`
	Keys   []string  `json:"keys"`
	At     time.Time `json:"at"`
}

func encode(m Message) ([]byte, error) {
	return json.Marshal(m)
}

func decode(b []byte) (Message, error) {
	var m Message
	if err := json.Unmarshal(b, &m); err != nil {
		return Message{}, fmt.Errorf("decode invalidation message: %w", err)
	}
	return m, nil
}
