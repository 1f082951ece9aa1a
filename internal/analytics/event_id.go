package analytics

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
)

// DeterministicEventID derives the dedup key for an event from its type,
// resolved user identifier and UTC calendar day (YYYY-MM-DD). The same
// triple always yields the same key; any change to type, user or day yields
// a different one. The unique index on conversion_events.event_id then
// makes inserts idempotent under at-least-once delivery.
func DeterministicEventID(eventType, userID, day string) string {
	input := fmt.Sprintf("%s|%s|%s",
		strings.TrimSpace(eventType),
		strings.TrimSpace(userID),
		strings.TrimSpace(day))
	h := sha256.Sum256([]byte(input))
	return "det:" + hex.EncodeToString(h[:])
}
