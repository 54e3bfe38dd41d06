// Package identity generates the 28-byte printable identifiers the bus
// uses both for its own process-wide server id (carried in JSON/proto
// hello headers for loop detection) and for the per-peer ids shown in log
// lines.
package identity

import (
	"encoding/hex"

	"github.com/google/uuid"

	"adsbus/internal/packet"
)

// New returns a fresh 28-byte printable identifier, derived from a random
// UUIDv4. Hex-encoding the UUID's 16 raw bytes yields 32 hex characters;
// the bus only needs 28, which also keeps the id comfortably below the
// UUID's own 36-character canonical form used elsewhere in the ecosystem.
func New() packet.SourceID {
	u := uuid.New()
	encoded := hex.EncodeToString(u[:])
	id := packet.SourceID(encoded[:packet.SourceIDLen])
	if !id.Valid() {
		// Invariant violation: hex output is never anything but [0-9a-f].
		panic("identity: generated id failed validation")
	}
	return id
}
