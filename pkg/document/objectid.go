package document

import (
	"crypto/rand"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"sync/atomic"
	"time"
)

// ObjectID is a 12-byte identifier assigned to documents inserted without
// an explicit _id. The layout is a big-endian unix timestamp in seconds
// (4 bytes), a per-process random value (5 bytes), and a monotonically
// increasing counter (3 bytes), so ids generated by one process never
// collide and sort roughly by creation time.
type ObjectID [12]byte

var (
	objectIDCounter uint32
	processUnique   [5]byte
)

func init() {
	rand.Read(processUnique[:])
}

// NewObjectID returns a fresh ObjectID
func NewObjectID() ObjectID {
	var id ObjectID

	binary.BigEndian.PutUint32(id[0:4], uint32(time.Now().Unix()))
	copy(id[4:9], processUnique[:])

	counter := atomic.AddUint32(&objectIDCounter, 1)
	id[9] = byte(counter >> 16)
	id[10] = byte(counter >> 8)
	id[11] = byte(counter)

	return id
}

// ObjectIDFromHex parses a 24-character hex string into an ObjectID
func ObjectIDFromHex(s string) (ObjectID, error) {
	var id ObjectID

	if len(s) != 24 {
		return id, fmt.Errorf("object id hex must be 24 characters, got %d", len(s))
	}

	b, err := hex.DecodeString(s)
	if err != nil {
		return id, fmt.Errorf("object id hex: %w", err)
	}

	copy(id[:], b)
	return id, nil
}

// Hex returns the id as a lowercase hex string
func (id ObjectID) Hex() string {
	return hex.EncodeToString(id[:])
}

func (id ObjectID) String() string {
	return id.Hex()
}

// Timestamp returns the creation time embedded in the id, at second
// resolution
func (id ObjectID) Timestamp() time.Time {
	return time.Unix(int64(binary.BigEndian.Uint32(id[0:4])), 0)
}

// IsZero reports whether the id is unset
func (id ObjectID) IsZero() bool {
	return id == ObjectID{}
}
