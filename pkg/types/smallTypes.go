package types

import (
	"crypto/rand"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"strconv"
	"sync/atomic"
	"time"
)

// IDLength is the byte length of an ID; its hex form is 24 characters.
const IDLength = 12

// ID identifies an anchor. Layout: 4 byte big endian unix seconds,
// 5 byte per-process random, 3 byte counter.
type ID [IDLength]byte

var (
	processUnique [5]byte
	idCounter     atomic.Uint32
)

func init() {
	if _, err := rand.Read(processUnique[:]); err != nil {
		panic(fmt.Errorf("types: seed process unique: %w", err))
	}
	var seed [4]byte
	if _, err := rand.Read(seed[:]); err != nil {
		panic(fmt.Errorf("types: seed counter: %w", err))
	}
	idCounter.Store(binary.BigEndian.Uint32(seed[:]))
}

// NewID returns a fresh, process-unique ID.
func NewID() ID {
	var id ID
	binary.BigEndian.PutUint32(id[0:4], uint32(time.Now().Unix()))
	copy(id[4:9], processUnique[:])
	c := idCounter.Add(1)
	id[9] = byte(c >> 16)
	id[10] = byte(c >> 8)
	id[11] = byte(c)
	return id
}

// IDFromHex parses the 24 character hex form of an ID.
func IDFromHex(s string) (ID, error) {
	var id ID
	if len(s) != IDLength*2 {
		return id, fmt.Errorf("invalid id length %d: %q", len(s), s)
	}
	if _, err := hex.Decode(id[:], []byte(s)); err != nil {
		return id, fmt.Errorf("invalid id %q: %w", s, err)
	}
	return id, nil
}

func (id ID) String() string {
	return hex.EncodeToString(id[:])
}

func (id ID) Bytes() []byte {
	return id[:]
}

func (id ID) IsZero() bool {
	return id == ID{}
}

// Time is the creation second embedded in the ID.
func (id ID) Time() time.Time {
	return time.Unix(int64(binary.BigEndian.Uint32(id[0:4])), 0)
}

// AccessLevel is the permission granted on a graph entity.
type AccessLevel int

const (
	NoAccess AccessLevel = -1
	Read     AccessLevel = 0
	Connect  AccessLevel = 1
	Write    AccessLevel = 2
)

func (l AccessLevel) String() string {
	switch l {
	case NoAccess:
		return "NoAccess"
	case Read:
		return "Read"
	case Connect:
		return "Connect"
	case Write:
		return "Write"
	}
	return "AccessLevel(" + strconv.Itoa(int(l)) + ")"
}

// Clamp maps any integer onto the defined levels.
func (l AccessLevel) Clamp() AccessLevel {
	if l < NoAccess {
		return NoAccess
	}
	if l > Write {
		return Write
	}
	return l
}
