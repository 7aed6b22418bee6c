// Package idgen generates identifiers for capture sessions, runs, events
// and requests.
//
// Components take a Generator option so tests can swap in Sequence and
// assert on stable IDs.
package idgen

import (
	"strconv"
	"sync/atomic"

	"github.com/google/uuid"
)

// Generator returns a new unique identifier on each call.
type Generator func() string

// UUIDv7 yields RFC 9562 version 7 UUIDs. They sort by creation time, so
// runs and events list in order without a separate sequence column.
func UUIDv7() Generator {
	return func() string { return uuid.Must(uuid.NewV7()).String() }
}

// Prefixed prepends prefix to every ID from gen.
func Prefixed(prefix string, gen Generator) Generator {
	return func() string { return prefix + gen() }
}

// Sequence yields prefix1, prefix2, ... It is safe for concurrent use.
func Sequence(prefix string) Generator {
	var n atomic.Int64
	return func() string { return prefix + strconv.FormatInt(n.Add(1), 10) }
}

// Default backs every prefixed generator below.
var Default = UUIDv7()

var (
	Session = Prefixed("cap_", Default)
	Run     = Prefixed("run_", Default)
	Event   = Prefixed("evt_", Default)
	Request = Prefixed("req_", Default)
	QUIC    = Prefixed("quic_", Default)
)
