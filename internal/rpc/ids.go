package rpc

import (
	"strconv"
	"sync/atomic"
)

// IDSource allocates request identifiers. The session layer holds a
// single source for the lifetime of the process and threads it through
// every replacement Client, so identifiers are never reused even across
// reconnects and a stale reply can never match a newer call.
type IDSource struct {
	next atomic.Uint64
}

// NewIDSource returns a source whose first identifier is "0".
func NewIDSource() *IDSource {
	return &IDSource{}
}

// Next returns the next identifier as a decimal string.
func (s *IDSource) Next() string {
	return strconv.FormatUint(s.next.Add(1)-1, 10)
}
