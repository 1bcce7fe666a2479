package transport

import (
	"sync/atomic"

	"github.com/google/uuid"

	"lucid-rpc/message"
)

// IDGenerator hands out request ids. Ids must not repeat while a previous use is
// still outstanding on the same connection.
type IDGenerator interface {
	Next() message.ID
}

// CounterGenerator yields 1, 2, 3, ... as numeric ids. It is the default.
type CounterGenerator struct {
	n atomic.Int64
}

func (g *CounterGenerator) Next() message.ID {
	return message.IntID(g.n.Add(1))
}

// UUIDGenerator yields random UUID strings, for callers that share ids with
// other systems (logs, traces) and want them globally unique.
type UUIDGenerator struct{}

func (UUIDGenerator) Next() message.ID {
	return message.StringID(uuid.NewString())
}
