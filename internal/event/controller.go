// Package event tracks the instruments touched by the current market event
// so they can be committed together when the event boundary arrives.
package event

// CommitFunc commits the pending event of one instrument.
type CommitFunc func(securityID int32)

// Controller is the event batch log of a channel.
type Controller interface {
	// LogSecurity records that securityID was updated in the current event.
	LogSecurity(securityID int32)
	// Commit calls fn once per distinct logged security and clears the log.
	Commit(fn CommitFunc)
	// Reset clears the log without committing.
	Reset()
	// Len returns the number of distinct logged securities.
	Len() int
}

// InMemoryController is a Controller backed by a set. Commit order follows
// first insertion, which keeps commits deterministic.
type InMemoryController struct {
	seen  map[int32]struct{}
	order []int32
}

// NewInMemoryController creates an empty event log.
func NewInMemoryController() *InMemoryController {
	return &InMemoryController{
		seen:  make(map[int32]struct{}, 64),
		order: make([]int32, 0, 64),
	}
}

func (c *InMemoryController) LogSecurity(securityID int32) {
	if _, ok := c.seen[securityID]; ok {
		return
	}
	c.seen[securityID] = struct{}{}
	c.order = append(c.order, securityID)
}

func (c *InMemoryController) Commit(fn CommitFunc) {
	for _, id := range c.order {
		fn(id)
	}
	c.Reset()
}

func (c *InMemoryController) Reset() {
	clear(c.seen)
	c.order = c.order[:0]
}

func (c *InMemoryController) Len() int {
	return len(c.order)
}
