package instrument

import (
	"sort"
	"sync"

	"mdp_go/internal/domain"
	"mdp_go/internal/mdp"
)

// Registry holds the instrument controllers of one channel, keyed by
// security id.
type Registry struct {
	channelID int
	onUpdate  UpdateFunc

	mu          sync.RWMutex
	controllers map[int32]*Controller
}

// NewRegistry creates an empty registry. onUpdate receives every commit of
// every instrument and may be nil.
func NewRegistry(channelID int, onUpdate UpdateFunc) *Registry {
	return &Registry{
		channelID:   channelID,
		onUpdate:    onUpdate,
		controllers: make(map[int32]*Controller),
	}
}

// Find returns the controller of securityID, nil if it is not defined.
func (r *Registry) Find(securityID int32) *Controller {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.controllers[securityID]
}

// Upsert creates the controller of a security or refreshes its definition.
func (r *Registry) Upsert(def domain.SecurityDefinition) *Controller {
	def.ChannelID = r.channelID

	r.mu.Lock()
	defer r.mu.Unlock()
	if c, ok := r.controllers[def.SecurityID]; ok {
		c.define(def)
		return c
	}
	c := newController(def, r.onUpdate)
	r.controllers[def.SecurityID] = c
	return c
}

// Load adds definitions restored from storage.
func (r *Registry) Load(defs []domain.SecurityDefinition) {
	for _, def := range defs {
		r.Upsert(def)
	}
}

// OnSecurityDefinition decodes a definition message and upserts it. The
// second result is false when the message carries no security id.
func (r *Registry) OnSecurityDefinition(typ *mdp.MessageType, msg mdp.Message) (domain.SecurityDefinition, bool) {
	def := DefinitionFromMessage(r.channelID, typ, msg)
	if def.SecurityID == 0 {
		return def, false
	}
	r.Upsert(def)
	return def, true
}

// ResetAll resets the state of every instrument.
func (r *Registry) ResetAll() {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, c := range r.controllers {
		c.Reset()
	}
}

// Len returns the number of defined instruments.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.controllers)
}

// SecurityIDs returns the defined security ids in ascending order.
func (r *Registry) SecurityIDs() []int32 {
	r.mu.RLock()
	ids := make([]int32, 0, len(r.controllers))
	for id := range r.controllers {
		ids = append(ids, id)
	}
	r.mu.RUnlock()

	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// DefinitionFromMessage extracts reference data from a security definition
// message.
func DefinitionFromMessage(channelID int, typ *mdp.MessageType, msg mdp.Message) domain.SecurityDefinition {
	return domain.SecurityDefinition{
		SecurityID:    typ.SecurityID(msg),
		ChannelID:     channelID,
		Symbol:        typ.Symbol(msg),
		SecurityGroup: typ.SecurityGroup(msg),
		Asset:         typ.Asset(msg),
	}
}
