// Package dispatch maps opcodes to handler descriptors and routes decoded
// packets to the execution context their descriptor demands: inline on
// the network goroutine, or queued for the global or entity tick.
package dispatch

import (
	"fmt"
	"sort"

	"github.com/hangar-project/hangar/internal/protocol"
)

// Precondition is the authentication state a packet requires.
type Precondition uint8

const (
	Unrestricted Precondition = iota
	RequiresUnauthenticated
	RequiresAuthenticated
	// TrustedSideChannel packets only arrive through the web side-channel
	// and skip per-session authentication gating.
	TrustedSideChannel
)

func (p Precondition) String() string {
	switch p {
	case Unrestricted:
		return "unrestricted"
	case RequiresUnauthenticated:
		return "requires-unauthenticated"
	case RequiresAuthenticated:
		return "requires-authenticated"
	case TrustedSideChannel:
		return "trusted-side-channel"
	default:
		return fmt.Sprintf("precondition(%d)", uint8(p))
	}
}

// Affinity names the execution context allowed to run a handler.
type Affinity uint8

const (
	// Immediate handlers run on the network goroutine that read the frame.
	Immediate Affinity = iota
	// GlobalTick handlers run only from the single global tick.
	GlobalTick
	// EntityTick handlers run only from the tick of the room or map the
	// session currently belongs to.
	EntityTick
)

func (a Affinity) String() string {
	switch a {
	case Immediate:
		return "immediate"
	case GlobalTick:
		return "global-tick"
	case EntityTick:
		return "entity-tick"
	default:
		return fmt.Sprintf("affinity(%d)", uint8(a))
	}
}

// Handler processes one packet on behalf of a client of type C.
type Handler[C any] func(c C, pkt *protocol.Packet) error

// Descriptor is the immutable registry entry for one opcode.
type Descriptor[C any] struct {
	Opcode       protocol.Opcode
	Name         string
	Precondition Precondition
	Affinity     Affinity
	Handler      Handler[C]
}

// Handled reports whether the descriptor carries a handler. Only the
// sentinel returned for unknown opcodes does not.
func (d *Descriptor[C]) Handled() bool {
	return d.Handler != nil
}

// NullName is the name of the sentinel descriptor.
const NullName = "NULL"

// Registry is the opcode table for one protocol. It is filled once at
// startup and sealed before any listener accepts; lookups after that need
// no locking.
type Registry[C any] struct {
	protocol string
	table    map[protocol.Opcode]*Descriptor[C]
	sealed   bool
}

// NewRegistry creates an empty registry for the named protocol.
func NewRegistry[C any](name string) *Registry[C] {
	return &Registry[C]{
		protocol: name,
		table:    make(map[protocol.Opcode]*Descriptor[C]),
	}
}

// Protocol returns the protocol name given at construction.
func (r *Registry[C]) Protocol() string {
	return r.protocol
}

// Register inserts or overwrites the descriptor for op. Registering after
// Seal is a programming error and panics.
func (r *Registry[C]) Register(op protocol.Opcode, name string, pre Precondition, aff Affinity, h Handler[C]) {
	if r.sealed {
		panic(fmt.Sprintf("dispatch: %s registry sealed, cannot register %s (%s)", r.protocol, name, op))
	}
	if h == nil {
		panic(fmt.Sprintf("dispatch: nil handler for %s (%s)", name, op))
	}
	r.table[op] = &Descriptor[C]{
		Opcode:       op,
		Name:         name,
		Precondition: pre,
		Affinity:     aff,
		Handler:      h,
	}
}

// Seal freezes the table.
func (r *Registry[C]) Seal() {
	r.sealed = true
}

// Sealed reports whether Seal has been called.
func (r *Registry[C]) Sealed() bool {
	return r.sealed
}

// Resolve returns the descriptor for op, or a sentinel named NULL with no
// handler, unrestricted precondition and immediate affinity. It never
// fails.
func (r *Registry[C]) Resolve(op protocol.Opcode) *Descriptor[C] {
	if d, ok := r.table[op]; ok {
		return d
	}
	return &Descriptor[C]{
		Opcode:       op,
		Name:         NullName,
		Precondition: Unrestricted,
		Affinity:     Immediate,
	}
}

// Len returns the number of registered opcodes.
func (r *Registry[C]) Len() int {
	return len(r.table)
}

// Descriptors returns the registered descriptors ordered by opcode.
func (r *Registry[C]) Descriptors() []*Descriptor[C] {
	out := make([]*Descriptor[C], 0, len(r.table))
	for _, d := range r.table {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Opcode < out[j].Opcode })
	return out
}
