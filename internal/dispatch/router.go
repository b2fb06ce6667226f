package dispatch

import (
	"errors"
	"fmt"
	"runtime/debug"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/hangar-project/hangar/internal/protocol"
)

var (
	// ErrUnknownOpcode is returned when a packet resolves to the NULL
	// descriptor. Non-fatal: the frame is logged and skipped.
	ErrUnknownOpcode = errors.New("unknown opcode")

	// ErrPreconditionViolation is returned when the client's
	// authentication state or the packet's origin does not satisfy the
	// descriptor. Non-fatal.
	ErrPreconditionViolation = errors.New("precondition violation")

	// ErrQueueClosed is returned when a tick-bound packet arrives for a
	// session whose queues were already closed.
	ErrQueueClosed = errors.New("queue closed")

	// ErrHandlerPanic wraps a recovered handler panic.
	ErrHandlerPanic = errors.New("handler panic")
)

// Client is the per-connection state the router consults.
type Client interface {
	// Authenticated reports whether the login handshake has completed.
	Authenticated() bool
	// Enqueue hands a job to the queue feeding the given tick. It returns
	// false when the session is gone.
	Enqueue(a Affinity, j Job) bool
}

// Observer receives routing outcomes, typically for metrics.
type Observer interface {
	Routed(proto string, a Affinity)
	Dropped(proto, reason string)
}

// Router classifies decoded packets and either runs them inline or
// queues them for a tick. Handlers tagged GlobalTick or EntityTick are
// never invoked by Route itself.
type Router[C Client] struct {
	registry *Registry[C]
	observer Observer
	logger   zerolog.Logger
}

// NewRouter creates a router over a sealed registry.
func NewRouter[C Client](reg *Registry[C], obs Observer) *Router[C] {
	if !reg.Sealed() {
		panic("dispatch: router built over an unsealed registry")
	}
	return &Router[C]{
		registry: reg,
		observer: obs,
		logger:   log.With().Str("component", "dispatch").Str("protocol", reg.Protocol()).Logger(),
	}
}

// Registry returns the underlying table.
func (r *Router[C]) Registry() *Registry[C] {
	return r.registry
}

// Classify resolves the packet and checks the descriptor's precondition
// against the client. It returns the descriptor and its affinity, or an
// error wrapping ErrUnknownOpcode or ErrPreconditionViolation.
func (r *Router[C]) Classify(c C, pkt *protocol.Packet) (*Descriptor[C], Affinity, error) {
	d := r.registry.Resolve(pkt.Opcode)
	if !d.Handled() {
		return d, Immediate, fmt.Errorf("%w: %s", ErrUnknownOpcode, pkt.Opcode)
	}
	if err := checkPrecondition(d.Precondition, c.Authenticated(), pkt.Trusted); err != nil {
		return d, d.Affinity, fmt.Errorf("%s (%s): %w", d.Name, pkt.Opcode, err)
	}
	return d, d.Affinity, nil
}

func checkPrecondition(pre Precondition, authenticated, trusted bool) error {
	switch {
	case trusted && pre != TrustedSideChannel:
		return fmt.Errorf("%w: trusted frame for %s handler", ErrPreconditionViolation, pre)
	case !trusted && pre == TrustedSideChannel:
		return fmt.Errorf("%w: untrusted frame for side-channel handler", ErrPreconditionViolation)
	case pre == RequiresAuthenticated && !authenticated:
		return fmt.Errorf("%w: not authenticated", ErrPreconditionViolation)
	case pre == RequiresUnauthenticated && authenticated:
		return fmt.Errorf("%w: already authenticated", ErrPreconditionViolation)
	}
	return nil
}

// Route classifies pkt and dispatches it. Immediate handlers run on the
// calling goroutine; everything else is queued through c.Enqueue.
func (r *Router[C]) Route(c C, pkt *protocol.Packet) error {
	d, aff, err := r.Classify(c, pkt)
	if err != nil {
		r.drop(err)
		return err
	}

	if aff == Immediate {
		r.routed(aff)
		return r.Invoke(d, c, pkt)
	}

	job := Job{
		Name:   d.Name,
		Opcode: d.Opcode,
		Run: func() error {
			return r.Invoke(d, c, pkt)
		},
	}
	if !c.Enqueue(aff, job) {
		r.drop(ErrQueueClosed)
		return fmt.Errorf("%s (%s): %w", d.Name, pkt.Opcode, ErrQueueClosed)
	}
	r.routed(aff)
	return nil
}

// Invoke runs a descriptor's handler, converting a panic into an error.
func (r *Router[C]) Invoke(d *Descriptor[C], c C, pkt *protocol.Packet) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error().
				Str("handler", d.Name).
				Str("opcode", pkt.Opcode.String()).
				Interface("panic", rec).
				Bytes("stack", debug.Stack()).
				Msg("Handler panic recovered")
			err = fmt.Errorf("%w: %s (%s): %v", ErrHandlerPanic, d.Name, pkt.Opcode, rec)
		}
	}()
	if err := d.Handler(c, pkt); err != nil {
		return fmt.Errorf("%s: %w", d.Name, err)
	}
	return nil
}

func (r *Router[C]) routed(a Affinity) {
	if r.observer != nil {
		r.observer.Routed(r.registry.Protocol(), a)
	}
}

func (r *Router[C]) drop(err error) {
	if r.observer == nil {
		return
	}
	switch {
	case errors.Is(err, ErrUnknownOpcode):
		r.observer.Dropped(r.registry.Protocol(), "unknown_opcode")
	case errors.Is(err, ErrPreconditionViolation):
		r.observer.Dropped(r.registry.Protocol(), "precondition")
	case errors.Is(err, ErrQueueClosed):
		r.observer.Dropped(r.registry.Protocol(), "queue_closed")
	}
}
