package events

import (
	"sync"

	"conductor/core/errors"
)

// Emitter accepts callback events.
type Emitter interface {
	Emit(ev CallbackEvent) error
}

// Stream is the single ordered event stream of a session.
// Producers never block on the consumer: events are queued in FIFO order and
// handed to the reader as fast as it drains them.
type Stream struct {
	in   chan CallbackEvent
	out  chan CallbackEvent
	quit chan struct{}
	once sync.Once
}

// NewStream returns a running stream. buffer sizes the inbound channel.
func NewStream(buffer int) *Stream {
	if buffer < 1 {
		buffer = 1
	}
	s := &Stream{
		in:   make(chan CallbackEvent, buffer),
		out:  make(chan CallbackEvent),
		quit: make(chan struct{}),
	}
	go s.pump()
	return s
}

// Events returns the consumer side. It is closed after Close once every
// previously emitted event has been delivered.
func (s *Stream) Events() <-chan CallbackEvent {
	return s.out
}

// Emit queues ev. It fails only once the stream is closed.
func (s *Stream) Emit(ev CallbackEvent) error {
	select {
	case <-s.quit:
		return errors.ErrStreamClosed
	default:
	}
	select {
	case s.in <- ev:
		return nil
	case <-s.quit:
		return errors.ErrStreamClosed
	}
}

// Close stops accepting events. Safe to call more than once.
func (s *Stream) Close() {
	s.once.Do(func() { close(s.quit) })
}

func (s *Stream) pump() {
	defer close(s.out)
	var queue []CallbackEvent
	for {
		var out chan CallbackEvent
		var next CallbackEvent
		if len(queue) > 0 {
			out = s.out
			next = queue[0]
		}
		select {
		case ev := <-s.in:
			queue = append(queue, ev)
		case out <- next:
			queue[0] = nil
			queue = queue[1:]
		case <-s.quit:
			s.flush(queue)
			return
		}
	}
}

// flush delivers whatever was accepted before Close.
func (s *Stream) flush(queue []CallbackEvent) {
	for drained := false; !drained; {
		select {
		case ev := <-s.in:
			queue = append(queue, ev)
		default:
			drained = true
		}
	}
	for _, ev := range queue {
		s.out <- ev
	}
}
