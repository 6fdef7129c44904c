// Package progress is the in-process event bus carrying analysis pipeline
// updates to API subscribers. Events for a session are retained in order,
// so a subscriber that attaches mid-run first replays everything that
// already happened and then follows live.
package progress

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"
)

// EventKind names one class of pipeline update.
type EventKind string

const (
	EventAgentStarted    EventKind = "agent_started"
	EventAgentFinished   EventKind = "agent_finished"
	EventSectionAppended EventKind = "section_appended"
	EventPhaseChanged    EventKind = "phase_changed"
	EventTerminal        EventKind = "terminal"
	// EventLagged marks a gap: the subscriber was too slow and events
	// between the replayed history and the live stream were dropped.
	EventLagged EventKind = "lagged"
)

// Event is one pipeline update for one session.
type Event struct {
	SessionID string         `json:"session_id"`
	Seq       int            `json:"seq"`
	Timestamp time.Time      `json:"timestamp"`
	Kind      EventKind      `json:"kind"`
	Payload   map[string]any `json:"payload,omitempty"`
}

// Terminal reports whether this event closes the session stream.
func (e Event) Terminal() bool {
	return e.Kind == EventTerminal
}

const (
	// subscriberBuffer is the per-subscriber channel depth. A subscriber
	// that falls further behind gets a lagged marker instead of blocking
	// the pipeline.
	subscriberBuffer = 64

	// defaultLinger keeps a finished session's history around so clients
	// that reconnect just after completion still see the terminal event.
	defaultLinger = 30 * time.Second
)

type subscriber struct {
	ch     chan Event
	lagged atomic.Bool
}

type session struct {
	mu      sync.Mutex
	history []Event
	subs    map[*subscriber]struct{}
	done    bool
	nextSeq int
}

// Bus fans pipeline events out to per-session subscribers.
type Bus struct {
	mu       sync.Mutex
	sessions map[string]*session
	linger   time.Duration

	// timeAfter is swapped in tests to avoid real linger waits.
	timeAfter func(d time.Duration, fn func()) *time.Timer
}

// NewBus creates an empty bus with the default linger window.
func NewBus() *Bus {
	return &Bus{
		sessions: make(map[string]*session),
		linger:   defaultLinger,
		timeAfter: func(d time.Duration, fn func()) *time.Timer {
			return time.AfterFunc(d, fn)
		},
	}
}

func (b *Bus) session(sessionID string, create bool) *session {
	b.mu.Lock()
	defer b.mu.Unlock()
	s, ok := b.sessions[sessionID]
	if !ok && create {
		s = &session{subs: make(map[*subscriber]struct{})}
		b.sessions[sessionID] = s
	}
	return s
}

// Publish appends an event to the session's history and delivers it to all
// live subscribers. Publishing never blocks on slow subscribers: a full
// buffer earns the subscriber a lagged marker on its next drain instead.
// A terminal event closes all subscriber channels and schedules the
// session's history for removal after the linger window.
func (b *Bus) Publish(sessionID string, kind EventKind, payload map[string]any) Event {
	s := b.session(sessionID, true)

	s.mu.Lock()
	if s.done {
		s.mu.Unlock()
		log.Warn().Str("session_id", sessionID).Str("kind", string(kind)).Msg("Event published after terminal, dropped")
		return Event{}
	}

	ev := Event{
		SessionID: sessionID,
		Seq:       s.nextSeq,
		Timestamp: time.Now().UTC(),
		Kind:      kind,
		Payload:   payload,
	}
	s.nextSeq++
	s.history = append(s.history, ev)

	for sub := range s.subs {
		select {
		case sub.ch <- ev:
		default:
			if sub.lagged.CompareAndSwap(false, true) {
				log.Warn().Str("session_id", sessionID).Msg("Slow progress subscriber, marking lagged")
			}
		}
	}

	if ev.Terminal() {
		s.done = true
		for sub := range s.subs {
			close(sub.ch)
		}
		s.subs = make(map[*subscriber]struct{})
		b.timeAfter(b.linger, func() { b.remove(sessionID) })
	}
	s.mu.Unlock()

	return ev
}

func (b *Bus) remove(sessionID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.sessions, sessionID)
}

// Subscribe attaches to a session's event stream. The returned channel
// first replays the session's full history and then carries live events;
// it is closed after the terminal event. cancel detaches the subscriber
// and must be called when the consumer goes away.
//
// Subscribing to an unknown session returns an empty open stream; the
// caller is expected to have checked the session exists.
func (b *Bus) Subscribe(sessionID string) (<-chan Event, func()) {
	s := b.session(sessionID, true)

	sub := &subscriber{ch: make(chan Event, subscriberBuffer)}
	out := make(chan Event, subscriberBuffer)

	s.mu.Lock()
	history := make([]Event, len(s.history))
	copy(history, s.history)
	done := s.done
	if !done {
		s.subs[sub] = struct{}{}
	}
	s.mu.Unlock()

	cancel := func() {
		s.mu.Lock()
		delete(s.subs, sub)
		s.mu.Unlock()
	}

	go func() {
		defer close(out)
		for _, ev := range history {
			out <- ev
		}
		if done {
			return
		}
		for ev := range sub.ch {
			if sub.lagged.CompareAndSwap(true, false) {
				// The gap is behind us; tell the client before resuming.
				out <- Event{
					SessionID: sessionID,
					Timestamp: time.Now().UTC(),
					Kind:      EventLagged,
				}
			}
			out <- ev
		}
	}()

	return out, cancel
}

// History returns a copy of the events recorded for a session so far.
func (b *Bus) History(sessionID string) []Event {
	s := b.session(sessionID, false)
	if s == nil {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Event, len(s.history))
	copy(out, s.history)
	return out
}
