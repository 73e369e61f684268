package chat

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/rickgao/docchat/internal/connection"
	"github.com/rickgao/docchat/internal/protocol"
)

// Event names used by the backend.
const (
	EventServerReady  = "server_ready"
	EventUserQuestion = "user_question"
	EventBotChunk     = "bot_chunk"
	EventBotDone      = "bot_done"
)

var (
	ErrEmptyQuestion = errors.New("question is empty")
	ErrDisconnected  = errors.New("socket disconnected before the answer completed")
)

// Emitter is the part of the shared socket a chat exchange needs.
type Emitter interface {
	On(event string, fn connection.Handler) connection.Listener
	Off(event string, listeners ...connection.Listener)
	Emit(event string, args ...any) error
}

// Question is a user question, optionally scoped to one document.
type Question struct {
	Text       string
	DocumentID *uuid.UUID
}

type questionPayload struct {
	Question   string  `json:"question"`
	DocumentID *string `json:"document_id"`
}

type chunkPayload struct {
	Text string `json:"text"`
}

type readyPayload struct {
	OK bool `json:"ok"`
}

// Ask sends q and collects the streamed answer. onChunk, if set, is called
// with each piece of text on the calling goroutine as it arrives. The full
// answer is returned once the server signals completion.
func Ask(ctx context.Context, em Emitter, q Question, onChunk func(string)) (string, error) {
	text := strings.TrimSpace(q.Text)
	if text == "" {
		return "", ErrEmptyQuestion
	}

	chunks := make(chan string, 64)
	done := make(chan struct{})
	lost := make(chan string, 1)
	stop := make(chan struct{})
	defer close(stop)

	var doneOnce sync.Once
	l := &registrations{em: em}
	defer l.release()

	l.on(EventBotChunk, func(ev protocol.Event) {
		var p chunkPayload
		if err := ev.Bind(0, &p); err != nil {
			return
		}
		select {
		case chunks <- p.Text:
		case <-stop:
		}
	})
	l.on(EventBotDone, func(protocol.Event) {
		doneOnce.Do(func() { close(done) })
	})
	l.on(connection.EventDisconnect, func(ev protocol.Event) {
		var reason string
		ev.Bind(0, &reason)
		select {
		case lost <- reason:
		default:
		}
	})
	l.on(connection.EventConnectError, func(ev protocol.Event) {
		var data protocol.ConnectErrorData
		ev.Bind(0, &data)
		select {
		case lost <- data.Message:
		default:
		}
	})

	payload := questionPayload{Question: text}
	if q.DocumentID != nil {
		id := q.DocumentID.String()
		payload.DocumentID = &id
	}
	if err := em.Emit(EventUserQuestion, payload); err != nil {
		return "", fmt.Errorf("send question: %w", err)
	}

	var answer strings.Builder
	take := func(piece string) {
		answer.WriteString(piece)
		if onChunk != nil {
			onChunk(piece)
		}
	}

	// Chunks dispatched before bot_done or a disconnect are already queued.
	flush := func() {
		for {
			select {
			case piece := <-chunks:
				take(piece)
			default:
				return
			}
		}
	}

	for {
		select {
		case piece := <-chunks:
			take(piece)
		case <-done:
			flush()
			return answer.String(), nil
		case reason := <-lost:
			flush()
			return answer.String(), fmt.Errorf("%w: %s", ErrDisconnected, reason)
		case <-ctx.Done():
			return answer.String(), ctx.Err()
		}
	}
}

// OnReady registers fn for the server's greeting, which reports whether the
// backend is ready to answer.
func OnReady(em Emitter, fn func(ok bool)) connection.Listener {
	return em.On(EventServerReady, ReadyHandler(fn))
}

// ReadyHandler adapts fn to a server_ready listener. A malformed greeting
// counts as not ready.
func ReadyHandler(fn func(ok bool)) connection.Handler {
	return func(ev protocol.Event) {
		var p readyPayload
		if err := ev.Bind(0, &p); err != nil {
			fn(false)
			return
		}
		fn(p.OK)
	}
}

// registrations removes every listener it added on release.
type registrations struct {
	em  Emitter
	ids map[string][]connection.Listener
}

func (r *registrations) on(event string, fn connection.Handler) {
	if r.ids == nil {
		r.ids = make(map[string][]connection.Listener)
	}
	r.ids[event] = append(r.ids[event], r.em.On(event, fn))
}

func (r *registrations) release() {
	for event, ids := range r.ids {
		r.em.Off(event, ids...)
	}
}
