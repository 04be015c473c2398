// Package cues streams presentation cues and engine events to websocket
// subscribers. The hub is fed from the tick goroutine and never blocks it.
package cues

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"mapkit/internal/protocol"
	"mapkit/internal/sim/engine"
	"mapkit/internal/sim/host"
	"mapkit/internal/sim/space"
)

type subscriber struct {
	id  string
	out chan []byte

	mu     sync.Mutex
	actor  space.ActorID
	events bool
}

func (s *subscriber) wants(actor space.ActorID, event bool) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if event && !s.events {
		return false
	}
	return s.actor == "" || actor == "" || s.actor == actor
}

func (s *subscriber) set(sub protocol.SubscribeMsg) {
	s.mu.Lock()
	s.actor = sub.Actor
	s.events = sub.Events
	s.mu.Unlock()
}

type Hub struct {
	log *log.Logger
	// Tick reports the engine tick stamped on cues.
	Tick func() uint64
	// Welcome fills world details into the WELCOME message.
	Welcome func(*protocol.WelcomeMsg)
	// AllowRemote disables the loopback check.
	AllowRemote bool

	upgrader websocket.Upgrader
	nextID   atomic.Uint64
	drops    atomic.Uint64

	mu   sync.RWMutex
	subs map[string]*subscriber
}

func NewHub(logger *log.Logger) *Hub {
	if logger == nil {
		logger = log.Default()
	}
	return &Hub{
		log: logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4 * 1024,
			WriteBufferSize: 64 * 1024,
			CheckOrigin:     func(r *http.Request) bool { return true }, // dev default
		},
		subs: map[string]*subscriber{},
	}
}

func (h *Hub) tick() uint64 {
	if h.Tick == nil {
		return 0
	}
	return h.Tick()
}

// Cue implements host.Sink.
func (h *Hub) Cue(c host.Cue) {
	if h.Len() == 0 {
		return
	}
	b, err := json.Marshal(protocol.NewCue(h.tick(), c))
	if err != nil {
		return
	}
	h.broadcast(c.Actor, false, b)
}

// WriteEvent implements engine.EventSink.
func (h *Hub) WriteEvent(ev engine.Event) error {
	if h.Len() == 0 {
		return nil
	}
	b, err := json.Marshal(protocol.NewEvent(ev))
	if err != nil {
		return err
	}
	h.broadcast(ev.Actor, true, b)
	return nil
}

func (h *Hub) broadcast(actor space.ActorID, event bool, b []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, s := range h.subs {
		if !s.wants(actor, event) {
			continue
		}
		select {
		case s.out <- b:
		default:
			// Slow subscriber; cues are advisory.
			h.drops.Add(1)
		}
	}
}

func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

func (h *Hub) Drops() uint64 { return h.drops.Load() }

func (h *Hub) add(s *subscriber) {
	h.mu.Lock()
	h.subs[s.id] = s
	h.mu.Unlock()
}

func (h *Hub) remove(id string) {
	h.mu.Lock()
	delete(h.subs, id)
	h.mu.Unlock()
}

func (h *Hub) WSHandler() http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		if !h.AllowRemote && !IsLoopbackRemote(r.RemoteAddr) {
			http.Error(rw, "forbidden", http.StatusForbidden)
			return
		}

		conn, err := h.upgrader.Upgrade(rw, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		// Handshake: must send SUBSCRIBE first.
		_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return
		}
		sub, ok := decodeSubscribe(msg)
		if !ok {
			_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "expected SUBSCRIBE"), time.Now().Add(time.Second))
			return
		}

		s := &subscriber{
			id:  fmt.Sprintf("S%d", h.nextID.Add(1)),
			out: make(chan []byte, 256),
		}
		s.set(sub)

		welcome := protocol.WelcomeMsg{
			Type:            protocol.TypeWelcome,
			ProtocolVersion: protocol.Version,
			SessionID:       s.id,
			Tick:            h.tick(),
		}
		if h.Welcome != nil {
			h.Welcome(&welcome)
		}
		b, _ := json.Marshal(welcome)
		_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
		if err := conn.WriteMessage(websocket.TextMessage, b); err != nil {
			return
		}

		h.add(s)
		defer h.remove(s.id)

		ctx, cancel := context.WithCancel(r.Context())
		defer cancel()

		// Writer goroutine.
		writeErr := make(chan error, 1)
		go func() {
			for {
				select {
				case <-ctx.Done():
					writeErr <- ctx.Err()
					return
				case b := <-s.out:
					_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
					if err := conn.WriteMessage(websocket.TextMessage, b); err != nil {
						writeErr <- err
						return
					}
				}
			}
		}()

		// Reader loop: allow SUBSCRIBE updates.
		for {
			_ = conn.SetReadDeadline(time.Now().Add(60 * time.Second))
			_, msg, err := conn.ReadMessage()
			if err != nil {
				break
			}
			if sub, ok := decodeSubscribe(msg); ok {
				s.set(sub)
			}
		}

		cancel()
		_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye"), time.Now().Add(time.Second))

		select {
		case <-writeErr:
		case <-time.After(500 * time.Millisecond):
		}
	}
}

func decodeSubscribe(msg []byte) (protocol.SubscribeMsg, bool) {
	var sub protocol.SubscribeMsg
	if err := json.Unmarshal(msg, &sub); err != nil {
		return sub, false
	}
	if sub.Type != protocol.TypeSubscribe || sub.ProtocolVersion != protocol.Version {
		return sub, false
	}
	sub.Actor = space.ActorID(strings.TrimSpace(string(sub.Actor)))
	return sub, true
}

func IsLoopbackRemote(remoteAddr string) bool {
	name := remoteAddr
	if h, _, err := net.SplitHostPort(remoteAddr); err == nil {
		name = h
	}
	name = strings.TrimPrefix(name, "[")
	name = strings.TrimSuffix(name, "]")
	ip := net.ParseIP(name)
	return ip != nil && ip.IsLoopback()
}
