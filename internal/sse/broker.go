// Package sse implements a Server-Sent Events broker for real-time updates.
package sse

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync/atomic"
	"time"
)

// Event represents an SSE event to broadcast.
type Event struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

// Event types sent to clients.
const (
	TypeDiaryCreated  = "diary.created"
	TypeDiaryUpdated  = "diary.updated"
	TypeDiaryDeleted  = "diary.deleted"
	TypeSheetsUpdated = "sheets.updated"
)

type changeReq struct {
	kind string
	path string
}

// Broker manages SSE client connections and broadcasts events.
//
// Concurrency model: a single internal event loop (goroutine) owns mutable state
// (clients and the sheets throttle). Public methods communicate with this loop
// through channels, so no mutexes are required.
type Broker struct {
	sheetsMin time.Duration

	subscribeCh   chan chan []byte
	unsubscribeCh chan chan []byte
	publishCh     chan Event
	diaryCh       chan changeReq
	sheetsCh      chan string
	countReqCh    chan chan int

	stopCh  chan struct{}
	stopped chan struct{}
	closed  atomic.Bool
}

// NewBroker creates a new SSE broker. Sheet refresh events are sent at most
// once per sheetsThrottle; a change inside the window is delivered when it
// closes.
func NewBroker(sheetsThrottle time.Duration) *Broker {
	if sheetsThrottle <= 0 {
		sheetsThrottle = 2 * time.Second
	}

	b := &Broker{
		sheetsMin:     sheetsThrottle,
		subscribeCh:   make(chan chan []byte),
		unsubscribeCh: make(chan chan []byte),
		publishCh:     make(chan Event, 256),
		diaryCh:       make(chan changeReq, 256),
		sheetsCh:      make(chan string, 256),
		countReqCh:    make(chan chan int),
		stopCh:        make(chan struct{}),
		stopped:       make(chan struct{}),
	}

	go b.run()
	return b
}

func (b *Broker) run() {
	defer close(b.stopped)

	clients := make(map[chan []byte]struct{})
	var (
		lastSheets  time.Time
		pending     string
		sheetsTimer *time.Timer
		sheetsDue   <-chan time.Time
	)

	broadcast := func(event Event) {
		payload, err := json.Marshal(event.Data)
		if err != nil {
			return
		}
		msg := fmt.Sprintf("event: %s\ndata: %s\n\n", event.Type, payload)
		raw := []byte(msg)

		for ch := range clients {
			select {
			case ch <- raw:
			default:
				// Client buffer full; skip to avoid blocking broker loop.
			}
		}
	}

	sendSheets := func(path string) {
		lastSheets = time.Now()
		broadcast(Event{Type: TypeSheetsUpdated, Data: map[string]string{"path": path}})
	}

	for {
		select {
		case <-b.stopCh:
			if sheetsTimer != nil {
				sheetsTimer.Stop()
			}
			for ch := range clients {
				close(ch)
			}
			return

		case ch := <-b.subscribeCh:
			clients[ch] = struct{}{}

		case ch := <-b.unsubscribeCh:
			if _, ok := clients[ch]; ok {
				delete(clients, ch)
				close(ch)
			}

		case event := <-b.publishCh:
			broadcast(event)

		case req := <-b.diaryCh:
			data := map[string]string{"path": req.path}
			switch req.kind {
			case "created":
				broadcast(Event{Type: TypeDiaryCreated, Data: data})
			case "updated":
				broadcast(Event{Type: TypeDiaryUpdated, Data: data})
			case "deleted":
				broadcast(Event{Type: TypeDiaryDeleted, Data: data})
			}

		case path := <-b.sheetsCh:
			if wait := b.sheetsMin - time.Since(lastSheets); wait > 0 {
				pending = path
				if sheetsDue == nil {
					sheetsTimer = time.NewTimer(wait)
					sheetsDue = sheetsTimer.C
				}
				continue
			}
			sendSheets(path)

		case <-sheetsDue:
			sheetsDue = nil
			sendSheets(pending)
			pending = ""

		case resp := <-b.countReqCh:
			resp <- len(clients)
		}
	}
}

// Close gracefully stops broker loop and closes all client channels.
func (b *Broker) Close() {
	if b.closed.CompareAndSwap(false, true) {
		close(b.stopCh)
	}
	<-b.stopped
}

// Subscribe adds a new client and returns its channel.
func (b *Broker) Subscribe() chan []byte {
	ch := make(chan []byte, 64)
	if b.closed.Load() {
		close(ch)
		return ch
	}

	select {
	case b.subscribeCh <- ch:
	case <-b.stopped:
		close(ch)
	}

	return ch
}

// Unsubscribe removes a client and closes its channel.
func (b *Broker) Unsubscribe(ch chan []byte) {
	if b.closed.Load() {
		return
	}
	select {
	case b.unsubscribeCh <- ch:
	case <-b.stopped:
	}
}

// ClientCount returns the number of connected clients.
func (b *Broker) ClientCount() int {
	if b.closed.Load() {
		return 0
	}

	resp := make(chan int, 1)
	select {
	case b.countReqCh <- resp:
	case <-b.stopped:
		return 0
	}

	select {
	case n := <-resp:
		return n
	case <-b.stopped:
		return 0
	}
}

// Publish sends an event to all connected clients.
func (b *Broker) Publish(event Event) {
	if b.closed.Load() {
		return
	}
	select {
	case b.publishCh <- event:
	case <-b.stopped:
	}
}

// PublishDiaryEvent publishes a diary file change. kind is one of
// "created", "updated", "deleted".
func (b *Broker) PublishDiaryEvent(kind, path string) {
	if b.closed.Load() {
		return
	}
	select {
	case b.diaryCh <- changeReq{kind: kind, path: path}:
	case <-b.stopped:
	}
}

// PublishSheetsEvent asks clients to refresh sheets, throttled.
func (b *Broker) PublishSheetsEvent(path string) {
	if b.closed.Load() {
		return
	}
	select {
	case b.sheetsCh <- path:
	case <-b.stopped:
	}
}

// HandleChange routes a watcher callback: kind "sheets" becomes a
// throttled sheets event, everything else a diary event.
func (b *Broker) HandleChange(kind, path string) {
	if kind == "sheets" {
		b.PublishSheetsEvent(path)
		return
	}
	b.PublishDiaryEvent(kind, path)
}

// ServeHTTP is the SSE endpoint handler (GET /api/events).
func (b *Broker) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	ch := b.Subscribe()
	defer b.Unsubscribe(ch)

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			_, _ = w.Write(msg)
			flusher.Flush()
		}
	}
}
