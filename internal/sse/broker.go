// Package sse implements the live event broker behind the SSE and websocket
// endpoints.
package sse

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync/atomic"
	"time"
)

// Event types.
const (
	TypeAuthChanged    = "auth.changed"
	TypePhotoUpdated   = "photo.updated"
	TypeManifestBuilt  = "manifest.built"
	TypeContentChanged = "content.changed"
)

// Event is a typed payload to publish.
type Event struct {
	Type string      `json:"type"`
	Data interface{} `json:"data"`
}

// Frame is an encoded event as delivered to a subscriber.
type Frame struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

// SSE renders the frame in text/event-stream form.
func (f Frame) SSE() []byte {
	return []byte(fmt.Sprintf("event: %s\ndata: %s\n\n", f.Type, f.Data))
}

// JSON renders the frame as a single JSON object.
func (f Frame) JSON() []byte {
	b, _ := json.Marshal(f)
	return b
}

// Subscription is a subscriber's delivery channel.
type Subscription chan Frame

type publishReq struct {
	session string // empty for every subscriber
	event   Event
}

type contentReq struct {
	kind string
	path string
}

// Broker fans events out to subscribers. An event is delivered either to the
// subscribers of one session or to everyone.
//
// A single internal event loop owns the subscriber set and the content
// throttle state. Public methods talk to it over channels, so no mutexes are
// required.
type Broker struct {
	contentMin time.Duration

	subscribeCh   chan subscribeReq
	unsubscribeCh chan Subscription
	publishCh     chan publishReq
	contentCh     chan contentReq
	countReqCh    chan chan int

	stopCh  chan struct{}
	stopped chan struct{}
	closed  atomic.Bool
}

type subscribeReq struct {
	session string
	ch      Subscription
}

// NewBroker creates a broker emitting content.changed at most once per
// contentThrottle.
func NewBroker(contentThrottle time.Duration) *Broker {
	if contentThrottle <= 0 {
		contentThrottle = 2 * time.Second
	}

	b := &Broker{
		contentMin:    contentThrottle,
		subscribeCh:   make(chan subscribeReq),
		unsubscribeCh: make(chan Subscription),
		publishCh:     make(chan publishReq, 256),
		contentCh:     make(chan contentReq, 256),
		countReqCh:    make(chan chan int),
		stopCh:        make(chan struct{}),
		stopped:       make(chan struct{}),
	}

	go b.run()
	return b
}

func (b *Broker) run() {
	defer close(b.stopped)

	clients := make(map[Subscription]string)
	var lastContent time.Time
	var pending *contentReq
	var flushTimer *time.Timer
	var flushCh <-chan time.Time

	deliver := func(session string, event Event) {
		payload, err := json.Marshal(event.Data)
		if err != nil {
			return
		}
		frame := Frame{Type: event.Type, Data: payload}
		for ch, owner := range clients {
			if session != "" && owner != session {
				continue
			}
			select {
			case ch <- frame:
			default:
				// Client buffer full; skip to avoid blocking the loop.
			}
		}
	}

	emitContent := func(req contentReq) {
		lastContent = time.Now()
		deliver("", Event{Type: TypeContentChanged, Data: map[string]string{"kind": req.kind, "path": req.path}})
	}

	for {
		select {
		case <-b.stopCh:
			if flushTimer != nil {
				flushTimer.Stop()
			}
			for ch := range clients {
				close(ch)
			}
			return

		case req := <-b.subscribeCh:
			clients[req.ch] = req.session

		case ch := <-b.unsubscribeCh:
			if _, ok := clients[ch]; ok {
				delete(clients, ch)
				close(ch)
			}

		case req := <-b.publishCh:
			deliver(req.session, req.event)

		case req := <-b.contentCh:
			wait := b.contentMin - time.Since(lastContent)
			if wait <= 0 {
				emitContent(req)
				continue
			}
			// Inside the window: keep the latest change for a trailing emit.
			pending = &req
			if flushTimer == nil {
				flushTimer = time.NewTimer(wait)
				flushCh = flushTimer.C
			}

		case <-flushCh:
			flushTimer, flushCh = nil, nil
			if pending != nil {
				emitContent(*pending)
				pending = nil
			}

		case resp := <-b.countReqCh:
			resp <- len(clients)
		}
	}
}

// Close gracefully stops the broker loop and closes all subscriptions.
func (b *Broker) Close() {
	if b.closed.CompareAndSwap(false, true) {
		close(b.stopCh)
	}
	<-b.stopped
}

// Subscribe adds a subscriber for sessionID. It receives that session's
// events and every broadcast.
func (b *Broker) Subscribe(sessionID string) Subscription {
	ch := make(Subscription, 64)
	if b.closed.Load() {
		close(ch)
		return ch
	}

	select {
	case b.subscribeCh <- subscribeReq{session: sessionID, ch: ch}:
	case <-b.stopped:
		close(ch)
	}
	return ch
}

// Unsubscribe removes a subscriber and closes its channel.
func (b *Broker) Unsubscribe(ch Subscription) {
	if b.closed.Load() {
		return
	}
	select {
	case b.unsubscribeCh <- ch:
	case <-b.stopped:
	}
}

// ClientCount returns the number of subscribers.
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

// Broadcast sends event to every subscriber.
func (b *Broker) Broadcast(event Event) {
	b.PublishTo("", event)
}

// PublishTo sends event to the subscribers of sessionID. An empty id
// broadcasts.
func (b *Broker) PublishTo(sessionID string, event Event) {
	if b.closed.Load() {
		return
	}
	select {
	case b.publishCh <- publishReq{session: sessionID, event: event}:
	case <-b.stopped:
	}
}

// PublishContentChange reports a change in the content source. Bursts are
// collapsed into at most one content.changed per throttle window, carrying
// the latest change.
func (b *Broker) PublishContentChange(kind, path string) {
	if b.closed.Load() {
		return
	}
	select {
	case b.contentCh <- contentReq{kind: kind, path: path}:
	case <-b.stopped:
	}
}

// Serve streams the events of sessionID as Server-Sent Events until the
// client disconnects.
func (b *Broker) Serve(w http.ResponseWriter, r *http.Request, sessionID string) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	ch := b.Subscribe(sessionID)
	defer b.Unsubscribe(ch)

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case frame, ok := <-ch:
			if !ok {
				return
			}
			_, _ = w.Write(frame.SSE())
			flusher.Flush()
		}
	}
}
