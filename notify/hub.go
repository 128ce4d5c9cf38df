package notify

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/marcelsud/webhook-outbox/clock"
	"github.com/marcelsud/webhook-outbox/delivery"
	"github.com/marcelsud/webhook-outbox/events"
)

// DefaultKeepAlive is the ping interval that keeps proxies from closing idle streams
const DefaultKeepAlive = 30 * time.Second

// BroadcastResult counts per-client outcomes of one broadcast
type BroadcastResult struct {
	SuccessCount int `json:"successCount"`
	FailCount    int `json:"failCount"`
}

// Recorder receives broadcast outcomes
type Recorder interface {
	RecordBroadcast(ctx context.Context, frameType string, result BroadcastResult)
}

type noopRecorder struct{}

func (noopRecorder) RecordBroadcast(context.Context, string, BroadcastResult) {}

// HubConfig carries the hub's collaborators
type HubConfig struct {
	KeepAlive time.Duration
	Clock     clock.Clock
	Logger    zerolog.Logger
	Recorder  Recorder
}

/* Hub fans frames out to every connected admin session
 * Uses pointer semantics as it's an API, not data
 */
type Hub struct {
	mu      sync.RWMutex
	clients map[string]Channel

	keepAlive time.Duration
	clock     clock.Clock
	logger    zerolog.Logger
	recorder  Recorder

	closed    chan struct{}
	closeOnce sync.Once
	watchers  sync.WaitGroup
}

// NewHub creates an empty hub
func NewHub(cfg HubConfig) *Hub {
	if cfg.KeepAlive <= 0 {
		cfg.KeepAlive = DefaultKeepAlive
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.Real()
	}
	if cfg.Recorder == nil {
		cfg.Recorder = noopRecorder{}
	}
	return &Hub{
		clients:   make(map[string]Channel),
		keepAlive: cfg.KeepAlive,
		clock:     cfg.Clock,
		logger:    cfg.Logger,
		recorder:  cfg.Recorder,
		closed:    make(chan struct{}),
	}
}

/* AddClient registers ch under id and sends it a connected frame
 * The client is removed automatically once ch is done
 * Registering an id again replaces and closes the previous channel
 */
func (h *Hub) AddClient(id string, ch Channel) error {
	if id == "" || ch == nil {
		return fmt.Errorf("client id and channel are required")
	}

	h.mu.Lock()
	previous, replaced := h.clients[id]
	h.clients[id] = ch
	h.mu.Unlock()
	if replaced && previous != ch {
		previous.Close()
	}

	if err := ch.Send(h.frame(FrameConnected, map[string]string{"clientId": id})); err != nil {
		h.drop(id, ch)
		return fmt.Errorf("sending connected frame: %w", err)
	}

	h.watchers.Add(1)
	go func() {
		defer h.watchers.Done()
		select {
		case <-ch.Done():
			h.remove(id, ch)
		case <-h.closed:
		}
	}()

	h.logger.Info().Str("client_id", id).Int("clients", h.ClientCount()).Msg("admin session connected")
	return nil
}

// RemoveClient drops a client by id
func (h *Hub) RemoveClient(id string) {
	h.mu.Lock()
	delete(h.clients, id)
	h.mu.Unlock()
}

// remove drops id only while it still maps to ch
func (h *Hub) remove(id string, ch Channel) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if current, ok := h.clients[id]; ok && current == ch {
		delete(h.clients, id)
		h.logger.Info().Str("client_id", id).Msg("admin session disconnected")
	}
}

// drop removes a client whose transport failed and ends its session
func (h *Hub) drop(id string, ch Channel) {
	h.remove(id, ch)
	ch.Close()
}

// ClientCount returns the number of registered sessions
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

/* Broadcast writes f to every client
 * A client whose write fails is removed, closed and counted as a failure;
 * the others are unaffected
 */
func (h *Hub) Broadcast(f Frame) BroadcastResult {
	if f.Timestamp.IsZero() {
		f.Timestamp = h.clock.Now()
	}

	h.mu.RLock()
	snapshot := make(map[string]Channel, len(h.clients))
	for id, ch := range h.clients {
		snapshot[id] = ch
	}
	h.mu.RUnlock()

	var res BroadcastResult
	for id, ch := range snapshot {
		if err := ch.Send(f); err != nil {
			res.FailCount++
			h.drop(id, ch)
			h.logger.Warn().Err(err).Str("client_id", id).Str("frame", string(f.Type)).Msg("dropping admin session")
			continue
		}
		res.SuccessCount++
	}

	h.recorder.RecordBroadcast(context.Background(), string(f.Type), res)
	return res
}

// Run pings every client each keep-alive interval until ctx is cancelled
func (h *Hub) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-h.closed:
			return nil
		case <-h.clock.After(h.keepAlive):
			h.Broadcast(h.frame(FramePing, nil))
		}
	}
}

// HandleEvent pushes the notification projected from a domain event
func (h *Hub) HandleEvent(_ context.Context, e events.Event) error {
	n, ok := Project(e, h.clock.Now())
	if !ok {
		return nil
	}
	res := h.Broadcast(h.frame(FrameNotification, n))
	h.logger.Debug().
		Str("kind", string(n.Kind)).
		Int("success", res.SuccessCount).
		Int("failed", res.FailCount).
		Msg("notification broadcast")
	return nil
}

// Alert pushes an operator alert to every session
func (h *Hub) Alert(_ context.Context, a delivery.Alert) {
	h.Broadcast(h.frame(FrameAlert, a))
}

// Close stops Run and the per-client watchers and ends every open session
func (h *Hub) Close() {
	h.closeOnce.Do(func() { close(h.closed) })
	h.watchers.Wait()

	h.mu.Lock()
	remaining := h.clients
	h.clients = make(map[string]Channel)
	h.mu.Unlock()
	for _, ch := range remaining {
		ch.Close()
	}
}

func (h *Hub) frame(t FrameType, data any) Frame {
	return Frame{Type: t, Data: data, Timestamp: h.clock.Now()}
}
