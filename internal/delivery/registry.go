package delivery

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"
)

// Adapter sends one envelope through one kind of channel
type Adapter interface {
	Type() ChannelType
	Send(ctx context.Context, ch *Channel, env Envelope) Result
}

// Result of a single send
type Result struct {
	Success    bool           `json:"success"`
	TrackingID string         `json:"trackingId,omitempty"`
	Error      *DeliveryError `json:"error,omitempty"`
}

// Delivered is a successful result
func Delivered(trackingID string) Result {
	return Result{Success: true, TrackingID: trackingID}
}

// Failed wraps a delivery error in a result
func Failed(err *DeliveryError) Result {
	return Result{Error: err}
}

// ChannelRegistry holds the configured channels and the adapters serving them.
// It is safe for concurrent use.
type ChannelRegistry struct {
	mu       sync.RWMutex
	channels map[string]*Channel
	adapters map[ChannelType]Adapter
	store    *Store
}

// NewChannelRegistry creates a registry persisting through store; store may be nil
func NewChannelRegistry(store *Store, adapters ...Adapter) *ChannelRegistry {
	r := &ChannelRegistry{
		channels: make(map[string]*Channel),
		adapters: make(map[ChannelType]Adapter),
		store:    store,
	}
	for _, a := range adapters {
		r.RegisterAdapter(a)
	}
	return r
}

// Load replaces the in-memory channels with the stored ones
func (r *ChannelRegistry) Load(ctx context.Context) error {
	if r.store == nil {
		return nil
	}
	channels, err := r.store.Channels(ctx)
	if err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.channels = make(map[string]*Channel, len(channels))
	for _, ch := range channels {
		r.channels[ch.ID] = ch
	}
	return nil
}

// RegisterAdapter installs the adapter for its channel type
func (r *ChannelRegistry) RegisterAdapter(a Adapter) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.adapters[a.Type()] = a
}

// Adapter returns the adapter for a channel type
func (r *ChannelRegistry) Adapter(t ChannelType) (Adapter, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.adapters[t]
	return a, ok
}

// List returns copies of all channels, highest priority first
func (r *ChannelRegistry) List() []*Channel {
	r.mu.RLock()
	out := make([]*Channel, 0, len(r.channels))
	for _, ch := range r.channels {
		out = append(out, ch.clone())
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].Priority != out[j].Priority {
			return out[i].Priority > out[j].Priority
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// Get returns a copy of one channel
func (r *ChannelRegistry) Get(id string) (*Channel, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ch, ok := r.channels[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrChannelNotFound, id)
	}
	return ch.clone(), nil
}

// Upsert stores a channel and makes it visible to new deliveries
func (r *ChannelRegistry) Upsert(ctx context.Context, ch *Channel) error {
	if ch.ID == "" {
		return fmt.Errorf("channel id is required")
	}
	cp := ch.clone()
	now := time.Now().UTC()
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = now
	}
	cp.UpdatedAt = now

	if r.store != nil {
		if err := r.store.SaveChannel(ctx, cp); err != nil {
			return err
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.channels[cp.ID] = cp
	return nil
}

// SetActive enables or disables a channel
func (r *ChannelRegistry) SetActive(ctx context.Context, id string, active bool) error {
	ch, err := r.Get(id)
	if err != nil {
		return err
	}
	ch.Active = active
	return r.Upsert(ctx, ch)
}
