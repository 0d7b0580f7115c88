package ws

import (
	"context"
	"time"

	"skillbay.org/internal/market"
	"skillbay.org/internal/obs"
)

// PartyResolver resolves the two user accounts attached to a request with
// an accepted bid. Implemented by the market service.
type PartyResolver interface {
	RequestParties(ctx context.Context, requestID string) (clientUserID, providerUserID string, err error)
}

// Dispatcher pushes events to live connections looked up in the registry.
// Delivery is at-most-once: an offline recipient, or a send that fails, is
// logged and dropped — the stored notification row is the durable record.
type Dispatcher struct {
	registry *Registry
	parties  PartyResolver
}

// NewDispatcher creates a dispatcher over the registry. The resolver is
// attached later, once the market service exists.
func NewDispatcher(registry *Registry) *Dispatcher {
	return &Dispatcher{registry: registry}
}

// SetPartyResolver wires the resolver used to route in-conversation
// messages.
func (d *Dispatcher) SetPartyResolver(p PartyResolver) {
	d.parties = p
}

var _ market.Notifier = (*Dispatcher)(nil)

// Notify sends ev to userID's live connection, if any.
func (d *Dispatcher) Notify(userID string, ev market.Event) {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now().UTC()
	}
	c, ok := d.registry.Lookup(userID)
	if !ok {
		return
	}
	if err := c.Send(ev); err != nil {
		obs.LogError("ws", "event send failed for user "+userID, err)
		return
	}
	obs.CountWSEvent(ev.Type)
}

// NotifyServiceRequestCreated tells a provider about a new request in their
// area.
func (d *Dispatcher) NotifyServiceRequestCreated(providerUserID string, req market.Request) {
	d.Notify(providerUserID, market.Event{
		Type: market.EventServiceRequestUpdate,
		Payload: map[string]any{
			"action":  "created",
			"request": req,
		},
	})
}

// NotifyServiceRequestUpdated broadcasts a request status change to both
// parties on the request. Requests without an accepted bid resolve no
// parties; that is not an error.
func (d *Dispatcher) NotifyServiceRequestUpdated(requestID string, patch map[string]any) {
	if d.parties == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	client, provider, err := d.parties.RequestParties(ctx, requestID)
	if err != nil {
		obs.LogError("ws", "party resolution failed for request "+requestID, err)
		return
	}
	ev := market.Event{
		Type: market.EventServiceRequestUpdate,
		Payload: map[string]any{
			"action":     "updated",
			"request_id": requestID,
			"patch":      patch,
		},
	}
	d.Notify(client, ev)
	d.Notify(provider, ev)
}
