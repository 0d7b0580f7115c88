package market

import (
	"context"
	"sort"
	"sync"
	"time"
)

// Store defines the persistence operations the marketplace needs. The bid
// accept path deliberately issues single-row writes — consistency across
// tables is the orchestrator's saga, not a store transaction.
type Store interface {
	CreateRequest(ctx context.Context, req *Request) error
	GetRequest(ctx context.Context, id string) (Request, error)
	UpdateRequestStatus(ctx context.Context, id string, status RequestStatus, acceptedBidID string) error
	ListOpenRequests(ctx context.Context) ([]Request, error)

	CreateBid(ctx context.Context, bid *Bid) error
	GetBid(ctx context.Context, id string) (Bid, error)
	UpdateBidStatus(ctx context.Context, id string, status BidStatus) error
	ListBidsByRequest(ctx context.Context, requestID string) ([]Bid, error)

	CreateProvider(ctx context.Context, p *Provider) error
	GetProvider(ctx context.Context, id string) (Provider, error)
	ListProviders(ctx context.Context) ([]Provider, error)

	CreateNotification(ctx context.Context, n *Notification) error
	ListUnreadNotifications(ctx context.Context, userID string) ([]Notification, error)
	MarkNotificationRead(ctx context.Context, id, userID string) error
}

// InMemory implements Store with in-process concurrency safety. It backs
// tests and secret-free local runs; production uses the Postgres store.
type InMemory struct {
	mu            sync.RWMutex
	requests      map[string]*Request
	bids          map[string]*Bid
	providers     map[string]*Provider
	notifications map[string]*Notification
}

var _ Store = (*InMemory)(nil)

// NewInMemory creates an empty store.
func NewInMemory() *InMemory {
	return &InMemory{
		requests:      make(map[string]*Request),
		bids:          make(map[string]*Bid),
		providers:     make(map[string]*Provider),
		notifications: make(map[string]*Notification),
	}
}

func (s *InMemory) CreateRequest(ctx context.Context, req *Request) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *req
	s.requests[req.ID] = &cp
	return nil
}

func (s *InMemory) GetRequest(ctx context.Context, id string) (Request, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	req, ok := s.requests[id]
	if !ok {
		return Request{}, ErrNotFound
	}
	return *req, nil
}

func (s *InMemory) UpdateRequestStatus(ctx context.Context, id string, status RequestStatus, acceptedBidID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	req, ok := s.requests[id]
	if !ok {
		return ErrNotFound
	}
	req.Status = status
	req.AcceptedBidID = acceptedBidID
	return nil
}

func (s *InMemory) ListOpenRequests(ctx context.Context) ([]Request, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []Request
	for _, req := range s.requests {
		if req.Status == RequestOpen {
			out = append(out, *req)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *InMemory) CreateBid(ctx context.Context, bid *Bid) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *bid
	s.bids[bid.ID] = &cp
	return nil
}

func (s *InMemory) GetBid(ctx context.Context, id string) (Bid, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	bid, ok := s.bids[id]
	if !ok {
		return Bid{}, ErrNotFound
	}
	return *bid, nil
}

func (s *InMemory) UpdateBidStatus(ctx context.Context, id string, status BidStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	bid, ok := s.bids[id]
	if !ok {
		return ErrNotFound
	}
	bid.Status = status
	return nil
}

func (s *InMemory) ListBidsByRequest(ctx context.Context, requestID string) ([]Bid, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []Bid
	for _, bid := range s.bids {
		if bid.RequestID == requestID {
			out = append(out, *bid)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *InMemory) CreateProvider(ctx context.Context, p *Provider) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *p
	s.providers[p.ID] = &cp
	return nil
}

func (s *InMemory) GetProvider(ctx context.Context, id string) (Provider, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.providers[id]
	if !ok {
		return Provider{}, ErrNotFound
	}
	return *p, nil
}

func (s *InMemory) ListProviders(ctx context.Context) ([]Provider, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Provider, 0, len(s.providers))
	for _, p := range s.providers {
		out = append(out, *p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *InMemory) CreateNotification(ctx context.Context, n *Notification) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *n
	if cp.Payload != nil {
		cp.Payload = copyPayload(n.Payload)
	}
	s.notifications[n.ID] = &cp
	return nil
}

func (s *InMemory) ListUnreadNotifications(ctx context.Context, userID string) ([]Notification, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []Notification
	for _, n := range s.notifications {
		if n.UserID == userID && !n.Read {
			cp := *n
			cp.Payload = copyPayload(n.Payload)
			out = append(out, cp)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

func (s *InMemory) MarkNotificationRead(ctx context.Context, id, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	n, ok := s.notifications[id]
	if !ok || n.UserID != userID {
		return ErrNotFound
	}
	n.Read = true
	return nil
}

func copyPayload(in map[string]any) map[string]any {
	if in == nil {
		return nil
	}
	out := make(map[string]any, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

// now is indirected for tests that pin timestamps.
var now = func() time.Time { return time.Now().UTC() }
