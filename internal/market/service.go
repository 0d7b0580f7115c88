package market

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"skillbay.org/internal/geo"
	"skillbay.org/internal/ids"
	"skillbay.org/internal/obs"
)

// Notifier delivers events to live connections. Delivery is best-effort:
// the service stores a notification row first and never propagates push
// failures to the caller.
type Notifier interface {
	Notify(userID string, ev Event)
	NotifyServiceRequestCreated(providerUserID string, req Request)
	NotifyServiceRequestUpdated(requestID string, patch map[string]any)
}

// noopNotifier stands in until SetNotifier is called, so the service is
// usable in tests and CLI contexts without a live transport.
type noopNotifier struct{}

func (noopNotifier) Notify(string, Event)                        {}
func (noopNotifier) NotifyServiceRequestCreated(string, Request) {}
func (noopNotifier) NotifyServiceRequestUpdated(string, map[string]any) {
}

// FanoutRadiusKm bounds which providers hear about a newly created request.
const FanoutRadiusKm = 50.0

// Service orchestrates the bid lifecycle and request flows over a Store,
// pushing events through a Notifier.
type Service struct {
	store    Store
	notifier Notifier
}

// NewService creates a Service with no live notifier attached.
func NewService(store Store) *Service {
	return &Service{store: store, notifier: noopNotifier{}}
}

// SetNotifier attaches the live event transport. Called once during wiring,
// before the service receives traffic.
func (s *Service) SetNotifier(n Notifier) {
	if n != nil {
		s.notifier = n
	}
}

// AcceptBid transitions a pending bid to accepted and closes its request,
// returning both mutated records. Only the request owner may accept. The
// two status writes run as a saga: if closing the request fails, the bid
// is reverted to pending. Sibling rejection and event fan-out run after
// the saga commits and are best-effort.
func (s *Service) AcceptBid(ctx context.Context, bidID, actingUserID string) (Bid, Request, error) {
	bid, err := s.store.GetBid(ctx, bidID)
	if err != nil {
		return Bid{}, Request{}, err
	}
	req, err := s.store.GetRequest(ctx, bid.RequestID)
	if err != nil {
		return Bid{}, Request{}, err
	}
	if req.UserID != actingUserID {
		return Bid{}, Request{}, ErrUnauthorized
	}
	if bid.Status != BidPending {
		return Bid{}, Request{}, fmt.Errorf("bid is not pending: %w", ErrInvalidState)
	}
	if req.Status == RequestClosed {
		return Bid{}, Request{}, fmt.Errorf("request already closed: %w", ErrInvalidState)
	}

	saga := new(Saga).
		Add(SagaStep{
			Name: "accept-bid",
			Run: func(ctx context.Context) error {
				return s.store.UpdateBidStatus(ctx, bid.ID, BidAccepted)
			},
			Compensate: func(ctx context.Context) error {
				return s.store.UpdateBidStatus(ctx, bid.ID, BidPending)
			},
		}).
		Add(SagaStep{
			Name: "close-request",
			Run: func(ctx context.Context) error {
				return s.store.UpdateRequestStatus(ctx, req.ID, RequestClosed, bid.ID)
			},
		})
	if err := saga.Execute(ctx); err != nil {
		return Bid{}, Request{}, err
	}
	bid.Status = BidAccepted
	req.Status = RequestClosed
	req.AcceptedBidID = bid.ID
	obs.CountBidAccepted()

	s.rejectSiblings(ctx, req.ID, bid.ID)

	// Both acceptance events carry the full mutated records so neither
	// party needs a follow-up fetch to see the closed request.
	s.notifyStored(ctx, req.UserID, EventBidAccepted, map[string]any{
		"bid":     bid,
		"request": req,
	})
	if provider, perr := s.store.GetProvider(ctx, bid.ProviderID); perr == nil {
		s.notifyStored(ctx, provider.UserID, EventYourBidAccepted, map[string]any{
			"bid":     bid,
			"request": req,
		})
	} else {
		obs.LogError("market", "accepted bid provider lookup failed", perr)
	}
	s.notifier.NotifyServiceRequestUpdated(req.ID, map[string]any{
		"status":          string(RequestClosed),
		"accepted_bid_id": bid.ID,
	})
	return bid, req, nil
}

// rejectSiblings marks the other bids on the request rejected and tells
// their providers. Failures here never surface to the acceptor.
func (s *Service) rejectSiblings(ctx context.Context, requestID, acceptedBidID string) {
	siblings, err := s.store.ListBidsByRequest(ctx, requestID)
	if err != nil {
		obs.LogError("market", "sibling bid listing failed", err)
		return
	}
	for _, sib := range siblings {
		if sib.ID == acceptedBidID || sib.Status != BidPending {
			continue
		}
		if err := s.store.UpdateBidStatus(ctx, sib.ID, BidRejected); err != nil {
			obs.LogError("market", "sibling bid rejection failed", err)
			continue
		}
		provider, err := s.store.GetProvider(ctx, sib.ProviderID)
		if err != nil {
			obs.LogError("market", "sibling provider lookup failed", err)
			continue
		}
		s.notifyStored(ctx, provider.UserID, EventBidRejected, map[string]any{
			"bid_id":     sib.ID,
			"request_id": requestID,
		})
	}
}

// RejectBid marks a bid rejected. The transition is permitted from any
// status; rejecting an already rejected bid is a no-op overwrite. Only the
// owner of the bid's request may reject it.
func (s *Service) RejectBid(ctx context.Context, bidID, actingUserID string) (Bid, error) {
	bid, err := s.store.GetBid(ctx, bidID)
	if err != nil {
		return Bid{}, err
	}
	req, err := s.store.GetRequest(ctx, bid.RequestID)
	if err != nil {
		return Bid{}, err
	}
	if req.UserID != actingUserID {
		return Bid{}, ErrUnauthorized
	}
	if err := s.store.UpdateBidStatus(ctx, bid.ID, BidRejected); err != nil {
		return Bid{}, err
	}
	bid.Status = BidRejected
	if provider, perr := s.store.GetProvider(ctx, bid.ProviderID); perr == nil {
		s.notifyStored(ctx, provider.UserID, EventBidRejected, map[string]any{
			"bid_id":     bid.ID,
			"request_id": req.ID,
		})
	} else {
		obs.LogError("market", "rejected bid provider lookup failed", perr)
	}
	return bid, nil
}

// PlaceBid records a new pending bid from a provider against an open
// request and notifies the request owner. The acting user must own the
// provider profile.
func (s *Service) PlaceBid(ctx context.Context, requestID, providerID, actingUserID string, price int64, message string) (Bid, error) {
	req, err := s.store.GetRequest(ctx, requestID)
	if err != nil {
		return Bid{}, err
	}
	if req.Status == RequestClosed {
		return Bid{}, fmt.Errorf("request already closed: %w", ErrInvalidState)
	}
	provider, err := s.store.GetProvider(ctx, providerID)
	if err != nil {
		return Bid{}, err
	}
	if provider.UserID != actingUserID {
		return Bid{}, ErrUnauthorized
	}

	bid := Bid{
		ID:         ids.NewPrefixed("bid"),
		RequestID:  req.ID,
		ProviderID: provider.ID,
		Price:      price,
		Message:    message,
		Status:     BidPending,
		CreatedAt:  now(),
	}
	if req.College != "" {
		bid.GraduateOfRequestedCollege = strings.EqualFold(provider.College, req.College)
	}
	if err := s.store.CreateBid(ctx, &bid); err != nil {
		return Bid{}, err
	}
	s.notifyStored(ctx, req.UserID, EventNewBid, map[string]any{
		"bid_id":     bid.ID,
		"request_id": req.ID,
		"price":      bid.Price,
	})
	return bid, nil
}

// CreateRequest stores an open request and fans it out to providers whose
// location parses and falls within FanoutRadiusKm of the request's. A
// request with no parsable location is stored but not fanned out.
func (s *Service) CreateRequest(ctx context.Context, userID, title, college, rawLocation string) (Request, error) {
	req := Request{
		ID:          ids.NewPrefixed("req"),
		UserID:      userID,
		Title:       title,
		College:     college,
		RawLocation: rawLocation,
		Status:      RequestOpen,
		CreatedAt:   now(),
	}
	if err := s.store.CreateRequest(ctx, &req); err != nil {
		return Request{}, err
	}

	origin, ok := geo.Parse(req.RawLocation)
	if !ok {
		return req, nil
	}
	providers, err := s.store.ListProviders(ctx)
	if err != nil {
		obs.LogError("market", "provider listing for request fan-out failed", err)
		return req, nil
	}
	for _, p := range providers {
		loc, ok := geo.Parse(p.RawLocation)
		if !ok {
			continue
		}
		if geo.DistanceKm(origin, loc) <= FanoutRadiusKm {
			s.notifier.NotifyServiceRequestCreated(p.UserID, req)
		}
	}
	return req, nil
}

// CreateProvider registers a seller profile for the acting user.
func (s *Service) CreateProvider(ctx context.Context, userID, college, rawLocation string) (Provider, error) {
	p := Provider{
		ID:          ids.NewPrefixed("prv"),
		UserID:      userID,
		College:     college,
		RawLocation: rawLocation,
		CreatedAt:   now(),
	}
	if err := s.store.CreateProvider(ctx, &p); err != nil {
		return Provider{}, err
	}
	return p, nil
}

// NearbyRequest is an open request annotated with its distance from the
// query origin.
type NearbyRequest struct {
	Request
	DistanceKm float64 `json:"distance_km"`
}

// OpenRequestsNear returns open requests within radiusKm of origin, nearest
// first. Requests whose location does not parse are excluded rather than
// treated as matching everywhere.
func (s *Service) OpenRequestsNear(ctx context.Context, origin geo.LatLng, radiusKm float64) ([]NearbyRequest, error) {
	requests, err := s.store.ListOpenRequests(ctx)
	if err != nil {
		return nil, err
	}
	var out []NearbyRequest
	for _, req := range requests {
		loc, ok := geo.Parse(req.RawLocation)
		if !ok {
			continue
		}
		d := geo.DistanceKm(origin, loc)
		if d <= radiusKm {
			out = append(out, NearbyRequest{Request: req, DistanceKm: d})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].DistanceKm < out[j].DistanceKm })
	return out, nil
}

// UnreadNotifications returns the user's unread notifications, oldest first.
func (s *Service) UnreadNotifications(ctx context.Context, userID string) ([]Notification, error) {
	return s.store.ListUnreadNotifications(ctx, userID)
}

// MarkRead flags a notification as read. The notification must belong to
// the acting user.
func (s *Service) MarkRead(ctx context.Context, id, userID string) error {
	return s.store.MarkNotificationRead(ctx, id, userID)
}

// RequestParties resolves the client and provider user IDs on a request
// with an accepted bid. Used to route in-conversation messages to the
// counterpart.
func (s *Service) RequestParties(ctx context.Context, requestID string) (clientUserID, providerUserID string, err error) {
	req, err := s.store.GetRequest(ctx, requestID)
	if err != nil {
		return "", "", err
	}
	if req.AcceptedBidID == "" {
		return "", "", fmt.Errorf("request has no accepted bid: %w", ErrInvalidState)
	}
	bid, err := s.store.GetBid(ctx, req.AcceptedBidID)
	if err != nil {
		return "", "", err
	}
	provider, err := s.store.GetProvider(ctx, bid.ProviderID)
	if err != nil {
		return "", "", err
	}
	return req.UserID, provider.UserID, nil
}

// notifyStored persists a notification row, then pushes the matching live
// event. Storage failure is logged and suppresses the push; push itself
// cannot fail from the caller's perspective.
func (s *Service) notifyStored(ctx context.Context, userID, eventType string, payload map[string]any) {
	n := Notification{
		ID:        ids.NewPrefixed("ntf"),
		UserID:    userID,
		Type:      eventType,
		Payload:   payload,
		CreatedAt: now(),
	}
	if err := s.store.CreateNotification(ctx, &n); err != nil {
		obs.LogError("market", "notification store failed", err)
		return
	}
	s.notifier.Notify(userID, Event{Type: eventType, Timestamp: n.CreatedAt, Payload: payload})
}
