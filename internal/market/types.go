package market

import (
	"errors"
	"time"
)

// BidStatus is the lifecycle state of a bid. Bids are never deleted;
// rejection is a status change.
type BidStatus string

const (
	BidPending  BidStatus = "pending"
	BidAccepted BidStatus = "accepted"
	BidRejected BidStatus = "rejected"
)

// RequestStatus is the lifecycle state of a client posting.
type RequestStatus string

const (
	RequestOpen    RequestStatus = "open"
	RequestPending RequestStatus = "pending"
	RequestClosed  RequestStatus = "closed"
)

// Bid is a provider's priced offer against an open request.
// Price is in minor units (e.g., cents). No floats.
type Bid struct {
	ID                         string    `json:"id"`
	RequestID                  string    `json:"request_id"`
	ProviderID                 string    `json:"provider_id"`
	Price                      int64     `json:"price"`
	Message                    string    `json:"message,omitempty"`
	Status                     BidStatus `json:"status"`
	GraduateOfRequestedCollege bool      `json:"is_graduate_of_requested_college"`
	CreatedAt                  time.Time `json:"created_at"`
}

// Request is a client's posting describing a desired service.
// RawLocation keeps the value exactly as submitted; geo.Parse normalizes it
// on demand. College, when set, marks a preference used to derive the
// graduate flag on incoming bids.
type Request struct {
	ID            string        `json:"id"`
	UserID        string        `json:"user_id"`
	Title         string        `json:"title"`
	College       string        `json:"college,omitempty"`
	RawLocation   string        `json:"location,omitempty"`
	Status        RequestStatus `json:"status"`
	AcceptedBidID string        `json:"accepted_bid_id,omitempty"`
	CreatedAt     time.Time     `json:"created_at"`
}

// Provider is a seller profile owned by a user account.
type Provider struct {
	ID          string    `json:"id"`
	UserID      string    `json:"user_id"`
	College     string    `json:"college,omitempty"`
	RawLocation string    `json:"location,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// Notification is the stored audit record behind every pushed event. Rows
// are written before fan-out; live delivery is an optimization over reading
// them back.
type Notification struct {
	ID        string         `json:"id"`
	UserID    string         `json:"user_id"`
	Type      string         `json:"type"`
	Payload   map[string]any `json:"payload,omitempty"`
	Read      bool           `json:"read"`
	CreatedAt time.Time      `json:"created_at"`
}

// Event is the transient DTO pushed to a live connection. It is constructed
// and consumed synchronously within one request's handling; never queued.
type Event struct {
	Type      string    `json:"type"`
	Timestamp time.Time `json:"timestamp"`
	Payload   any       `json:"payload,omitempty"`
}

// Event types produced by the bid lifecycle and request flows.
const (
	EventNewBid               = "new_bid"
	EventBidAccepted          = "bid_accepted"
	EventYourBidAccepted      = "your_bid_accepted"
	EventBidRejected          = "bid_rejected"
	EventServiceRequestUpdate = "service_request_update"
)

var (
	// ErrNotFound is returned when the named entity does not exist.
	ErrNotFound = errors.New("not found")

	// ErrUnauthorized is returned when the acting user does not own the
	// resource the operation targets.
	ErrUnauthorized = errors.New("unauthorized")

	// ErrInvalidState is returned when a lifecycle transition is not
	// permitted from the current status. Callers wrap it with the
	// specific message, e.g. "bid is not pending".
	ErrInvalidState = errors.New("invalid state")
)
