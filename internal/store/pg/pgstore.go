package pg

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"skillbay.org/internal/market"
)

// Store implements market.Store on Postgres.
type Store struct {
	db *sql.DB
}

var _ market.Store = (*Store)(nil)

func Open(dsn string) (*Store, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	// Tuned pool defaults; adjust under load tests
	db.SetMaxOpenConns(50)
	db.SetMaxIdleConns(25)
	db.SetConnMaxLifetime(15 * time.Minute)
	db.SetConnMaxIdleTime(5 * time.Minute)
	return &Store{db: db}, nil
}

// NewWithDB wraps an existing handle. Used by tests with sqlmock.
func NewWithDB(db *sql.DB) *Store { return &Store{db: db} }

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) DB() *sql.DB { return s.db }

func (s *Store) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }

func (s *Store) CreateRequest(ctx context.Context, req *market.Request) error {
	_, err := s.db.ExecContext(ctx, `
		insert into requests (id, user_id, title, college, raw_location, status, created_at)
		values ($1, $2, $3, $4, $5, $6, $7)
	`, req.ID, req.UserID, req.Title, req.College, req.RawLocation, string(req.Status), req.CreatedAt)
	return err
}

func (s *Store) GetRequest(ctx context.Context, id string) (market.Request, error) {
	var (
		req      market.Request
		status   string
		accepted sql.NullString
	)
	err := s.db.QueryRowContext(ctx, `
		select id, user_id, title, college, raw_location, status, accepted_bid_id, created_at
		from requests
		where id = $1
	`, id).Scan(&req.ID, &req.UserID, &req.Title, &req.College, &req.RawLocation, &status, &accepted, &req.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return market.Request{}, market.ErrNotFound
	}
	if err != nil {
		return market.Request{}, err
	}
	req.Status = market.RequestStatus(status)
	req.AcceptedBidID = accepted.String
	return req, nil
}

func (s *Store) UpdateRequestStatus(ctx context.Context, id string, status market.RequestStatus, acceptedBidID string) error {
	accepted := sql.NullString{String: acceptedBidID, Valid: acceptedBidID != ""}
	res, err := s.db.ExecContext(ctx, `
		update requests set status = $2, accepted_bid_id = $3 where id = $1
	`, id, string(status), accepted)
	if err != nil {
		return err
	}
	return requireRow(res)
}

func (s *Store) ListOpenRequests(ctx context.Context) ([]market.Request, error) {
	rows, err := s.db.QueryContext(ctx, `
		select id, user_id, title, college, raw_location, status, accepted_bid_id, created_at
		from requests
		where status = 'open'
		order by created_at
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []market.Request
	for rows.Next() {
		var (
			req      market.Request
			status   string
			accepted sql.NullString
		)
		if err := rows.Scan(&req.ID, &req.UserID, &req.Title, &req.College, &req.RawLocation, &status, &accepted, &req.CreatedAt); err != nil {
			return nil, err
		}
		req.Status = market.RequestStatus(status)
		req.AcceptedBidID = accepted.String
		result = append(result, req)
	}
	return result, rows.Err()
}

func (s *Store) CreateBid(ctx context.Context, bid *market.Bid) error {
	_, err := s.db.ExecContext(ctx, `
		insert into bids (id, request_id, provider_id, price, message, status, is_graduate, created_at)
		values ($1, $2, $3, $4, $5, $6, $7, $8)
	`, bid.ID, bid.RequestID, bid.ProviderID, bid.Price, bid.Message, string(bid.Status), bid.GraduateOfRequestedCollege, bid.CreatedAt)
	return err
}

func (s *Store) GetBid(ctx context.Context, id string) (market.Bid, error) {
	var (
		bid    market.Bid
		status string
	)
	err := s.db.QueryRowContext(ctx, `
		select id, request_id, provider_id, price, message, status, is_graduate, created_at
		from bids
		where id = $1
	`, id).Scan(&bid.ID, &bid.RequestID, &bid.ProviderID, &bid.Price, &bid.Message, &status, &bid.GraduateOfRequestedCollege, &bid.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return market.Bid{}, market.ErrNotFound
	}
	if err != nil {
		return market.Bid{}, err
	}
	bid.Status = market.BidStatus(status)
	return bid, nil
}

func (s *Store) UpdateBidStatus(ctx context.Context, id string, status market.BidStatus) error {
	res, err := s.db.ExecContext(ctx, `
		update bids set status = $2 where id = $1
	`, id, string(status))
	if err != nil {
		return err
	}
	return requireRow(res)
}

func (s *Store) ListBidsByRequest(ctx context.Context, requestID string) ([]market.Bid, error) {
	rows, err := s.db.QueryContext(ctx, `
		select id, request_id, provider_id, price, message, status, is_graduate, created_at
		from bids
		where request_id = $1
		order by created_at
	`, requestID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []market.Bid
	for rows.Next() {
		var (
			bid    market.Bid
			status string
		)
		if err := rows.Scan(&bid.ID, &bid.RequestID, &bid.ProviderID, &bid.Price, &bid.Message, &status, &bid.GraduateOfRequestedCollege, &bid.CreatedAt); err != nil {
			return nil, err
		}
		bid.Status = market.BidStatus(status)
		result = append(result, bid)
	}
	return result, rows.Err()
}

func (s *Store) CreateProvider(ctx context.Context, p *market.Provider) error {
	_, err := s.db.ExecContext(ctx, `
		insert into providers (id, user_id, college, raw_location, created_at)
		values ($1, $2, $3, $4, $5)
	`, p.ID, p.UserID, p.College, p.RawLocation, p.CreatedAt)
	return err
}

func (s *Store) GetProvider(ctx context.Context, id string) (market.Provider, error) {
	var p market.Provider
	err := s.db.QueryRowContext(ctx, `
		select id, user_id, college, raw_location, created_at
		from providers
		where id = $1
	`, id).Scan(&p.ID, &p.UserID, &p.College, &p.RawLocation, &p.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return market.Provider{}, market.ErrNotFound
	}
	if err != nil {
		return market.Provider{}, err
	}
	return p, nil
}

func (s *Store) ListProviders(ctx context.Context) ([]market.Provider, error) {
	rows, err := s.db.QueryContext(ctx, `
		select id, user_id, college, raw_location, created_at
		from providers
		order by created_at
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []market.Provider
	for rows.Next() {
		var p market.Provider
		if err := rows.Scan(&p.ID, &p.UserID, &p.College, &p.RawLocation, &p.CreatedAt); err != nil {
			return nil, err
		}
		result = append(result, p)
	}
	return result, rows.Err()
}

func (s *Store) CreateNotification(ctx context.Context, n *market.Notification) error {
	payload := []byte("{}")
	if len(n.Payload) > 0 {
		raw, err := json.Marshal(n.Payload)
		if err != nil {
			return fmt.Errorf("marshal payload: %w", err)
		}
		payload = raw
	}
	_, err := s.db.ExecContext(ctx, `
		insert into notifications (id, user_id, type, payload, read, created_at)
		values ($1, $2, $3, $4, $5, $6)
	`, n.ID, n.UserID, n.Type, payload, n.Read, n.CreatedAt)
	return err
}

func (s *Store) ListUnreadNotifications(ctx context.Context, userID string) ([]market.Notification, error) {
	rows, err := s.db.QueryContext(ctx, `
		select id, user_id, type, payload, read, created_at
		from notifications
		where user_id = $1 and read = false
		order by created_at
	`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []market.Notification
	for rows.Next() {
		var (
			n   market.Notification
			raw []byte
		)
		if err := rows.Scan(&n.ID, &n.UserID, &n.Type, &raw, &n.Read, &n.CreatedAt); err != nil {
			return nil, err
		}
		if len(raw) > 0 {
			if err := json.Unmarshal(raw, &n.Payload); err != nil {
				return nil, fmt.Errorf("decode payload: %w", err)
			}
		}
		result = append(result, n)
	}
	return result, rows.Err()
}

func (s *Store) MarkNotificationRead(ctx context.Context, id, userID string) error {
	res, err := s.db.ExecContext(ctx, `
		update notifications set read = true where id = $1 and user_id = $2
	`, id, userID)
	if err != nil {
		return err
	}
	return requireRow(res)
}

func requireRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return market.ErrNotFound
	}
	return nil
}
