package httpapi

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"

	"skillbay.org/internal/audit"
	"skillbay.org/internal/auth"
	"skillbay.org/internal/geo"
	"skillbay.org/internal/market"
)

type placeBidRequest struct {
	RequestID  string `json:"request_id" validate:"required"`
	ProviderID string `json:"provider_id" validate:"required"`
	Price      int64  `json:"price" validate:"gt=0"`
	Message    string `json:"message" validate:"max=2000"`
}

type createProviderRequest struct {
	College  string `json:"college" validate:"max=200"`
	Location string `json:"location" validate:"max=500"`
}

type createRequestRequest struct {
	Title    string `json:"title" validate:"required,max=300"`
	College  string `json:"college" validate:"max=200"`
	Location string `json:"location" validate:"max=500"`
}

type acceptBidResponse struct {
	Bid     market.Bid     `json:"bid"`
	Request market.Request `json:"request"`
}

type nearbyResponse struct {
	Items    []market.NearbyRequest `json:"items"`
	RadiusKm float64                `json:"radius_km"`
}

func (a *API) handleBidsCollection(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		a.placeBid(w, r)
	default:
		methodNotAllowed(w, r, http.MethodPost)
	}
}

// handleBidResource serves /v1/bids/{id}/accept and /v1/bids/{id}/reject.
func (a *API) handleBidResource(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/v1/bids/")
	if path == "" {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}

	id, action, ok := strings.Cut(path, "/")
	if !ok || id == "" {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}

	actor, ok := requireUser(w, r)
	if !ok {
		return
	}

	switch action {
	case "accept":
		bid, req, err := a.svc.AcceptBid(r.Context(), id, actor)
		if err != nil {
			handleMarketError(w, r, err)
			return
		}
		a.auditAction(r, "market.bid.accept", bid.ID)
		writeJSON(w, http.StatusOK, acceptBidResponse{Bid: bid, Request: req})
	case "reject":
		bid, err := a.svc.RejectBid(r.Context(), id, actor)
		if err != nil {
			handleMarketError(w, r, err)
			return
		}
		a.auditAction(r, "market.bid.reject", bid.ID)
		writeJSON(w, http.StatusOK, bid)
	default:
		writeError(w, r, http.StatusNotFound, "resource not found")
	}
}

func (a *API) placeBid(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireUser(w, r)
	if !ok {
		return
	}

	var req placeBidRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if err := a.validate.Struct(req); err != nil {
		writeError(w, r, http.StatusBadRequest, validationMessage(err))
		return
	}

	bid, err := a.svc.PlaceBid(r.Context(), req.RequestID, req.ProviderID, actor, req.Price, req.Message)
	if err != nil {
		handleMarketError(w, r, err)
		return
	}
	a.auditAction(r, "market.bid.place", bid.ID)
	w.Header().Set("Location", "/v1/bids/"+bid.ID)
	writeJSON(w, http.StatusCreated, bid)
}

func (a *API) handleProvidersCollection(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	actor, ok := requireUser(w, r)
	if !ok {
		return
	}

	var req createProviderRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if err := a.validate.Struct(req); err != nil {
		writeError(w, r, http.StatusBadRequest, validationMessage(err))
		return
	}

	p, err := a.svc.CreateProvider(r.Context(), actor, req.College, req.Location)
	if err != nil {
		handleMarketError(w, r, err)
		return
	}
	a.auditAction(r, "market.provider.create", p.ID)
	w.Header().Set("Location", "/v1/providers/"+p.ID)
	writeJSON(w, http.StatusCreated, p)
}

func (a *API) handleRequestsCollection(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	actor, ok := requireUser(w, r)
	if !ok {
		return
	}

	var req createRequestRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if err := a.validate.Struct(req); err != nil {
		writeError(w, r, http.StatusBadRequest, validationMessage(err))
		return
	}

	created, err := a.svc.CreateRequest(r.Context(), actor, req.Title, req.College, req.Location)
	if err != nil {
		handleMarketError(w, r, err)
		return
	}
	a.auditAction(r, "market.request.create", created.ID)
	w.Header().Set("Location", "/v1/requests/"+created.ID)
	writeJSON(w, http.StatusCreated, created)
}

func (a *API) handleRequestsNearby(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	if _, ok := requireUser(w, r); !ok {
		return
	}

	lat, err := parseCoord(r.URL.Query().Get("lat"), 90)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "lat must be a number in [-90, 90]")
		return
	}
	lon, err := parseCoord(r.URL.Query().Get("lon"), 180)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "lon must be a number in [-180, 180]")
		return
	}
	radius := market.FanoutRadiusKm
	if raw := strings.TrimSpace(r.URL.Query().Get("radius_km")); raw != "" {
		radius, err = strconv.ParseFloat(raw, 64)
		if err != nil || radius <= 0 || radius > 1000 {
			writeError(w, r, http.StatusBadRequest, "radius_km must be a number in (0, 1000]")
			return
		}
	}

	items, err := a.svc.OpenRequestsNear(r.Context(), geo.LatLng{Lat: lat, Lon: lon}, radius)
	if err != nil {
		handleMarketError(w, r, err)
		return
	}
	if items == nil {
		items = []market.NearbyRequest{}
	}
	writeJSON(w, http.StatusOK, nearbyResponse{Items: items, RadiusKm: radius})
}

func (a *API) handleNotificationsCollection(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	actor, ok := requireUser(w, r)
	if !ok {
		return
	}

	items, err := a.svc.UnreadNotifications(r.Context(), actor)
	if err != nil {
		handleMarketError(w, r, err)
		return
	}
	if items == nil {
		items = []market.Notification{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items})
}

// handleNotificationResource serves /v1/notifications/{id}/read.
func (a *API) handleNotificationResource(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/v1/notifications/")
	id, action, ok := strings.Cut(path, "/")
	if !ok || id == "" || action != "read" {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	actor, ok := requireUser(w, r)
	if !ok {
		return
	}

	if err := a.svc.MarkRead(r.Context(), id, actor); err != nil {
		handleMarketError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "read"})
}

func (a *API) auditAction(r *http.Request, event, entityID string) {
	_ = audit.LogEvent(r.Context(), event, map[string]any{"entity_id": entityID})
}

func requireUser(w http.ResponseWriter, r *http.Request) (string, bool) {
	userID, ok := auth.UserIDFromContext(r.Context())
	if !ok || userID == "" {
		writeError(w, r, http.StatusUnauthorized, "authentication required")
		return "", false
	}
	return userID, true
}

func parseCoord(raw string, bound float64) (float64, error) {
	v, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
	if err != nil {
		return 0, err
	}
	if v < -bound || v > bound {
		return 0, errors.New("out of range")
	}
	return v, nil
}

func validationMessage(err error) string {
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		f := verrs[0]
		return strings.ToLower(f.Field()) + " failed validation on " + f.Tag()
	}
	return err.Error()
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	reader := http.MaxBytesReader(w, r.Body, 1<<20)
	defer reader.Close()
	dec := json.NewDecoder(reader)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return errors.New("request body is required")
		}
		return err
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		if err == nil {
			return errors.New("unexpected data after JSON body")
		}
		return err
	}
	return nil
}

func handleMarketError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, market.ErrNotFound):
		writeError(w, r, http.StatusNotFound, err.Error())
	case errors.Is(err, market.ErrUnauthorized):
		writeError(w, r, http.StatusForbidden, err.Error())
	case errors.Is(err, market.ErrInvalidState):
		writeError(w, r, http.StatusBadRequest, err.Error())
	default:
		writeError(w, r, http.StatusInternalServerError, "internal error")
	}
}

func writeError(w http.ResponseWriter, r *http.Request, code int, msg string) {
	payload := map[string]any{
		"error": msg,
	}
	if rid := RequestIDFromContext(r.Context()); rid != "" {
		payload["request_id"] = rid
	}
	writeJSON(w, code, payload)
}

func methodNotAllowed(w http.ResponseWriter, r *http.Request, allowed ...string) {
	w.Header().Set("Allow", strings.Join(allowed, ", "))
	writeError(w, r, http.StatusMethodNotAllowed, "method not allowed")
}
