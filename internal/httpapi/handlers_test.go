package httpapi

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"skillbay.org/internal/auth"
	"skillbay.org/internal/market"
	"skillbay.org/internal/ws"
)

type apiClient struct {
	baseURL string
	client  *http.Client
	t       *testing.T
	store   *market.InMemory
}

func newTestAPI(t *testing.T) *apiClient {
	t.Helper()

	t.Setenv("SKILLBAY_AUTH_SECRET", "test-secret")
	auth.ResetSecretForTests()
	t.Cleanup(auth.ResetSecretForTests)

	store := market.NewInMemory()
	svc := market.NewService(store)
	registry := ws.NewRegistry()
	dispatcher := ws.NewDispatcher(registry)
	dispatcher.SetPartyResolver(svc)
	svc.SetNotifier(dispatcher)
	sup := ws.NewSupervisor(registry, dispatcher, svc, nil)

	api := New(ReadyProbe{}, "test", svc, sup)
	api.rateBurst = 100
	api.ratePerSec = 100

	srv := httptest.NewServer(api.Handler())
	t.Cleanup(srv.Close)

	return &apiClient{
		baseURL: srv.URL,
		client:  srv.Client(),
		t:       t,
		store:   store,
	}
}

func (c *apiClient) post(path string, body any, headers map[string]string) *http.Response {
	c.t.Helper()
	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			c.t.Fatalf("marshal body: %v", err)
		}
	}
	req, err := http.NewRequest(http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		c.t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		c.t.Fatalf("do request: %v", err)
	}
	return resp
}

func (c *apiClient) get(path string, params url.Values, headers map[string]string) *http.Response {
	c.t.Helper()
	u, err := url.Parse(c.baseURL + path)
	if err != nil {
		c.t.Fatalf("parse url: %v", err)
	}
	if params != nil {
		u.RawQuery = params.Encode()
	}
	req, err := http.NewRequest(http.MethodGet, u.String(), nil)
	if err != nil {
		c.t.Fatalf("new request: %v", err)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		c.t.Fatalf("do request: %v", err)
	}
	return resp
}

func decodeBody(t *testing.T, resp *http.Response, dst any) {
	t.Helper()
	defer resp.Body.Close()
	if err := json.NewDecoder(resp.Body).Decode(dst); err != nil {
		t.Fatalf("decode body: %v", err)
	}
}

func (c *apiClient) token(user, role string) string {
	c.t.Helper()
	resp := c.post("/v1/auth/token", map[string]string{"user": user, "role": role}, nil)
	if resp.StatusCode != http.StatusOK {
		c.t.Fatalf("token issuance: status %d", resp.StatusCode)
	}
	var body tokenResponse
	decodeBody(c.t, resp, &body)
	return body.Token
}

func authz(token string) map[string]string {
	return map[string]string{"Authorization": "Bearer " + token}
}

func TestHealthz(t *testing.T) {
	c := newTestAPI(t)
	resp := c.get("/healthz", nil, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	var body map[string]any
	decodeBody(t, resp, &body)
	if body["service"] != "skillbay-api" {
		t.Fatalf("unexpected body: %v", body)
	}
}

func TestTokenIssuanceRejectsUnknownRole(t *testing.T) {
	c := newTestAPI(t)
	resp := c.post("/v1/auth/token", map[string]string{"user": "u1", "role": "admin"}, nil)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d", resp.StatusCode)
	}
}

func TestProtectedRoutesRequireToken(t *testing.T) {
	c := newTestAPI(t)
	resp := c.post("/v1/bids", map[string]any{"request_id": "req_1", "provider_id": "prv_1", "price": 100}, nil)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("status = %d", resp.StatusCode)
	}

	resp = c.post("/v1/bids", nil, authz("garbage-token"))
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("status = %d", resp.StatusCode)
	}
}

func TestBidLifecycleOverHTTP(t *testing.T) {
	c := newTestAPI(t)
	clientTok := c.token("client-1", "client")
	providerTok := c.token("provider-1", "provider")

	var provider market.Provider
	resp := c.post("/v1/providers", map[string]string{"college": "KBTU", "location": "43.24,76.95"}, authz(providerTok))
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create provider: status %d", resp.StatusCode)
	}
	decodeBody(t, resp, &provider)

	var request market.Request
	resp = c.post("/v1/requests", map[string]string{"title": "fix sink", "college": "kbtu", "location": "43.25,76.91"}, authz(clientTok))
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create request: status %d", resp.StatusCode)
	}
	decodeBody(t, resp, &request)
	if request.Status != market.RequestOpen {
		t.Fatalf("request status = %s", request.Status)
	}

	var bid market.Bid
	resp = c.post("/v1/bids", map[string]any{
		"request_id":  request.ID,
		"provider_id": provider.ID,
		"price":       5000,
		"message":     "can do today",
	}, authz(providerTok))
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("place bid: status %d", resp.StatusCode)
	}
	decodeBody(t, resp, &bid)
	if !bid.GraduateOfRequestedCollege {
		t.Fatalf("graduate flag not derived: %+v", bid)
	}

	// Owner notification for the new bid is queryable.
	resp = c.get("/v1/notifications", nil, authz(clientTok))
	var notifications struct {
		Items []market.Notification `json:"items"`
	}
	decodeBody(t, resp, &notifications)
	if len(notifications.Items) != 1 || notifications.Items[0].Type != market.EventNewBid {
		t.Fatalf("unexpected notifications: %+v", notifications.Items)
	}

	// Only the request owner may accept.
	resp = c.post("/v1/bids/"+bid.ID+"/accept", nil, authz(providerTok))
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("accept by non-owner: status %d", resp.StatusCode)
	}

	resp = c.post("/v1/bids/"+bid.ID+"/accept", nil, authz(clientTok))
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("accept: status %d", resp.StatusCode)
	}
	// The response carries both mutated records.
	var accepted struct {
		Bid     market.Bid     `json:"bid"`
		Request market.Request `json:"request"`
	}
	decodeBody(t, resp, &accepted)
	if accepted.Bid.Status != market.BidAccepted {
		t.Fatalf("bid status = %s", accepted.Bid.Status)
	}
	if accepted.Request.Status != market.RequestClosed {
		t.Fatalf("request status = %s", accepted.Request.Status)
	}
	if accepted.Request.AcceptedBidID != bid.ID {
		t.Fatalf("accepted_bid_id = %s", accepted.Request.AcceptedBidID)
	}

	// A second accept hits the non-pending precondition.
	resp = c.post("/v1/bids/"+bid.ID+"/accept", nil, authz(clientTok))
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("double accept: status %d", resp.StatusCode)
	}
}

func TestAcceptUnknownBidReturns404(t *testing.T) {
	c := newTestAPI(t)
	tok := c.token("client-1", "client")
	resp := c.post("/v1/bids/bid_missing/accept", nil, authz(tok))
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("status = %d", resp.StatusCode)
	}
}

func TestPlaceBidValidation(t *testing.T) {
	c := newTestAPI(t)
	tok := c.token("provider-1", "provider")

	resp := c.post("/v1/bids", map[string]any{"request_id": "req_1", "provider_id": "prv_1", "price": 0}, authz(tok))
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("zero price: status %d", resp.StatusCode)
	}

	resp = c.post("/v1/bids", map[string]any{"provider_id": "prv_1", "price": 100}, authz(tok))
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("missing request_id: status %d", resp.StatusCode)
	}
}

func TestRequestsNearby(t *testing.T) {
	c := newTestAPI(t)
	clientTok := c.token("client-1", "client")

	resp := c.post("/v1/requests", map[string]string{"title": "near", "location": "43.25,76.91"}, authz(clientTok))
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create request: status %d", resp.StatusCode)
	}
	resp = c.post("/v1/requests", map[string]string{"title": "vague", "location": "ask around"}, authz(clientTok))
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create request: status %d", resp.StatusCode)
	}

	params := url.Values{"lat": {"43.24"}, "lon": {"76.90"}, "radius_km": {"30"}}
	resp = c.get("/v1/requests/nearby", params, authz(clientTok))
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("nearby: status %d", resp.StatusCode)
	}
	var body nearbyResponse
	decodeBody(t, resp, &body)
	if len(body.Items) != 1 || body.Items[0].Title != "near" {
		t.Fatalf("unexpected items: %+v", body.Items)
	}

	resp = c.get("/v1/requests/nearby", url.Values{"lat": {"91"}, "lon": {"0"}}, authz(clientTok))
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("bad lat: status %d", resp.StatusCode)
	}
}

func TestMarkNotificationRead(t *testing.T) {
	c := newTestAPI(t)
	clientTok := c.token("client-1", "client")
	providerTok := c.token("provider-1", "provider")

	var provider market.Provider
	decodeBody(t, c.post("/v1/providers", map[string]string{}, authz(providerTok)), &provider)
	var request market.Request
	decodeBody(t, c.post("/v1/requests", map[string]string{"title": "tutoring"}, authz(clientTok)), &request)
	var bid market.Bid
	decodeBody(t, c.post("/v1/bids", map[string]any{
		"request_id":  request.ID,
		"provider_id": provider.ID,
		"price":       1000,
	}, authz(providerTok)), &bid)

	var notifications struct {
		Items []market.Notification `json:"items"`
	}
	decodeBody(t, c.get("/v1/notifications", nil, authz(clientTok)), &notifications)
	if len(notifications.Items) != 1 {
		t.Fatalf("want one notification, got %+v", notifications.Items)
	}
	ntfID := notifications.Items[0].ID

	// Another user cannot mark it.
	resp := c.post("/v1/notifications/"+ntfID+"/read", nil, authz(providerTok))
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("foreign mark read: status %d", resp.StatusCode)
	}

	resp = c.post("/v1/notifications/"+ntfID+"/read", nil, authz(clientTok))
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("mark read: status %d", resp.StatusCode)
	}

	decodeBody(t, c.get("/v1/notifications", nil, authz(clientTok)), &notifications)
	if len(notifications.Items) != 0 {
		t.Fatalf("notification still unread: %+v", notifications.Items)
	}
}
