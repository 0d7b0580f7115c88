package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/gorilla/websocket"
)

// Smoke-checks a running skillbay-api end to end: issues tokens, opens a
// websocket for the client, runs a bid through its lifecycle over HTTP, and
// verifies the acceptance event arrives on the socket.
func main() {
	base := os.Getenv("SKILLBAY_API_URL")
	if base == "" {
		base = "http://localhost:8080"
	}

	clientTok := issueToken(base, "smoke-client", "client")
	providerTok := issueToken(base, "smoke-provider", "provider")

	wsURL := "ws" + strings.TrimPrefix(base, "http") + "/v1/ws"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		log.Fatalf("dial ws: %v", err)
	}
	defer conn.Close()

	expectEvent(conn, "connection_established")
	if err := conn.WriteJSON(map[string]string{"type": "auth", "token": clientTok}); err != nil {
		log.Fatalf("send auth: %v", err)
	}
	expectEvent(conn, "initial_notifications")
	expectEvent(conn, "auth_success")

	var provider struct {
		ID string `json:"id"`
	}
	post(base, "/v1/providers", providerTok, map[string]string{"college": "KBTU"}, &provider)

	var request struct {
		ID string `json:"id"`
	}
	post(base, "/v1/requests", clientTok, map[string]string{"title": "smoke request"}, &request)

	var bid struct {
		ID string `json:"id"`
	}
	post(base, "/v1/bids", providerTok, map[string]any{
		"request_id":  request.ID,
		"provider_id": provider.ID,
		"price":       1234,
	}, &bid)
	expectEvent(conn, "new_bid")

	var accepted struct {
		Bid struct {
			Status string `json:"status"`
		} `json:"bid"`
		Request struct {
			Status        string `json:"status"`
			AcceptedBidID string `json:"accepted_bid_id"`
		} `json:"request"`
	}
	post(base, "/v1/bids/"+bid.ID+"/accept", clientTok, nil, &accepted)
	if accepted.Bid.Status != "accepted" {
		log.Fatalf("bid status after accept: %s", accepted.Bid.Status)
	}
	if accepted.Request.Status != "closed" || accepted.Request.AcceptedBidID != bid.ID {
		log.Fatalf("request after accept: %+v", accepted.Request)
	}
	expectEvent(conn, "bid_accepted")

	fmt.Printf("✅ skillbay smoke test passed: request=%s bid=%s\n", request.ID, bid.ID)
}

func issueToken(base, user, role string) string {
	var resp struct {
		Token string `json:"token"`
	}
	post(base, "/v1/auth/token", "", map[string]string{"user": user, "role": role}, &resp)
	if resp.Token == "" {
		log.Fatalf("empty token for %s", user)
	}
	return resp.Token
}

func post(base, path, token string, body any, dst any) {
	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			log.Fatalf("marshal %s: %v", path, err)
		}
	}
	req, err := http.NewRequest(http.MethodPost, base+path, bytes.NewReader(payload))
	if err != nil {
		log.Fatalf("request %s: %v", path, err)
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		log.Fatalf("post %s: %v", path, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		log.Fatalf("post %s: status %d", path, resp.StatusCode)
	}
	if dst != nil {
		if err := json.NewDecoder(resp.Body).Decode(dst); err != nil {
			log.Fatalf("decode %s: %v", path, err)
		}
	}
}

func expectEvent(conn *websocket.Conn, eventType string) {
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	var ev struct {
		Type string `json:"type"`
	}
	if err := conn.ReadJSON(&ev); err != nil {
		log.Fatalf("read ws waiting for %s: %v", eventType, err)
	}
	if ev.Type != eventType {
		log.Fatalf("want %s event, got %s", eventType, ev.Type)
	}
}
