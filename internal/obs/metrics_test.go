package obs

import "testing"

func TestCanonicalPath(t *testing.T) {
	cases := map[string]string{
		"":                          "/",
		"/metrics":                  "/metrics",
		"/v1/bids":                  "/v1/bids",
		"/v1/bids/abc":              "/v1/bids/:id",
		"/v1/bids/abc/accept":       "/v1/bids/:id/accept",
		"/v1/bids/abc/reject":       "/v1/bids/:id/reject",
		"/v1/bids/abc/other":        "/v1/bids/abc/other",
		"/v1/requests":              "/v1/requests",
		"/v1/requests/nearby":       "/v1/requests/nearby",
		"/v1/requests/req1":         "/v1/requests/:id",
		"/v1/requests/nearby?km=10": "/v1/requests/nearby",
		"/v1/ws":                    "/v1/ws",
	}
	for input, expected := range cases {
		if got := CanonicalPath(input); got != expected {
			t.Fatalf("CanonicalPath(%q)=%q, want %q", input, got, expected)
		}
	}
}
