// Command smoke-market runs an end-to-end check against a running API
// seeded with the demo catalog (ops/migrations/seeds): token issuance,
// deposit commission math, checkout and an allocation round trip.
package main

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"os"
	"strings"
	"time"
)

type client struct {
	base string
	http *http.Client
}

func main() {
	base := os.Getenv("MODMARKET_API_URL")
	if base == "" {
		base = "http://localhost:8080"
	}
	c := &client{base: strings.TrimRight(base, "/"), http: &http.Client{Timeout: 10 * time.Second}}

	adminToken := c.token("root", "password")
	demoToken := c.token("demo", "password")
	demoID := subjectID(demoToken)

	// Deposit 1000 in ADD mode: 15% commission, net 850 credited.
	c.post("/v1/deposit", adminToken, map[string]any{
		"user_id": demoID,
		"amount":  1000,
		"mode":    "add",
	}, http.StatusCreated)

	var trail struct {
		Items []struct {
			Amount int64 `json:"amount"`
			Profit int64 `json:"profit"`
		} `json:"items"`
	}
	c.get("/v1/profit?limit=1", adminToken, &trail)
	if len(trail.Items) != 1 || trail.Items[0].Amount != 850 || trail.Items[0].Profit != 150 {
		log.Fatalf("deposit math off: %+v", trail.Items)
	}

	// Buy the free weather-pack onto the demo server, pull it to storage,
	// and confirm the claim shows up.
	c.post("/v1/checkout/mods", demoToken, map[string]any{
		"server_address": "127.0.0.1:27015",
		"mod_ids":        []int64{3},
	}, http.StatusCreated)

	var alloc struct {
		ServerMods  string         `json:"server_mods"`
		ClaimedMods map[string]int `json:"claimed_mods"`
	}
	c.postInto("/v1/allocations", demoToken, map[string]any{
		"server_address": "127.0.0.1:27015",
		"to_storage":     []int64{3},
	}, &alloc)
	if strings.Contains(alloc.ServerMods, "3") {
		log.Fatalf("mod 3 still on server: %q", alloc.ServerMods)
	}
	if alloc.ClaimedMods["3"] < 1 {
		log.Fatalf("claim for mod 3 missing: %v", alloc.ClaimedMods)
	}

	var claims struct {
		Claims map[string]int `json:"claims"`
	}
	c.get("/v1/claims", demoToken, &claims)
	if claims.Claims["3"] < 1 {
		log.Fatalf("claims endpoint disagrees: %v", claims.Claims)
	}

	fmt.Println("✅ market smoke test passed")
}

func (c *client) token(login, password string) string {
	var out struct {
		Token string `json:"token"`
	}
	c.postInto("/v1/auth/token", "", map[string]any{
		"login":    login,
		"password": password,
	}, &out)
	if out.Token == "" {
		log.Fatalf("empty token for %s", login)
	}
	return out.Token
}

func (c *client) do(method, path, token string, body any) *http.Response {
	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			log.Fatalf("marshal %s: %v", path, err)
		}
	}
	req, err := http.NewRequest(method, c.base+path, bytes.NewReader(payload))
	if err != nil {
		log.Fatalf("request %s: %v", path, err)
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		log.Fatalf("%s %s: %v", method, path, err)
	}
	return resp
}

func (c *client) post(path, token string, body any, wantStatus int) {
	resp := c.do(http.MethodPost, path, token, body)
	defer resp.Body.Close()
	if resp.StatusCode != wantStatus {
		log.Fatalf("POST %s: status %d, want %d", path, resp.StatusCode, wantStatus)
	}
}

func (c *client) postInto(path, token string, body, out any) {
	resp := c.do(http.MethodPost, path, token, body)
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		log.Fatalf("POST %s: status %d", path, resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		log.Fatalf("decode %s: %v", path, err)
	}
}

func (c *client) get(path, token string, out any) {
	resp := c.do(http.MethodGet, path, token, nil)
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		log.Fatalf("GET %s: status %d", path, resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		log.Fatalf("decode %s: %v", path, err)
	}
}

// subjectID pulls the numeric account id out of the token's payload segment.
func subjectID(token string) int64 {
	parts := strings.Split(token, ".")
	if len(parts) != 3 {
		log.Fatalf("malformed token")
	}
	raw, err := base64.RawURLEncoding.DecodeString(parts[1])
	if err != nil {
		log.Fatalf("decode token payload: %v", err)
	}
	var payload struct {
		UID int64 `json:"uid"`
	}
	if err := json.Unmarshal(raw, &payload); err != nil || payload.UID == 0 {
		log.Fatalf("token payload missing uid: %v", err)
	}
	return payload.UID
}
