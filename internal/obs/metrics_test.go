package obs

import "testing"

func TestCanonicalPath(t *testing.T) {
	cases := map[string]string{
		"":                              "/",
		"/metrics":                      "/metrics",
		"/v1/entitlements/42/autorenew": "/v1/entitlements/:id/autorenew",
		"/v1/entitlements/42":           "/v1/entitlements/:id",
		"/v1/profit":                    "/v1/profit",
		"/v1/profit?limit=10":           "/v1/profit",
		"/v1/profit/01J5X2/cashout":     "/v1/profit/:id/cashout",
		"/v1/profit/01J5X2":             "/v1/profit/:id",
		"/v1/checkout/mods":             "/v1/checkout/mods",
		"/v1/allocations":               "/v1/allocations",
	}
	for input, expected := range cases {
		if got := CanonicalPath(input); got != expected {
			t.Fatalf("CanonicalPath(%q)=%q, want %q", input, got, expected)
		}
	}
}
