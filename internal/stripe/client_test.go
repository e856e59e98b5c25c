package stripe

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestCreateCheckoutSession(t *testing.T) {
	var form map[string][]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/checkout/sessions" {
			t.Fatalf("unexpected path: %s", r.URL.Path)
		}
		if _, _, ok := r.BasicAuth(); !ok {
			t.Fatal("expected basic auth")
		}
		if err := r.ParseForm(); err != nil {
			t.Fatalf("parse form: %v", err)
		}
		form = r.PostForm

		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"id": "cs_test_1", "url": "https://checkout.stripe.com/c/cs_test_1"}`)
	}))
	t.Cleanup(srv.Close)

	client := NewClient("sk_test_123")
	client.baseURL = srv.URL

	sessionID, sessionURL, err := client.CreateCheckoutSession(CheckoutParams{
		UserID:        7,
		PlanID:        2,
		PlanName:      "Pro",
		CustomerEmail: "user@example.com",
		AmountCents:   50000,
		Currency:      "mxn",
		SuccessURL:    "https://app.example.com/success",
		CancelURL:     "https://app.example.com/cancel",
	})
	if err != nil {
		t.Fatalf("CreateCheckoutSession returned error: %v", err)
	}

	if sessionID != "cs_test_1" || sessionURL == "" {
		t.Fatalf("unexpected session: %s %s", sessionID, sessionURL)
	}

	expect := map[string]string{
		"mode": "payment",
		"line_items[0][price_data][currency]":                "mxn",
		"line_items[0][price_data][unit_amount]":             "50000",
		"line_items[0][price_data][product_data][name]":      "Pro Subscription",
		"line_items[0][quantity]":                            "1",
		"customer_email":                                     "user@example.com",
		"metadata[user_id]":                                  "7",
		"metadata[plan_id]":                                  "2",
	}
	for key, want := range expect {
		if got := form[key]; len(got) != 1 || got[0] != want {
			t.Fatalf("form field %q: expected %q, got %v", key, want, got)
		}
	}
}

func TestCreateCheckoutSessionAPIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusPaymentRequired)
		fmt.Fprint(w, `{"error": {"message": "Your card was declined."}}`)
	}))
	t.Cleanup(srv.Close)

	client := NewClient("sk_test_123")
	client.baseURL = srv.URL

	_, _, err := client.CreateCheckoutSession(CheckoutParams{PlanName: "Pro", Currency: "mxn"})
	if err == nil {
		t.Fatal("expected error from API failure")
	}
}

func signedHeader(body []byte, secret string, ts time.Time) string {
	t := fmt.Sprintf("%d", ts.Unix())
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(t))
	mac.Write([]byte("."))
	mac.Write(body)
	return fmt.Sprintf("t=%s,v1=%s", t, hex.EncodeToString(mac.Sum(nil)))
}

func TestConstructWebhookEventVerifiesSignature(t *testing.T) {
	body := []byte(`{"id": "evt_1", "type": "checkout.session.completed", "data": {"object": {"id": "cs_1"}}}`)
	secret := "whsec_test"

	event, err := ConstructWebhookEvent(body, signedHeader(body, secret, time.Now()), secret)
	if err != nil {
		t.Fatalf("ConstructWebhookEvent returned error: %v", err)
	}
	if event.ID != "evt_1" || event.Type != "checkout.session.completed" {
		t.Fatalf("unexpected event: %+v", event)
	}
	session := event.Session()
	if session["id"] != "cs_1" {
		t.Fatalf("unexpected session object: %v", session)
	}
}

func TestConstructWebhookEventRejectsTamperedBody(t *testing.T) {
	body := []byte(`{"id": "evt_1", "type": "checkout.session.completed"}`)
	header := signedHeader(body, "whsec_test", time.Now())

	tampered := []byte(`{"id": "evt_1", "type": "checkout.session.expired"}`)
	if _, err := ConstructWebhookEvent(tampered, header, "whsec_test"); err == nil {
		t.Fatal("expected signature failure for tampered body")
	}
}

func TestConstructWebhookEventRejectsStaleTimestamp(t *testing.T) {
	body := []byte(`{"id": "evt_1", "type": "checkout.session.completed"}`)
	header := signedHeader(body, "whsec_test", time.Now().Add(-time.Hour))

	if _, err := ConstructWebhookEvent(body, header, "whsec_test"); err == nil {
		t.Fatal("expected failure for stale timestamp")
	}
}

func TestConstructWebhookEventSkipsVerificationWithoutSecret(t *testing.T) {
	body := []byte(`{"id": "evt_1", "type": "checkout.session.completed"}`)

	event, err := ConstructWebhookEvent(body, "", "")
	if err != nil {
		t.Fatalf("ConstructWebhookEvent returned error: %v", err)
	}
	if event.Type != "checkout.session.completed" {
		t.Fatalf("unexpected event type: %s", event.Type)
	}
}
