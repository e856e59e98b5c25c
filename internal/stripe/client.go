package stripe

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// Client wraps Stripe API calls using the REST API directly (no SDK dependency)
type Client struct {
	secretKey  string
	httpClient *http.Client
	baseURL    string
}

// NewClient creates a new Stripe API client
func NewClient(secretKey string) *Client {
	return &Client{
		secretKey:  secretKey,
		httpClient: &http.Client{},
		baseURL:    "https://api.stripe.com/v1",
	}
}

// CheckoutParams describes a one-time payment checkout session. Plans are
// priced ad hoc per session, so prices are inlined rather than referencing
// pre-created Stripe price objects.
type CheckoutParams struct {
	UserID        int64
	PlanID        int64
	PlanName      string
	CustomerEmail string
	AmountCents   int64
	Currency      string
	SuccessURL    string
	CancelURL     string
}

// CreateCheckoutSession creates a Stripe Checkout session for a one-time
// subscription payment. The user and plan ids ride along as metadata so
// the webhook can attribute the payment.
func (c *Client) CreateCheckoutSession(p CheckoutParams) (sessionID, sessionURL string, err error) {
	data := url.Values{}
	data.Set("mode", "payment")
	if p.CustomerEmail != "" {
		data.Set("customer_email", p.CustomerEmail)
	}
	data.Set("line_items[0][price_data][currency]", p.Currency)
	data.Set("line_items[0][price_data][unit_amount]", strconv.FormatInt(p.AmountCents, 10))
	data.Set("line_items[0][price_data][product_data][name]", p.PlanName+" Subscription")
	data.Set("line_items[0][quantity]", "1")
	data.Set("metadata[user_id]", strconv.FormatInt(p.UserID, 10))
	data.Set("metadata[plan_id]", strconv.FormatInt(p.PlanID, 10))
	data.Set("success_url", p.SuccessURL)
	data.Set("cancel_url", p.CancelURL)

	resp, err := c.post("/checkout/sessions", data)
	if err != nil {
		return "", "", fmt.Errorf("create checkout session: %w", err)
	}

	sessionID, _ = resp["id"].(string)
	sessionURL, _ = resp["url"].(string)
	if sessionID == "" {
		return "", "", fmt.Errorf("create checkout session: missing session ID in response")
	}

	return sessionID, sessionURL, nil
}

// Event is a parsed Stripe webhook event.
type Event struct {
	ID   string
	Type string
	Data map[string]interface{}
}

// Session extracts the checkout session object from the event payload.
func (e *Event) Session() map[string]interface{} {
	obj, _ := e.Data["object"].(map[string]interface{})
	return obj
}

// ConstructWebhookEvent verifies the Stripe-Signature header against the
// signing secret and parses the event body. Verification is skipped when
// no secret is configured (local development).
func ConstructWebhookEvent(body []byte, sigHeader, secret string) (*Event, error) {
	if secret != "" {
		if err := verifySignature(body, sigHeader, secret, time.Now()); err != nil {
			return nil, err
		}
	}

	var raw struct {
		ID   string                 `json:"id"`
		Type string                 `json:"type"`
		Data map[string]interface{} `json:"data"`
	}
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("parse webhook event: %w", err)
	}
	return &Event{ID: raw.ID, Type: raw.Type, Data: raw.Data}, nil
}

// verifySignature checks the t=...,v1=... scheme Stripe uses: the v1
// value is HMAC-SHA256(secret, "<t>.<body>").
func verifySignature(body []byte, sigHeader, secret string, now time.Time) error {
	var timestamp string
	var signatures []string
	for _, part := range strings.Split(sigHeader, ",") {
		kv := strings.SplitN(strings.TrimSpace(part), "=", 2)
		if len(kv) != 2 {
			continue
		}
		switch kv[0] {
		case "t":
			timestamp = kv[1]
		case "v1":
			signatures = append(signatures, kv[1])
		}
	}
	if timestamp == "" || len(signatures) == 0 {
		return fmt.Errorf("malformed signature header")
	}

	ts, err := strconv.ParseInt(timestamp, 10, 64)
	if err != nil {
		return fmt.Errorf("malformed signature timestamp")
	}
	if now.Sub(time.Unix(ts, 0)) > 5*time.Minute {
		return fmt.Errorf("signature timestamp too old")
	}

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(timestamp))
	mac.Write([]byte("."))
	mac.Write(body)
	expected := hex.EncodeToString(mac.Sum(nil))

	for _, sig := range signatures {
		if hmac.Equal([]byte(sig), []byte(expected)) {
			return nil
		}
	}
	return fmt.Errorf("signature verification failed")
}

// HTTP helpers

func (c *Client) post(path string, data url.Values) (map[string]interface{}, error) {
	req, err := http.NewRequest("POST", c.baseURL+path, strings.NewReader(data.Encode()))
	if err != nil {
		return nil, err
	}
	req.SetBasicAuth(c.secretKey, "")
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	return c.doRequest(req)
}

func (c *Client) doRequest(req *http.Request) (map[string]interface{}, error) {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("stripe request failed: %w", err)
	}
	defer resp.Body.Close()

	var buf bytes.Buffer
	if _, err := io.Copy(&buf, resp.Body); err != nil {
		return nil, fmt.Errorf("read stripe response: %w", err)
	}

	var result map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &result); err != nil {
		return nil, fmt.Errorf("parse stripe response: %w", err)
	}

	if resp.StatusCode >= 400 {
		errObj, _ := result["error"].(map[string]interface{})
		msg := "unknown error"
		if errObj != nil {
			if m, ok := errObj["message"].(string); ok {
				msg = m
			}
		}
		return nil, fmt.Errorf("stripe API error (%d): %s", resp.StatusCode, msg)
	}

	return result, nil
}
