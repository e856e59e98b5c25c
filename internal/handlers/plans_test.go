package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/nimbusvault/backend/internal/models"
)

type mockPlanCatalog struct {
	plans []models.PlanTier
}

func (m *mockPlanCatalog) ListPlans(ctx context.Context) ([]models.PlanTier, error) {
	return m.plans, nil
}

func (m *mockPlanCatalog) GetPlanByID(ctx context.Context, id int64) (*models.PlanTier, error) {
	for i := range m.plans {
		if m.plans[i].ID == id {
			return &m.plans[i], nil
		}
	}
	return nil, context.Canceled
}

func catalogFixture() *mockPlanCatalog {
	return &mockPlanCatalog{plans: []models.PlanTier{
		{ID: 1, Name: "Basic", MonthlyPrice: decimal.NewFromInt(300), StorageLimitGB: 50},
		{ID: 2, Name: "Pro", MonthlyPrice: decimal.NewFromInt(600), StorageLimitGB: 250},
		{ID: 3, Name: "Premium", MonthlyPrice: decimal.NewFromInt(900), StorageLimitGB: 1000, HasPremiumFeatures: true},
	}}
}

func TestListPlansWithoutSubscription(t *testing.T) {
	handler := ListPlans(catalogFixture(), &mockSubscriptionReader{})
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, authedRequest(http.MethodGet, "/api/plans", ""))

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}

	var body struct {
		Plans []planPayload `json:"plans"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("invalid response JSON: %v", err)
	}
	if len(body.Plans) != 3 {
		t.Fatalf("expected 3 plans, got %d", len(body.Plans))
	}
	for _, p := range body.Plans {
		if p.Discount != "" || p.FinalPrice != "" {
			t.Fatalf("expected no proration preview without a subscription, got %+v", p)
		}
	}
}

func TestListPlansAnnotatesUpgrades(t *testing.T) {
	catalog := catalogFixture()
	basic := catalog.plans[0]
	now := time.Now().UTC()
	current := &models.UserSubscription{
		ID: 10, PlanID: basic.ID,
		StartDate: now.Add(-20 * 24 * time.Hour),
		// Slightly over 10 days left so whole-day truncation lands on 10.
		EndDate:  now.Add(10*24*time.Hour + time.Hour),
		IsActive: true,
		Plan:     &basic,
	}

	handler := ListPlans(catalog, &mockSubscriptionReader{current: current})
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, authedRequest(http.MethodGet, "/api/plans", ""))

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}

	var body struct {
		Plans          []planPayload `json:"plans"`
		RemainingDays  int           `json:"remaining_days"`
		RemainingValue string        `json:"remaining_value"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("invalid response JSON: %v", err)
	}

	if body.RemainingDays != 10 {
		t.Fatalf("expected 10 remaining days, got %d", body.RemainingDays)
	}
	if body.RemainingValue != "100.00" {
		t.Fatalf("expected remaining value 100.00, got %s", body.RemainingValue)
	}

	byID := map[int64]planPayload{}
	for _, p := range body.Plans {
		byID[p.ID] = p
	}

	// The held tier carries no preview.
	if byID[1].Discount != "" {
		t.Fatalf("current tier must not carry a discount, got %+v", byID[1])
	}
	// Pricier tiers are discounted by the remaining credit.
	if byID[2].Discount != "100.00" || byID[2].FinalPrice != "500.00" {
		t.Fatalf("unexpected Pro preview: %+v", byID[2])
	}
	if byID[3].Discount != "100.00" || byID[3].FinalPrice != "800.00" {
		t.Fatalf("unexpected Premium preview: %+v", byID[3])
	}
}

func TestListPlansNoDiscountOnDowngrades(t *testing.T) {
	catalog := catalogFixture()
	pro := catalog.plans[1]
	now := time.Now().UTC()
	current := &models.UserSubscription{
		ID: 10, PlanID: pro.ID,
		StartDate: now.Add(-20 * 24 * time.Hour),
		EndDate:   now.Add(10*24*time.Hour + time.Hour),
		IsActive:  true,
		Plan:      &pro,
	}

	handler := ListPlans(catalog, &mockSubscriptionReader{current: current})
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, authedRequest(http.MethodGet, "/api/plans", ""))

	var body struct {
		Plans []planPayload `json:"plans"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("invalid response JSON: %v", err)
	}

	for _, p := range body.Plans {
		if p.ID == 1 && p.Discount != "" {
			t.Fatalf("downgrade tier must not carry a discount, got %+v", p)
		}
	}
}

func TestListPlansAnonymous(t *testing.T) {
	handler := ListPlans(catalogFixture(), &mockSubscriptionReader{})
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/plans", nil))

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}

	var body map[string]json.RawMessage
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("invalid response JSON: %v", err)
	}
	if _, ok := body["current_subscription"]; ok {
		t.Fatal("anonymous listing must not carry a current subscription")
	}
}

func TestListPlansIgnoresElapsedPeriod(t *testing.T) {
	catalog := catalogFixture()
	basic := catalog.plans[0]
	now := time.Now().UTC()
	// Still flagged active because the sweep has not run yet, but the
	// period itself has ended.
	current := &models.UserSubscription{
		ID: 10, PlanID: basic.ID,
		StartDate: now.Add(-31 * 24 * time.Hour),
		EndDate:   now.Add(-24 * time.Hour),
		IsActive:  true,
		Plan:      &basic,
	}

	handler := ListPlans(catalog, &mockSubscriptionReader{current: current})
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, authedRequest(http.MethodGet, "/api/plans", ""))

	var body map[string]json.RawMessage
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("invalid response JSON: %v", err)
	}

	if _, ok := body["current_subscription"]; ok {
		t.Fatal("elapsed period must not be reported as current")
	}
	if _, ok := body["remaining_value"]; ok {
		t.Fatal("elapsed period has no remaining value")
	}

	var plans struct {
		Plans []planPayload `json:"plans"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &plans); err != nil {
		t.Fatalf("invalid response JSON: %v", err)
	}
	for _, p := range plans.Plans {
		if p.Discount != "" {
			t.Fatalf("elapsed period must not discount tier %d", p.ID)
		}
	}
}
