package store

import (
	"context"
	"errors"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/shopspring/decimal"
)

func newPlanStoreMock(t *testing.T) (*PlanStore, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create sqlmock: %v", err)
	}
	t.Cleanup(func() {
		db.Close()
	})
	return &PlanStore{db: db}, mock
}

func planRows() *sqlmock.Rows {
	return sqlmock.NewRows([]string{
		"id", "name", "monthly_price", "storage_limit_gb", "has_premium_features",
		"created_at", "updated_at",
	})
}

func TestListPlansOrdered(t *testing.T) {
	s, mock := newPlanStoreMock(t)

	rows := planRows().
		AddRow(int64(1), "Basic", "99.00", 50, false, testNow, testNow).
		AddRow(int64(2), "Pro", "199.00", 250, false, testNow, testNow)

	mock.ExpectQuery(`FROM subscription_types`).WillReturnRows(rows)

	plans, err := s.ListPlans(context.Background())
	if err != nil {
		t.Fatalf("ListPlans returned error: %v", err)
	}
	if len(plans) != 2 {
		t.Fatalf("expected 2 plans, got %d", len(plans))
	}
	if plans[0].Name != "Basic" || !plans[0].MonthlyPrice.Equal(decimal.NewFromInt(99)) {
		t.Fatalf("unexpected first plan: %+v", plans[0])
	}
}

func TestGetPlanByIDNotFound(t *testing.T) {
	s, mock := newPlanStoreMock(t)

	mock.ExpectQuery(`FROM subscription_types WHERE id`).
		WithArgs(int64(99)).
		WillReturnRows(planRows())

	if _, err := s.GetPlanByID(context.Background(), 99); !errors.Is(err, ErrPlanNotFound) {
		t.Fatalf("expected ErrPlanNotFound, got %v", err)
	}
}

func TestGetUserIDByAPITokenNotFound(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create sqlmock: %v", err)
	}
	t.Cleanup(func() {
		db.Close()
	})
	s := &Store{db: db}

	mock.ExpectQuery(`SELECT id FROM users WHERE api_token`).
		WithArgs("nope").
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	if _, err := s.GetUserIDByAPIToken(context.Background(), "nope"); !errors.Is(err, ErrUserNotFound) {
		t.Fatalf("expected ErrUserNotFound, got %v", err)
	}
}

func TestGetUserIDByAPIToken(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create sqlmock: %v", err)
	}
	t.Cleanup(func() {
		db.Close()
	})
	s := &Store{db: db}

	mock.ExpectQuery(`SELECT id FROM users WHERE api_token`).
		WithArgs("tok123").
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(7)))

	id, err := s.GetUserIDByAPIToken(context.Background(), "tok123")
	if err != nil {
		t.Fatalf("GetUserIDByAPIToken returned error: %v", err)
	}
	if id != 7 {
		t.Fatalf("expected user id 7, got %d", id)
	}
}
