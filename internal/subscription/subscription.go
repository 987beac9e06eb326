// Package subscription resolves a content owner's plan, which decides the
// sources a scan may use.
package subscription

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// Plan is a subscription tier.
type Plan string

// Plans, cheapest first.
const (
	PlanFree       Plan = "free"
	PlanStarter    Plan = "starter"
	PlanPro        Plan = "pro"
	PlanEnterprise Plan = "enterprise"
)

// Status values stored with a subscription. Only active subscriptions grant
// their plan.
const (
	StatusActive   = "active"
	StatusCanceled = "canceled"
	StatusPastDue  = "past_due"
)

// ParsePlan validates s as a plan name.
func ParsePlan(s string) (Plan, error) {
	switch p := Plan(s); p {
	case PlanFree, PlanStarter, PlanPro, PlanEnterprise:
		return p, nil
	}
	return "", fmt.Errorf("unknown plan %q", s)
}

// AllowsWebSearch reports whether scans for this plan may call the paid web
// search API.
func (p Plan) AllowsWebSearch() bool {
	switch p {
	case PlanStarter, PlanPro, PlanEnterprise:
		return true
	default:
		return false
	}
}

// Service reads and writes subscriptions.
type Service struct {
	db *sql.DB
}

// NewService creates a subscription service.
func NewService(db *sql.DB) *Service {
	return &Service{db: db}
}

// Lookup returns the plan in effect for userID. Users without a subscription
// row, or whose subscription is not active, are on the free plan.
func (s *Service) Lookup(ctx context.Context, userID string) (Plan, error) {
	var plan, status string
	err := s.db.QueryRowContext(ctx,
		`SELECT plan, status FROM subscriptions WHERE user_id = ?`, userID).Scan(&plan, &status)
	if errors.Is(err, sql.ErrNoRows) {
		return PlanFree, nil
	}
	if err != nil {
		return "", fmt.Errorf("looking up subscription: %w", err)
	}
	if status != StatusActive {
		return PlanFree, nil
	}
	p, err := ParsePlan(plan)
	if err != nil {
		return PlanFree, nil //nolint:nilerr // unknown stored plans degrade to free
	}
	return p, nil
}

// Set records an active subscription to plan for userID.
func (s *Service) Set(ctx context.Context, userID string, plan Plan) error {
	return s.SetWithStatus(ctx, userID, plan, StatusActive)
}

// SetWithStatus records a subscription with an explicit status.
func (s *Service) SetWithStatus(ctx context.Context, userID string, plan Plan, status string) error {
	if _, err := ParsePlan(string(plan)); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO subscriptions (user_id, plan, status, updated_at) VALUES (?, ?, ?, ?)
		ON CONFLICT(user_id) DO UPDATE SET plan = excluded.plan, status = excluded.status, updated_at = excluded.updated_at
	`, userID, string(plan), status, time.Now().UTC().Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("setting subscription: %w", err)
	}
	return nil
}
