package domain

import (
	"time"
)

const (
	// DefaultPageLimit is applied when callers omit a page size.
	DefaultPageLimit = 10
	// MaxPageLimit caps the page size accepted from clients.
	MaxPageLimit = 100
)

// OffsetPagination defines limit/offset paging inputs for list operations.
type OffsetPagination struct {
	Limit  int
	Offset int
}

// Normalize applies defaults and bounds to the pagination inputs.
func (p OffsetPagination) Normalize() OffsetPagination {
	if p.Limit <= 0 {
		p.Limit = DefaultPageLimit
	}
	if p.Limit > MaxPageLimit {
		p.Limit = MaxPageLimit
	}
	if p.Offset < 0 {
		p.Offset = 0
	}
	return p
}

// OffsetPage packages list results together with the total row count.
type OffsetPage[T any] struct {
	Items  []T
	Total  int
	Limit  int
	Offset int
}

// CurrentPage reports the 1-based page index implied by limit and offset.
func (p OffsetPage[T]) CurrentPage() int {
	if p.Limit <= 0 {
		return 1
	}
	return p.Offset/p.Limit + 1
}

// TotalPages reports how many pages of Limit items cover Total. Zero when there are no rows.
func (p OffsetPage[T]) TotalPages() int {
	if p.Total <= 0 || p.Limit <= 0 {
		return 0
	}
	return (p.Total + p.Limit - 1) / p.Limit
}

// RangeQuery represents inclusive range filters for numeric or timestamp fields.
type RangeQuery[T comparable] struct {
	From *T
	To   *T
}

// User is the persisted profile of an order owner. Deactivated users cannot place orders.
type User struct {
	ID          string
	Email       string
	DisplayName string
	IsActive    bool
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

const (
	// HealthStatusOK indicates all dependencies are healthy.
	HealthStatusOK = "ok"
	// HealthStatusDegraded indicates at least one dependency is degraded but service remains running.
	HealthStatusDegraded = "degraded"
	// HealthStatusError indicates the service or a critical dependency is unavailable.
	HealthStatusError = "error"
)

// SystemHealthCheck describes the outcome of an individual dependency probe.
type SystemHealthCheck struct {
	Status    string
	Detail    string
	Error     string
	Latency   time.Duration
	CheckedAt time.Time
}

// SystemHealthReport aggregates dependency status for health endpoints.
type SystemHealthReport struct {
	Status      string
	Checks      map[string]SystemHealthCheck
	Version     string
	CommitSHA   string
	Environment string
	OrderStore  string
	Uptime      time.Duration
	GeneratedAt time.Time
}
