// Package audit serves the audit trail recorded by document services.
package audit

import (
	"context"
	"errors"
	"strings"

	"github.com/odyssey-erp/odyssey-logistics/internal/shared"
)

const (
	defaultPageSize = 20
	maxPageSize     = 100
)

// Repository reads audit entries.
type Repository interface {
	Timeline(ctx context.Context, q Query) ([]TimelineRow, error)
}

// Service coordinates audit trail reads.
type Service struct {
	repo Repository
}

// NewService constructs the audit service.
func NewService(repo Repository) *Service {
	return &Service{repo: repo}
}

// Timeline returns one page of entries.
func (s *Service) Timeline(ctx context.Context, filters TimelineFilters) (Result, error) {
	if s.repo == nil {
		return Result{}, errors.New("audit: repository not configured")
	}
	q, err := normalize(filters)
	if err != nil {
		return Result{}, err
	}
	pageSize := filters.PageSize
	if pageSize <= 0 {
		pageSize = defaultPageSize
	}
	if pageSize > maxPageSize {
		pageSize = maxPageSize
	}
	page := filters.Page
	if page <= 0 {
		page = 1
	}
	q.Offset = (page - 1) * pageSize
	q.Limit = pageSize + 1

	rows, err := s.repo.Timeline(ctx, q)
	if err != nil {
		return Result{}, err
	}
	hasNext := len(rows) > pageSize
	if hasNext {
		rows = rows[:pageSize]
	}
	if rows == nil {
		rows = []TimelineRow{}
	}
	paging := PagingInfo{Page: page, PageSize: pageSize, HasNext: hasNext}
	if page > 1 {
		paging.PrevPage = page - 1
	}
	if hasNext {
		paging.NextPage = page + 1
	}
	return Result{Rows: rows, Paging: paging}, nil
}

// Export returns every matching entry without paging.
func (s *Service) Export(ctx context.Context, filters TimelineFilters) ([]TimelineRow, error) {
	if s.repo == nil {
		return nil, errors.New("audit: repository not configured")
	}
	q, err := normalize(filters)
	if err != nil {
		return nil, err
	}
	return s.repo.Timeline(ctx, q)
}

func normalize(f TimelineFilters) (Query, error) {
	if f.From != nil && f.To != nil && f.To.Before(*f.From) {
		return Query{}, shared.Invalid("to", "must not be before from")
	}
	return Query{
		From:     f.From,
		To:       f.To,
		Actor:    strings.TrimSpace(f.Actor),
		Entity:   strings.TrimSpace(f.Entity),
		EntityID: strings.TrimSpace(f.EntityID),
		Action:   strings.ToUpper(strings.TrimSpace(f.Action)),
	}, nil
}
