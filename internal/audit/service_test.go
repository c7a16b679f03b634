package audit

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/odyssey-logistics/internal/shared"
)

type stubTimelineRepo struct {
	rows []TimelineRow
	last Query
}

func (s *stubTimelineRepo) Timeline(ctx context.Context, q Query) ([]TimelineRow, error) {
	s.last = q
	if q.Limit > 0 && len(s.rows) > q.Limit {
		return s.rows[:q.Limit], nil
	}
	return s.rows, nil
}

func row(at, action, entity, id string) TimelineRow {
	ts, _ := time.Parse(time.RFC3339, at)
	return TimelineRow{At: ts, Actor: "qc.user", Action: action, Entity: entity, EntityID: id}
}

func sampleRows() []TimelineRow {
	return []TimelineRow{
		row("2025-05-10T10:00:00Z", "LOAD_DISPATCH_SUBMIT", "load_dispatches", "LD-2"),
		row("2025-05-09T09:00:00Z", "LOAD_PLAN_SUBMIT", "load_plans", "LP-1"),
		row("2025-05-08T08:00:00Z", "UPLOAD_PROCESS", "upload_logs", "UPL-1"),
	}
}

func TestTimelinePaging(t *testing.T) {
	repo := &stubTimelineRepo{rows: sampleRows()}
	svc := NewService(repo)

	result, err := svc.Timeline(context.Background(), TimelineFilters{Page: 1, PageSize: 2, Action: " load_plan_submit ", Entity: "load_plans"})
	require.NoError(t, err)
	require.Len(t, result.Rows, 2)
	require.True(t, result.Paging.HasNext)
	require.Equal(t, 2, result.Paging.NextPage)
	require.Zero(t, result.Paging.PrevPage)
	require.Equal(t, Query{Entity: "load_plans", Action: "LOAD_PLAN_SUBMIT", Offset: 0, Limit: 3}, repo.last)

	result, err = svc.Timeline(context.Background(), TimelineFilters{Page: 2, PageSize: 500})
	require.NoError(t, err)
	require.False(t, result.Paging.HasNext)
	require.Equal(t, 1, result.Paging.PrevPage)
	require.Equal(t, maxPageSize, result.Paging.PageSize)
	require.Equal(t, maxPageSize, repo.last.Offset)
}

func TestTimelineRejectsInvertedRange(t *testing.T) {
	from := time.Date(2025, 5, 10, 0, 0, 0, 0, time.UTC)
	to := from.AddDate(0, 0, -1)
	_, err := NewService(&stubTimelineRepo{}).Timeline(context.Background(), TimelineFilters{From: &from, To: &to})
	require.ErrorIs(t, err, shared.ErrValidation)
}

func TestExportReturnsEveryRow(t *testing.T) {
	repo := &stubTimelineRepo{rows: sampleRows()}
	rows, err := NewService(repo).Export(context.Background(), TimelineFilters{EntityID: "LD-2"})
	require.NoError(t, err)
	require.Len(t, rows, 3)
	require.Zero(t, repo.last.Limit)
	require.Equal(t, "LD-2", repo.last.EntityID)
}

func TestHandlerTimelineAndCSV(t *testing.T) {
	rows := sampleRows()
	rows[0].Meta = map[string]any{"frames": float64(3)}
	r := chi.NewRouter()
	NewHandler(nil, NewService(&stubTimelineRepo{rows: rows})).MountRoutes(r)

	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/audit-logs?page_size=1", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	require.Contains(t, rr.Body.String(), `"has_next":true`)
	require.Contains(t, rr.Body.String(), `"entity_id":"LD-2"`)

	rr = httptest.NewRecorder()
	r.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/audit-logs/export.csv", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	lines := strings.Split(strings.TrimSpace(rr.Body.String()), "\n")
	require.Len(t, lines, 4)
	require.Equal(t, "at,actor,action,entity,entity_id,meta", lines[0])
	require.Equal(t, `2025-05-10T10:00:00Z,qc.user,LOAD_DISPATCH_SUBMIT,load_dispatches,LD-2,"{""frames"":3}"`, lines[1])

	rr = httptest.NewRecorder()
	r.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/audit-logs?page=first", nil))
	require.Equal(t, http.StatusBadRequest, rr.Code)
}
