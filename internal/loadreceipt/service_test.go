package loadreceipt

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/odyssey-logistics/internal/dispatch"
	"github.com/odyssey-erp/odyssey-logistics/internal/shared"
)

type memoryRepo struct {
	receipts    map[string]LoadReceipt
	assessments map[string]int
}

type memoryTx struct {
	repo *memoryRepo
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{receipts: map[string]LoadReceipt{}, assessments: map[string]int{}}
}

func (r *memoryRepo) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return fn(ctx, &memoryTx{repo: r})
}

func (r *memoryRepo) GetReceipt(ctx context.Context, name string) (LoadReceipt, error) {
	lr, ok := r.receipts[name]
	if !ok {
		return LoadReceipt{}, ErrNotFound
	}
	return lr, nil
}

func (r *memoryRepo) ListByDispatch(ctx context.Context, dispatch string) ([]LoadReceipt, error) {
	var out []LoadReceipt
	for _, lr := range r.receipts {
		if lr.LoadDispatch == dispatch {
			out = append(out, lr)
		}
	}
	return out, nil
}

func (tx *memoryTx) InsertReceipt(ctx context.Context, lr LoadReceipt) error {
	tx.repo.receipts[lr.Name] = lr
	return nil
}

func (tx *memoryTx) GetReceiptForUpdate(ctx context.Context, name string) (LoadReceipt, error) {
	return tx.repo.GetReceipt(ctx, name)
}

func (tx *memoryTx) ActiveReceiptFor(ctx context.Context, dispatch string) (string, error) {
	for _, lr := range tx.repo.receipts {
		if lr.LoadDispatch == dispatch && lr.DocStatus != shared.DocCancelled {
			return lr.Name, nil
		}
	}
	return "", nil
}

func (tx *memoryTx) SubmittedAssessments(ctx context.Context, name string) (int, error) {
	return tx.repo.assessments[name], nil
}

func (tx *memoryTx) UpdateStatus(ctx context.Context, name string, docstatus shared.DocStatus) error {
	lr := tx.repo.receipts[name]
	lr.DocStatus = docstatus
	tx.repo.receipts[name] = lr
	return nil
}

func (tx *memoryTx) UpdateTotals(ctx context.Context, name string, totals dispatch.Totals) error {
	lr := tx.repo.receipts[name]
	lr.apply(totals)
	tx.repo.receipts[name] = lr
	return nil
}

func (tx *memoryTx) ApplyTotals(ctx context.Context, dispatchName string, totals dispatch.Totals) (int64, error) {
	var n int64
	for name, lr := range tx.repo.receipts {
		if lr.LoadDispatch == dispatchName && lr.DocStatus != shared.DocCancelled {
			lr.apply(totals)
			tx.repo.receipts[name] = lr
			n++
		}
	}
	return n, nil
}

func (tx *memoryTx) UpdateDamageCounts(ctx context.Context, name string, counts DamageCounts) error {
	lr, ok := tx.repo.receipts[name]
	if !ok {
		return ErrNotFound
	}
	lr.OKQuantity, lr.NotOKQuantity = counts.OK, counts.NotOK
	tx.repo.receipts[name] = lr
	return nil
}

type fakeDispatches map[string]dispatch.LoadDispatch

func (f fakeDispatches) Get(ctx context.Context, name string) (dispatch.LoadDispatch, error) {
	d, ok := f[name]
	if !ok {
		return dispatch.LoadDispatch{}, dispatch.ErrNotFound
	}
	return d, nil
}

type countingCache struct {
	bumps int
}

func (c *countingCache) Bump(ctx context.Context) error {
	c.bumps++
	return nil
}

func submittedDispatch(name string, dispatched, received int) dispatch.LoadDispatch {
	status := dispatch.StatusInTransit
	if received >= dispatched {
		status = dispatch.StatusReceived
	}
	return dispatch.LoadDispatch{
		Meta:                  shared.Meta{Name: name, DocStatus: shared.DocSubmitted},
		LoadReferenceNo:       "LP-1",
		TotalDispatchQuantity: dispatched,
		TotalReceivedQuantity: received,
		Status:                status,
	}
}

func TestCreateCopiesDispatchQuantities(t *testing.T) {
	repo := newMemoryRepo()
	dispatches := fakeDispatches{"LD-1": submittedDispatch("LD-1", 100, 40)}
	svc := NewService(repo, dispatches, nil, nil, nil)
	svc.now = func() time.Time { return time.Date(2025, 5, 13, 9, 30, 0, 0, time.UTC) }
	ctx := context.Background()

	lr, err := svc.Create(ctx, CreateInput{LoadDispatch: "LD-1"})
	require.NoError(t, err)
	require.Equal(t, 100, lr.TotalDispatchQuantity)
	require.Equal(t, 40, lr.TotalReceivedQuantity)
	require.Equal(t, dispatch.StatusInTransit, lr.Status)
	require.Equal(t, "LP-1", lr.LoadReferenceNo)
	require.Equal(t, time.Date(2025, 5, 13, 0, 0, 0, 0, time.UTC), lr.ReceiptDate)

	_, err = svc.Create(ctx, CreateInput{LoadDispatch: "LD-1"})
	require.ErrorIs(t, err, shared.ErrDuplicate)

	dispatches["LD-2"] = dispatch.LoadDispatch{Meta: shared.Meta{Name: "LD-2", DocStatus: shared.DocDraft}}
	_, err = svc.Create(ctx, CreateInput{LoadDispatch: "LD-2"})
	require.ErrorIs(t, err, shared.ErrInvalidState)
}

func TestSubmitAndApplyTotals(t *testing.T) {
	repo := newMemoryRepo()
	dispatches := fakeDispatches{"LD-1": submittedDispatch("LD-1", 100, 40)}
	cache := &countingCache{}
	svc := NewService(repo, dispatches, nil, cache, nil)
	ctx := context.Background()

	lr, err := svc.Create(ctx, CreateInput{LoadDispatch: "LD-1"})
	require.NoError(t, err)
	dispatches["LD-1"] = submittedDispatch("LD-1", 100, 60)

	lr, err = svc.Submit(ctx, lr.Name)
	require.NoError(t, err)
	require.Equal(t, shared.DocSubmitted, lr.DocStatus)
	require.Equal(t, 60, repo.receipts[lr.Name].TotalReceivedQuantity)
	require.Equal(t, 1, cache.bumps)

	n, err := svc.ApplyTotals(ctx, "LD-1", dispatch.Totals{Dispatched: 100, Received: 100, Billed: 100, Status: dispatch.StatusReceived})
	require.NoError(t, err)
	require.EqualValues(t, 1, n)
	require.Equal(t, dispatch.StatusReceived, repo.receipts[lr.Name].Status)
	require.Equal(t, 100, repo.receipts[lr.Name].TotalBilledQuantity)

	dispatches["LD-1"] = submittedDispatch("LD-1", 100, 80)
	totals, err := svc.Reconcile(ctx, "LD-1")
	require.NoError(t, err)
	require.Equal(t, 80, totals.Received)
	require.Equal(t, 80, repo.receipts[lr.Name].TotalReceivedQuantity)
}

func TestCancelBlockedByAssessments(t *testing.T) {
	repo := newMemoryRepo()
	dispatches := fakeDispatches{"LD-1": submittedDispatch("LD-1", 10, 10)}
	svc := NewService(repo, dispatches, nil, nil, nil)
	ctx := context.Background()

	lr, err := svc.Create(ctx, CreateInput{LoadDispatch: "LD-1"})
	require.NoError(t, err)
	_, err = svc.Cancel(ctx, lr.Name)
	require.ErrorIs(t, err, ErrInvalidState)

	_, err = svc.Submit(ctx, lr.Name)
	require.NoError(t, err)
	require.NoError(t, svc.ApplyDamageCounts(ctx, lr.Name, DamageCounts{OK: 8, NotOK: 2}))
	require.Equal(t, 2, repo.receipts[lr.Name].NotOKQuantity)

	repo.assessments[lr.Name] = 1
	_, err = svc.Cancel(ctx, lr.Name)
	require.ErrorIs(t, err, ErrHasAssessments)

	repo.assessments[lr.Name] = 0
	lr, err = svc.Cancel(ctx, lr.Name)
	require.NoError(t, err)
	require.Equal(t, shared.DocCancelled, lr.DocStatus)

	_, err = svc.Create(ctx, CreateInput{LoadDispatch: "LD-1"})
	require.NoError(t, err)
}

func TestHandlerCreateAndGet(t *testing.T) {
	repo := newMemoryRepo()
	svc := NewService(repo, fakeDispatches{"LD-1": submittedDispatch("LD-1", 5, 0)}, nil, nil, nil)
	r := chi.NewRouter()
	NewHandler(nil, svc).MountRoutes(r)

	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/load-receipts/", strings.NewReader(`{"load_dispatch":"LD-1","receipt_date":"13/05/2025"}`)))
	require.Equal(t, http.StatusBadRequest, rr.Code)

	rr = httptest.NewRecorder()
	r.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/load-receipts/", strings.NewReader(`{"load_dispatch":"LD-1","receipt_date":"2025-05-13"}`)))
	require.Equal(t, http.StatusCreated, rr.Code)
	require.Contains(t, rr.Body.String(), `"total_dispatch_quantity":5`)

	var name string
	for n := range repo.receipts {
		name = n
	}
	rr = httptest.NewRecorder()
	r.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/load-receipts/"+name, nil))
	require.Equal(t, http.StatusOK, rr.Code)
	require.Contains(t, rr.Body.String(), `"load_dispatch":"LD-1"`)

	rr = httptest.NewRecorder()
	r.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/load-receipts/LR-404", nil))
	require.Equal(t, http.StatusNotFound, rr.Code)
}
