package procurement

import (
	"context"
	"errors"
	"sort"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/odyssey-logistics/internal/inventory"
	"github.com/odyssey-erp/odyssey-logistics/internal/shared"
)

type memoryRepo struct {
	receipts map[string]PurchaseReceipt
	invoices map[string]PurchaseInvoice
}

type memoryTx struct {
	repo *memoryRepo
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{receipts: map[string]PurchaseReceipt{}, invoices: map[string]PurchaseInvoice{}}
}

func (r *memoryRepo) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return fn(ctx, &memoryTx{repo: r})
}

func (r *memoryRepo) GetReceipt(ctx context.Context, name string) (PurchaseReceipt, error) {
	pr, ok := r.receipts[name]
	if !ok {
		return PurchaseReceipt{}, ErrNotFound
	}
	return pr, nil
}

func (r *memoryRepo) GetInvoice(ctx context.Context, name string) (PurchaseInvoice, error) {
	inv, ok := r.invoices[name]
	if !ok {
		return PurchaseInvoice{}, ErrNotFound
	}
	return inv, nil
}

func (r *memoryRepo) ListReceiptNames(ctx context.Context, dispatch string, status shared.DocStatus) ([]string, error) {
	var out []string
	for _, pr := range r.receipts {
		if pr.LoadDispatch == dispatch && pr.DocStatus == status {
			out = append(out, pr.Name)
		}
	}
	sort.Strings(out)
	return out, nil
}

func (r *memoryRepo) ListInvoiceNames(ctx context.Context, dispatch string, status shared.DocStatus) ([]string, error) {
	var out []string
	for _, inv := range r.invoices {
		if inv.LoadDispatch == dispatch && inv.DocStatus == status {
			out = append(out, inv.Name)
		}
	}
	sort.Strings(out)
	return out, nil
}

func (r *memoryRepo) ReceivedFramesForDispatch(ctx context.Context, dispatch string) ([]string, error) {
	var out []string
	for _, pr := range r.receipts {
		if pr.LoadDispatch == dispatch && pr.DocStatus == shared.DocSubmitted {
			out = append(out, pr.Frames()...)
		}
	}
	sort.Strings(out)
	return out, nil
}

func (tx *memoryTx) InsertReceipt(ctx context.Context, pr PurchaseReceipt) error {
	tx.repo.receipts[pr.Name] = pr
	return nil
}

func (tx *memoryTx) GetReceiptForUpdate(ctx context.Context, name string) (PurchaseReceipt, error) {
	return tx.repo.GetReceipt(ctx, name)
}

func (tx *memoryTx) UpdateReceiptStatus(ctx context.Context, name string, status shared.DocStatus) error {
	pr := tx.repo.receipts[name]
	pr.DocStatus = status
	tx.repo.receipts[name] = pr
	return nil
}

func (tx *memoryTx) ReceivedFrames(ctx context.Context, frames []string, exclude string) ([]string, error) {
	want := map[string]bool{}
	for _, f := range frames {
		want[f] = true
	}
	var out []string
	for _, pr := range tx.repo.receipts {
		if pr.Name == exclude || pr.DocStatus != shared.DocSubmitted {
			continue
		}
		for _, f := range pr.Frames() {
			if want[f] {
				out = append(out, f)
			}
		}
	}
	return out, nil
}

func (tx *memoryTx) InsertInvoice(ctx context.Context, inv PurchaseInvoice) error {
	tx.repo.invoices[inv.Name] = inv
	return nil
}

func (tx *memoryTx) GetInvoiceForUpdate(ctx context.Context, name string) (PurchaseInvoice, error) {
	return tx.repo.GetInvoice(ctx, name)
}

func (tx *memoryTx) UpdateInvoiceStatus(ctx context.Context, name string, status shared.DocStatus) error {
	inv := tx.repo.invoices[name]
	inv.DocStatus = status
	tx.repo.invoices[name] = inv
	return nil
}

type fakeInventory struct {
	serials  map[string]string
	released []string
	fail     error
}

func (f *fakeInventory) SerialNoExists(ctx context.Context, frameNo string) (bool, error) {
	_, ok := f.serials[frameNo]
	return ok, nil
}

func (f *fakeInventory) ReceiveSerialNos(ctx context.Context, moves []inventory.SerialMove) error {
	if f.fail != nil {
		return f.fail
	}
	for _, m := range moves {
		f.serials[m.FrameNo] = m.Warehouse
	}
	return nil
}

func (f *fakeInventory) ReleaseSerialNos(ctx context.Context, frames []string) error {
	f.released = append(f.released, frames...)
	return nil
}

type fakeIdempotency struct {
	keys map[string]bool
}

func (f *fakeIdempotency) CheckAndInsert(ctx context.Context, key, module string) error {
	if f.keys[key] {
		return shared.ErrIdempotencyConflict
	}
	f.keys[key] = true
	return nil
}

func (f *fakeIdempotency) Delete(ctx context.Context, key string) error {
	delete(f.keys, key)
	return nil
}

type recordingHooks struct {
	receipts []ReceiptEvent
	invoices []InvoiceEvent
	err      error
}

func (h *recordingHooks) HandleReceiptChanged(ctx context.Context, evt ReceiptEvent) error {
	h.receipts = append(h.receipts, evt)
	return h.err
}

func (h *recordingHooks) HandleInvoiceChanged(ctx context.Context, evt InvoiceEvent) error {
	h.invoices = append(h.invoices, evt)
	return h.err
}

func newTestService() (*Service, *memoryRepo, *fakeInventory, *recordingHooks) {
	repo := newMemoryRepo()
	inv := &fakeInventory{serials: map[string]string{"FR-1": "", "FR-2": ""}}
	svc := NewService(repo, inv, nil, &fakeIdempotency{keys: map[string]bool{}}, nil)
	hooks := &recordingHooks{}
	svc.SetIntegrationHandler(hooks)
	return svc, repo, inv, hooks
}

func receiptInput(frames ...string) ReceiptInput {
	items := make([]ReceiptItem, len(frames))
	for i, f := range frames {
		items[i] = ReceiptItem{ItemCode: "ZIP", SerialNo: f, Rate: decimal.NewFromInt(55000)}
	}
	return ReceiptInput{Supplier: "OEM", SetWarehouse: "Stores", LoadDispatch: "LD-1", Items: items}
}

func TestReceiptValidation(t *testing.T) {
	svc, _, _, _ := newTestService()
	_, err := svc.CreateReceipt(context.Background(), ReceiptInput{Items: []ReceiptItem{{SerialNo: "FR-1"}, {ItemCode: "ZIP", SerialNo: "FR-1"}}})
	var verr *shared.ValidationError
	require.ErrorAs(t, err, &verr)
	require.Contains(t, verr.Details, "supplier")
	require.Contains(t, verr.Details, "items[0].item_code")
	require.Equal(t, "duplicate of row 1", verr.Details["items[1].serial_no"])
}

func TestSubmitReceiptMovesFramesAndEmits(t *testing.T) {
	svc, repo, inv, hooks := newTestService()
	ctx := context.Background()

	pr, err := svc.CreateReceipt(ctx, receiptInput("FR-1", "FR-2"))
	require.NoError(t, err)
	require.Equal(t, 2, pr.TotalQty)
	require.Equal(t, "Stores", pr.Items[0].Warehouse)

	pr, err = svc.SubmitReceipt(ctx, pr.Name)
	require.NoError(t, err)
	require.Equal(t, shared.DocSubmitted, repo.receipts[pr.Name].DocStatus)
	require.Equal(t, "Stores", inv.serials["FR-1"])
	require.Len(t, hooks.receipts, 1)
	require.Equal(t, ReceiptEvent{Name: pr.Name, LoadDispatch: "LD-1", Action: ActionSubmitted, TotalQty: 2, At: hooks.receipts[0].At}, hooks.receipts[0])

	_, err = svc.SubmitReceipt(ctx, pr.Name)
	require.ErrorIs(t, err, shared.ErrInvalidState)

	second, err := svc.CreateReceipt(ctx, receiptInput("FR-2"))
	require.NoError(t, err)
	_, err = svc.SubmitReceipt(ctx, second.Name)
	require.ErrorIs(t, err, ErrInvalidState)
	require.Contains(t, err.Error(), "FR-2")

	_, err = svc.CancelReceipt(ctx, pr.Name)
	require.NoError(t, err)
	require.ElementsMatch(t, []string{"FR-1", "FR-2"}, inv.released)
	require.Equal(t, ActionCancelled, hooks.receipts[1].Action)

	_, err = svc.SubmitReceipt(ctx, second.Name)
	require.NoError(t, err)
}

func TestCancelReceiptReleasesDispatchReceiptKey(t *testing.T) {
	repo := newMemoryRepo()
	idem := &fakeIdempotency{keys: map[string]bool{}}
	svc := NewService(repo, &fakeInventory{serials: map[string]string{"FR-1": "", "FR-2": ""}}, nil, idem, nil)
	ctx := context.Background()
	key := DispatchReceiptKey("LD-1", []string{"FR-2", "FR-1"})
	require.Equal(t, key, DispatchReceiptKey("LD-1", []string{"FR-1", "FR-2"}))
	require.NotEqual(t, key, DispatchReceiptKey("LD-2", []string{"FR-1", "FR-2"}))
	require.NoError(t, idem.CheckAndInsert(ctx, key, "dispatch.purchase_receipt"))

	pr, err := svc.CreateReceipt(ctx, receiptInput("FR-1", "FR-2"))
	require.NoError(t, err)
	_, err = svc.SubmitReceipt(ctx, pr.Name)
	require.NoError(t, err)
	require.True(t, idem.keys[key])

	_, err = svc.CancelReceipt(ctx, pr.Name)
	require.NoError(t, err)
	require.False(t, idem.keys[key])
	require.NoError(t, idem.CheckAndInsert(ctx, key, "dispatch.purchase_receipt"))
}

func TestSubmitReceiptRequiresKnownSerials(t *testing.T) {
	svc, repo, _, hooks := newTestService()
	ctx := context.Background()
	pr, err := svc.CreateReceipt(ctx, receiptInput("FR-404"))
	require.NoError(t, err)
	_, err = svc.SubmitReceipt(ctx, pr.Name)
	require.ErrorIs(t, err, ErrUnknownSerial)
	require.Equal(t, shared.DocDraft, repo.receipts[pr.Name].DocStatus)
	require.Empty(t, hooks.receipts)
}

func TestSubmitReceiptReleasesIdempotencyKeyOnFailure(t *testing.T) {
	svc, repo, inv, _ := newTestService()
	ctx := context.Background()
	pr, err := svc.CreateReceipt(ctx, receiptInput("FR-1"))
	require.NoError(t, err)

	inv.fail = errors.New("serial store down")
	_, err = svc.SubmitReceipt(ctx, pr.Name)
	require.Error(t, err)
	require.Equal(t, shared.DocDraft, repo.receipts[pr.Name].DocStatus)

	inv.fail = nil
	_, err = svc.SubmitReceipt(ctx, pr.Name)
	require.NoError(t, err)
}

func TestReconciliationFailureDoesNotFailSubmit(t *testing.T) {
	svc, _, _, hooks := newTestService()
	hooks.err = errors.New("dispatch lookup failed")
	ctx := context.Background()
	pr, err := svc.CreateReceipt(ctx, receiptInput("FR-1"))
	require.NoError(t, err)
	_, err = svc.SubmitReceipt(ctx, pr.Name)
	require.NoError(t, err)
	require.Len(t, hooks.receipts, 1)
}

func TestInvoiceRequiresSubmittedReceipts(t *testing.T) {
	svc, _, _, hooks := newTestService()
	ctx := context.Background()

	pr, err := svc.CreateReceipt(ctx, receiptInput("FR-1"))
	require.NoError(t, err)
	inv, err := svc.CreateInvoice(ctx, InvoiceInput{
		Supplier:     "OEM",
		LoadDispatch: "LD-1",
		Items:        []InvoiceItem{{ItemCode: "ZIP", SerialNo: "FR-1", PurchaseReceipt: pr.Name}},
	})
	require.NoError(t, err)
	require.Equal(t, 1, inv.TotalQty)

	_, err = svc.SubmitInvoice(ctx, inv.Name)
	require.ErrorIs(t, err, shared.ErrInvalidState)

	_, err = svc.SubmitReceipt(ctx, pr.Name)
	require.NoError(t, err)
	_, err = svc.SubmitInvoice(ctx, inv.Name)
	require.NoError(t, err)
	require.Len(t, hooks.invoices, 1)

	names, err := svc.SubmittedInvoiceNames(ctx, "LD-1")
	require.NoError(t, err)
	require.Equal(t, []string{inv.Name}, names)

	_, err = svc.CancelInvoice(ctx, inv.Name)
	require.NoError(t, err)
	require.Equal(t, ActionCancelled, hooks.invoices[1].Action)
}
