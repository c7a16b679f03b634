package dispatch

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/bsm/redislock"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/odyssey-logistics/internal/inventory"
	"github.com/odyssey-erp/odyssey-logistics/internal/loadplan"
	"github.com/odyssey-erp/odyssey-logistics/internal/platform/lock"
	"github.com/odyssey-erp/odyssey-logistics/internal/procurement"
	"github.com/odyssey-erp/odyssey-logistics/internal/shared"
)

type memoryRepo struct {
	dispatches map[string]LoadDispatch
}

type memoryTx struct {
	repo *memoryRepo
}

func (r *memoryRepo) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return fn(ctx, &memoryTx{repo: r})
}

func (r *memoryRepo) GetDispatch(ctx context.Context, name string) (LoadDispatch, error) {
	d, ok := r.dispatches[name]
	if !ok {
		return LoadDispatch{}, ErrNotFound
	}
	d.Items = append([]Item(nil), d.Items...)
	return d, nil
}

func (tx *memoryTx) InsertDispatch(ctx context.Context, d LoadDispatch) error {
	tx.repo.dispatches[d.Name] = d
	return nil
}

func (tx *memoryTx) GetDispatchForUpdate(ctx context.Context, name string) (LoadDispatch, error) {
	return tx.repo.GetDispatch(ctx, name)
}

func (tx *memoryTx) UpdateHeader(ctx context.Context, d LoadDispatch) error {
	cur := tx.repo.dispatches[d.Name]
	cur.LoadReferenceNo, cur.DispatchDate, cur.InvoiceNo = d.LoadReferenceNo, d.DispatchDate, d.InvoiceNo
	tx.repo.dispatches[d.Name] = cur
	return nil
}

func (tx *memoryTx) ReplaceItems(ctx context.Context, name string, items []Item, total int) error {
	cur := tx.repo.dispatches[name]
	cur.Items = append([]Item(nil), items...)
	cur.TotalDispatchQuantity = total
	tx.repo.dispatches[name] = cur
	return nil
}

func (tx *memoryTx) UpdateStatus(ctx context.Context, name string, docstatus shared.DocStatus, status Status) error {
	cur := tx.repo.dispatches[name]
	cur.DocStatus, cur.Status = docstatus, status
	tx.repo.dispatches[name] = cur
	return nil
}

func (tx *memoryTx) UpdateTotals(ctx context.Context, name string, t Totals) error {
	cur := tx.repo.dispatches[name]
	cur.TotalDispatchQuantity, cur.TotalReceivedQuantity, cur.TotalBilledQuantity, cur.Status = t.Dispatched, t.Received, t.Billed, t.Status
	tx.repo.dispatches[name] = cur
	return nil
}

func (tx *memoryTx) FramesOnOtherDispatches(ctx context.Context, frames []string, exclude string) ([]string, error) {
	want := map[string]bool{}
	for _, f := range frames {
		want[f] = true
	}
	var out []string
	for _, d := range tx.repo.dispatches {
		if d.Name == exclude || d.DocStatus != shared.DocSubmitted {
			continue
		}
		for _, f := range d.Frames() {
			if want[f] {
				out = append(out, f)
			}
		}
	}
	return out, nil
}

type fakePlans struct {
	target    map[string]int
	refreshed []string
}

func (p *fakePlans) Exists(ctx context.Context, ref string) (bool, error) {
	_, ok := p.target[ref]
	return ok, nil
}

func (p *fakePlans) CheckCapacity(ctx context.Context, ref string, qty int) error {
	if qty > p.target[ref] {
		return loadplan.ErrExceedsPlanned
	}
	return nil
}

func (p *fakePlans) RefreshDispatchQuantity(ctx context.Context, ref string) (loadplan.LoadPlan, error) {
	p.refreshed = append(p.refreshed, ref)
	return loadplan.LoadPlan{}, nil
}

type fakeProcurement struct {
	receipts    map[string]procurement.PurchaseReceipt
	invoices    map[string]procurement.PurchaseInvoice
	brokenNames []string
	created     []procurement.ReceiptInput
}

func (p *fakeProcurement) SubmittedReceiptNames(ctx context.Context, dispatch string) ([]string, error) {
	var out []string
	for _, pr := range p.receipts {
		if pr.LoadDispatch == dispatch && pr.DocStatus == shared.DocSubmitted {
			out = append(out, pr.Name)
		}
	}
	return append(out, p.brokenNames...), nil
}

func (p *fakeProcurement) SubmittedInvoiceNames(ctx context.Context, dispatch string) ([]string, error) {
	var out []string
	for _, inv := range p.invoices {
		if inv.LoadDispatch == dispatch && inv.DocStatus == shared.DocSubmitted {
			out = append(out, inv.Name)
		}
	}
	return out, nil
}

func (p *fakeProcurement) GetReceipt(ctx context.Context, name string) (procurement.PurchaseReceipt, error) {
	pr, ok := p.receipts[name]
	if !ok {
		return procurement.PurchaseReceipt{}, errors.New("receipt lookup failed")
	}
	return pr, nil
}

func (p *fakeProcurement) GetInvoice(ctx context.Context, name string) (procurement.PurchaseInvoice, error) {
	inv, ok := p.invoices[name]
	if !ok {
		return procurement.PurchaseInvoice{}, procurement.ErrNotFound
	}
	return inv, nil
}

func (p *fakeProcurement) ReceivedFrames(ctx context.Context, dispatch string) ([]string, error) {
	var out []string
	for _, pr := range p.receipts {
		if pr.LoadDispatch == dispatch && pr.DocStatus == shared.DocSubmitted {
			out = append(out, pr.Frames()...)
		}
	}
	return out, nil
}

func (p *fakeProcurement) CreateReceipt(ctx context.Context, input procurement.ReceiptInput) (procurement.PurchaseReceipt, error) {
	p.created = append(p.created, input)
	return procurement.PurchaseReceipt{Meta: shared.Meta{Name: fmt.Sprintf("PR-%d", len(p.created))}, LoadDispatch: input.LoadDispatch, Items: input.Items}, nil
}

type fakeInventory struct {
	items    map[string]bool
	serials  map[string]string
	unlinked []string
}

func (f *fakeInventory) EnsureItem(ctx context.Context, input inventory.ItemInput) (string, error) {
	code := shared.Coalesce(input.ItemCode, inventory.ItemCodeFor(input.ModelName, input.Variant, input.ColorCode))
	f.items[code] = true
	return code, nil
}

func (f *fakeInventory) EnsureSerialNo(ctx context.Context, input inventory.SerialInput) (bool, error) {
	if owner, ok := f.serials[input.FrameNo]; ok && owner != "" && owner != input.LoadDispatch {
		return false, inventory.ErrSerialInUse
	}
	_, existed := f.serials[input.FrameNo]
	f.serials[input.FrameNo] = input.LoadDispatch
	return !existed, nil
}

func (f *fakeInventory) UnlinkDispatch(ctx context.Context, dispatch string) (int64, error) {
	f.unlinked = append(f.unlinked, dispatch)
	var n int64
	for frame, owner := range f.serials {
		if owner == dispatch {
			f.serials[frame] = ""
			n++
		}
	}
	return n, nil
}

type recordingNotifier struct {
	subjects []string
}

func (n *recordingNotifier) Notify(ctx context.Context, subject, body string) {
	n.subjects = append(n.subjects, subject)
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

type fixture struct {
	svc      *Service
	repo     *memoryRepo
	plans    *fakePlans
	proc     *fakeProcurement
	inv      *fakeInventory
	idem     *fakeIdempotency
	notifier *recordingNotifier
}

func newFixture() fixture {
	f := fixture{
		repo:     &memoryRepo{dispatches: map[string]LoadDispatch{}},
		plans:    &fakePlans{target: map[string]int{"LP-1": 100}},
		proc:     &fakeProcurement{receipts: map[string]procurement.PurchaseReceipt{}, invoices: map[string]procurement.PurchaseInvoice{}},
		inv:      &fakeInventory{items: map[string]bool{}, serials: map[string]string{}},
		idem:     &fakeIdempotency{keys: map[string]bool{}},
		notifier: &recordingNotifier{},
	}
	f.svc = NewService(Deps{
		Repo:        f.repo,
		Plans:       f.plans,
		Procurement: f.proc,
		Inventory:   f.inv,
		Notifier:    f.notifier,
		Idempotency: f.idem,
	}, Config{DefaultWarehouse: "Stores", DefaultSupplier: "OEM"})
	return f
}

func frames(names ...string) []Item {
	items := make([]Item, len(names))
	for i, n := range names {
		items[i] = Item{ModelName: "Zip", ModelVariant: "Std", ColorCode: "Red", FrameNo: n, PriceUnit: decimal.NewFromInt(55000)}
	}
	return items
}

func TestValidateCountsNonEmptyFrames(t *testing.T) {
	d := LoadDispatch{LoadReferenceNo: "LP-1", Items: []Item{{FrameNo: " FR-1 "}, {FrameNo: "nan"}, {FrameNo: "12345.0"}, {FrameNo: ""}}}
	require.NoError(t, d.Validate())
	require.Equal(t, 2, d.TotalDispatchQuantity)
	require.Equal(t, "FR-1", d.Items[0].FrameNo)
	require.Equal(t, "12345", d.Items[2].FrameNo)
	require.Equal(t, []string{"FR-1", "12345"}, d.Frames())

	d = LoadDispatch{LoadReferenceNo: "LP-1", Items: frames("FR-1", "FR-2", "FR-1")}
	err := d.Validate()
	var verr *shared.ValidationError
	require.ErrorAs(t, err, &verr)
	require.Contains(t, verr.Details, "items[2].frame_no")
	require.Equal(t, 2, d.TotalDispatchQuantity)
}

func TestComputeTotals(t *testing.T) {
	partial := ComputeTotals(100, []DocQty{{Name: "PR-1", Qty: 40}}, nil)
	require.Equal(t, Totals{Dispatched: 100, Received: 40, Status: StatusInTransit}, partial)

	full := ComputeTotals(100, []DocQty{{Name: "PR-1", Qty: 40}, {Name: "PR-2", Qty: 60}}, []InvoiceQty{{Name: "PI-1", Qty: 30}})
	require.Equal(t, 100, full.Received)
	require.Equal(t, 30, full.Billed)
	require.Equal(t, StatusReceived, full.Status)

	forced := ComputeTotals(100, []DocQty{{Name: "PR-1", Qty: 40}}, []InvoiceQty{{Name: "PI-1", Qty: 35, Receipts: []string{"PR-1"}}})
	require.Equal(t, 35, forced.Received)
	require.Equal(t, 35, forced.Billed)

	foreign := ComputeTotals(100, []DocQty{{Name: "PR-1", Qty: 40}}, []InvoiceQty{{Name: "PI-1", Qty: 35, Receipts: []string{"PR-9"}}})
	require.Equal(t, 40, foreign.Received)

	require.Equal(t, StatusInTransit, ComputeTotals(0, nil, nil).Status)
}

func TestSubmitRegistersFramesAndRefreshesPlan(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	d, err := f.svc.Create(ctx, Input{LoadReferenceNo: "LP-1", Items: frames("FR-1", "FR-2")})
	require.NoError(t, err)
	require.Equal(t, shared.DocDraft, d.DocStatus)

	d, err = f.svc.Submit(ctx, d.Name)
	require.NoError(t, err)
	require.Equal(t, shared.DocSubmitted, d.DocStatus)
	require.Equal(t, StatusInTransit, d.Status)
	require.Equal(t, "ZIP-STD-RED", f.repo.dispatches[d.Name].Items[0].ItemCode)
	require.Equal(t, d.Name, f.inv.serials["FR-2"])
	require.Equal(t, []string{"LP-1"}, f.plans.refreshed)
	require.Len(t, f.notifier.subjects, 1)

	_, err = f.svc.Submit(ctx, d.Name)
	require.ErrorIs(t, err, shared.ErrInvalidState)

	other, err := f.svc.Create(ctx, Input{LoadReferenceNo: "LP-1", Items: frames("FR-2", "FR-3")})
	require.NoError(t, err)
	_, err = f.svc.Submit(ctx, other.Name)
	require.ErrorIs(t, err, ErrFrameDispatched)
	require.Equal(t, shared.DocDraft, f.repo.dispatches[other.Name].DocStatus)
}

func TestSubmitWaitsForPlanLock(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	f := newFixture()
	f.svc.locker = lock.New(client, time.Minute)
	ctx := context.Background()
	d, err := f.svc.Create(ctx, Input{LoadReferenceNo: "LP-1", Items: frames("FR-1")})
	require.NoError(t, err)

	held, err := redislock.New(client).Obtain(ctx, shared.PlanLockKey("LP-1"), time.Minute, nil)
	require.NoError(t, err)
	_, err = f.svc.Submit(ctx, d.Name)
	require.ErrorIs(t, err, lock.ErrBusy)
	require.ErrorIs(t, err, shared.ErrInvalidState)
	require.Equal(t, shared.DocDraft, f.repo.dispatches[d.Name].DocStatus)
	require.Empty(t, f.plans.refreshed)

	require.NoError(t, held.Release(ctx))
	d, err = f.svc.Submit(ctx, d.Name)
	require.NoError(t, err)
	require.Equal(t, shared.DocSubmitted, d.DocStatus)
	require.False(t, mr.Exists(shared.PlanLockKey("LP-1")))
}

func TestSubmitRejectsOverDispatchAndEmpty(t *testing.T) {
	f := newFixture()
	f.plans.target["LP-2"] = 1
	ctx := context.Background()

	d, err := f.svc.Create(ctx, Input{LoadReferenceNo: "LP-2", Items: frames("FR-1", "FR-2")})
	require.NoError(t, err)
	_, err = f.svc.Submit(ctx, d.Name)
	require.ErrorIs(t, err, loadplan.ErrExceedsPlanned)

	empty, err := f.svc.Create(ctx, Input{LoadReferenceNo: "LP-2", Items: []Item{{ModelName: "Zip"}}})
	require.NoError(t, err)
	_, err = f.svc.Submit(ctx, empty.Name)
	require.ErrorIs(t, err, ErrEmptyDispatch)

	_, err = f.svc.Create(ctx, Input{LoadReferenceNo: "LP-404", Items: frames("FR-9")})
	require.ErrorIs(t, err, shared.ErrValidation)
}

func TestCancelBlockedByReceipts(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	d, err := f.svc.Create(ctx, Input{LoadReferenceNo: "LP-1", Items: frames("FR-1")})
	require.NoError(t, err)
	_, err = f.svc.Submit(ctx, d.Name)
	require.NoError(t, err)

	f.proc.receipts["PR-1"] = procurement.PurchaseReceipt{Meta: shared.Meta{Name: "PR-1", DocStatus: shared.DocSubmitted}, LoadDispatch: d.Name, TotalQty: 1}
	_, err = f.svc.Cancel(ctx, d.Name)
	require.ErrorIs(t, err, ErrHasReceipts)

	delete(f.proc.receipts, "PR-1")
	d, err = f.svc.Cancel(ctx, d.Name)
	require.NoError(t, err)
	require.Equal(t, shared.DocCancelled, d.DocStatus)
	require.Equal(t, []string{d.Name}, f.inv.unlinked)
	require.Empty(t, f.inv.serials["FR-1"])
}

func TestReconcilePartialThenReceived(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	f.repo.dispatches["LD-1"] = LoadDispatch{Meta: shared.Meta{Name: "LD-1", DocStatus: shared.DocSubmitted}, LoadReferenceNo: "LP-1", TotalDispatchQuantity: 100, Status: StatusInTransit}
	f.proc.receipts["PR-1"] = procurement.PurchaseReceipt{Meta: shared.Meta{Name: "PR-1", DocStatus: shared.DocSubmitted}, LoadDispatch: "LD-1", TotalQty: 40}
	f.proc.brokenNames = []string{"PR-GONE"}

	totals, err := f.svc.Reconcile(ctx, "LD-1")
	require.NoError(t, err)
	require.Equal(t, 40, totals.Received)
	require.Equal(t, StatusInTransit, f.repo.dispatches["LD-1"].Status)

	f.proc.receipts["PR-2"] = procurement.PurchaseReceipt{Meta: shared.Meta{Name: "PR-2", DocStatus: shared.DocSubmitted}, LoadDispatch: "LD-1", TotalQty: 60}
	f.proc.invoices["PI-1"] = procurement.PurchaseInvoice{Meta: shared.Meta{Name: "PI-1", DocStatus: shared.DocSubmitted}, LoadDispatch: "LD-1", TotalQty: 100}
	totals, err = f.svc.Reconcile(ctx, "LD-1")
	require.NoError(t, err)
	require.Equal(t, Totals{Dispatched: 100, Received: 100, Billed: 100, Status: StatusReceived}, totals)
	require.Equal(t, 100, f.repo.dispatches["LD-1"].TotalReceivedQuantity)
	require.Equal(t, []string{"LP-1", "LP-1"}, f.plans.refreshed)
}

func TestImportItemsSkipsKnownFrames(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	d, err := f.svc.Create(ctx, Input{LoadReferenceNo: "LP-1", Items: frames("FR-1")})
	require.NoError(t, err)

	rows := append(frames("FR-1", "FR-2", "FR-2"), Item{}, Item{FrameNo: "777.0", ModelName: "Zip"})
	res, err := f.svc.ImportItems(ctx, d.Name, rows)
	require.NoError(t, err)
	require.Equal(t, ImportResult{Added: 2, Skipped: 3, Total: 3}, res)
	require.Equal(t, []string{"FR-1", "FR-2", "777"}, f.repo.dispatches[d.Name].Frames())
	require.Equal(t, 3, f.repo.dispatches[d.Name].TotalDispatchQuantity)
}

func TestImportItemsMatchesCleanedIdentifiers(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	d, err := f.svc.Create(ctx, Input{LoadReferenceNo: "LP-1", Items: frames("12345")})
	require.NoError(t, err)

	rows := []Item{
		{FrameNo: " 12345.0 ", ModelName: "Zip"},
		{FrameNo: "nan", ModelName: "Zip", MotorNo: "M-9.0", BatterySerialNo: " B-1 "},
	}
	res, err := f.svc.ImportItems(ctx, d.Name, rows)
	require.NoError(t, err)
	require.Equal(t, ImportResult{Added: 1, Skipped: 1, Total: 1}, res)
	added := f.repo.dispatches[d.Name].Items[1]
	require.Empty(t, added.FrameNo)
	require.Equal(t, "B-1", added.BatterySerialNo)
}

func TestCreatePurchaseReceiptSkipsReceivedFrames(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	d, err := f.svc.Create(ctx, Input{LoadReferenceNo: "LP-1", Items: frames("FR-1", "FR-2", "FR-3")})
	require.NoError(t, err)
	_, err = f.svc.CreatePurchaseReceipt(ctx, ReceiptInput{SourceName: d.Name})
	require.ErrorIs(t, err, ErrInvalidState)

	_, err = f.svc.Submit(ctx, d.Name)
	require.NoError(t, err)
	f.proc.receipts["PR-0"] = procurement.PurchaseReceipt{
		Meta:         shared.Meta{Name: "PR-0", DocStatus: shared.DocSubmitted},
		LoadDispatch: d.Name,
		Items:        []procurement.ReceiptItem{{ItemCode: "ZIP-STD-RED", SerialNo: "FR-1", Qty: 1}},
	}

	pr, err := f.svc.CreatePurchaseReceipt(ctx, ReceiptInput{SourceName: d.Name, FrameWarehouses: map[string]string{"FR-3": "Yard"}})
	require.NoError(t, err)
	require.Len(t, pr.Items, 2)
	input := f.proc.created[0]
	require.Equal(t, "OEM", input.Supplier)
	require.Equal(t, "Stores", input.Items[0].Warehouse)
	require.Equal(t, "Yard", input.Items[1].Warehouse)
	require.True(t, input.Items[0].Rate.Equal(decimal.NewFromInt(55000)))

	_, err = f.svc.CreatePurchaseReceipt(ctx, ReceiptInput{SourceName: d.Name})
	require.ErrorIs(t, err, shared.ErrDuplicate)

	for _, frame := range []string{"FR-2", "FR-3"} {
		f.proc.receipts["PR-"+frame] = procurement.PurchaseReceipt{
			Meta:         shared.Meta{Name: "PR-" + frame, DocStatus: shared.DocSubmitted},
			LoadDispatch: d.Name,
			Items:        []procurement.ReceiptItem{{SerialNo: frame, Qty: 1}},
		}
	}
	_, err = f.svc.CreatePurchaseReceipt(ctx, ReceiptInput{SourceName: d.Name})
	require.ErrorIs(t, err, ErrFullyReceived)
}

func TestCreatePurchaseReceiptAgainAfterCancel(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	d, err := f.svc.Create(ctx, Input{LoadReferenceNo: "LP-1", Items: frames("FR-1", "FR-2")})
	require.NoError(t, err)
	_, err = f.svc.Submit(ctx, d.Name)
	require.NoError(t, err)

	pr, err := f.svc.CreatePurchaseReceipt(ctx, ReceiptInput{SourceName: d.Name})
	require.NoError(t, err)
	key := procurement.DispatchReceiptKey(d.Name, []string{"FR-2", "FR-1"})
	require.True(t, f.idem.keys[key])
	_, err = f.svc.CreatePurchaseReceipt(ctx, ReceiptInput{SourceName: d.Name})
	require.ErrorIs(t, err, shared.ErrDuplicate)

	// cancelling the receipt releases the key for the same frames
	require.NoError(t, f.idem.Delete(ctx, procurement.DispatchReceiptKey(d.Name, pr.Frames())))
	again, err := f.svc.CreatePurchaseReceipt(ctx, ReceiptInput{SourceName: d.Name})
	require.NoError(t, err)
	require.ElementsMatch(t, []string{"FR-1", "FR-2"}, again.Frames())
	require.Len(t, f.proc.created, 2)
}
