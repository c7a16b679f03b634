package integration

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/odyssey-logistics/internal/dispatch"
	"github.com/odyssey-erp/odyssey-logistics/internal/procurement"
	"github.com/odyssey-erp/odyssey-logistics/internal/shared"
)

type fakeDispatches struct {
	totals dispatch.Totals
	err    error
	calls  []string
}

func (f *fakeDispatches) Reconcile(ctx context.Context, name string) (dispatch.Totals, error) {
	f.calls = append(f.calls, name)
	return f.totals, f.err
}

type fakeReceipts struct {
	applied map[string]dispatch.Totals
	err     error
}

func (f *fakeReceipts) ApplyTotals(ctx context.Context, name string, totals dispatch.Totals) (int64, error) {
	if f.err != nil {
		return 0, f.err
	}
	if f.applied == nil {
		f.applied = map[string]dispatch.Totals{}
	}
	f.applied[name] = totals
	return 1, nil
}

type countingCache struct{ bumps int }

func (c *countingCache) Bump(ctx context.Context) error {
	c.bumps++
	return nil
}

type recordingNotifier struct{ subjects []string }

func (n *recordingNotifier) Notify(ctx context.Context, subject, body string) {
	n.subjects = append(n.subjects, subject)
}

func TestReceiptEventReconcilesDispatchAndReceipts(t *testing.T) {
	dispatches := &fakeDispatches{totals: dispatch.Totals{Dispatched: 3, Received: 3, Billed: 3, Status: dispatch.StatusReceived}}
	receipts := &fakeReceipts{}
	cache := &countingCache{}
	notifier := &recordingNotifier{}
	hooks := NewHooks(dispatches, receipts, notifier, cache, nil)

	err := hooks.HandleReceiptChanged(context.Background(), procurement.ReceiptEvent{
		Name: "PR-1", LoadDispatch: "LD-1", Action: procurement.ActionSubmitted, TotalQty: 3, At: time.Now(),
	})
	require.NoError(t, err)
	require.Equal(t, []string{"LD-1"}, dispatches.calls)
	require.Equal(t, 3, receipts.applied["LD-1"].Received)
	require.Equal(t, 1, cache.bumps)
	require.Equal(t, []string{"Load Dispatch LD-1 fully received"}, notifier.subjects)
}

func TestCancelledInvoiceDoesNotNotify(t *testing.T) {
	dispatches := &fakeDispatches{totals: dispatch.Totals{Dispatched: 3, Received: 3, Billed: 1, Status: dispatch.StatusReceived}}
	notifier := &recordingNotifier{}
	hooks := NewHooks(dispatches, &fakeReceipts{}, notifier, nil, nil)

	err := hooks.HandleInvoiceChanged(context.Background(), procurement.InvoiceEvent{
		Name: "PI-1", LoadDispatch: "LD-1", Action: procurement.ActionCancelled,
	})
	require.NoError(t, err)
	require.Len(t, dispatches.calls, 1)
	require.Empty(t, notifier.subjects)
}

func TestEventsWithoutDispatchAreIgnored(t *testing.T) {
	dispatches := &fakeDispatches{}
	hooks := NewHooks(dispatches, nil, nil, nil, nil)

	require.NoError(t, hooks.HandleReceiptChanged(context.Background(), procurement.ReceiptEvent{Name: "PR-2"}))
	require.Empty(t, dispatches.calls)

	var nilHooks *Hooks
	require.NoError(t, nilHooks.HandleInvoiceChanged(context.Background(), procurement.InvoiceEvent{LoadDispatch: "LD-1"}))
}

func TestReconcileErrors(t *testing.T) {
	ctx := context.Background()
	evt := procurement.ReceiptEvent{Name: "PR-3", LoadDispatch: "LD-9", Action: procurement.ActionSubmitted}

	missing := NewHooks(&fakeDispatches{err: fmt.Errorf("load dispatch: %w", shared.ErrNotFound)}, nil, nil, nil, nil)
	require.NoError(t, missing.HandleReceiptChanged(ctx, evt))

	broken := NewHooks(&fakeDispatches{err: errors.New("connection reset")}, nil, nil, nil, nil)
	require.ErrorContains(t, broken.HandleReceiptChanged(ctx, evt), "reconcile LD-9: connection reset")

	cache := &countingCache{}
	receiptsDown := NewHooks(&fakeDispatches{totals: dispatch.Totals{Dispatched: 2, Received: 1}}, &fakeReceipts{err: errors.New("deadlock")}, nil, cache, nil)
	require.NoError(t, receiptsDown.HandleReceiptChanged(ctx, evt))
	require.Equal(t, 1, cache.bumps)
}
