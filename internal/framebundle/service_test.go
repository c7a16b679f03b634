package framebundle

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/odyssey-logistics/internal/battery"
	"github.com/odyssey-erp/odyssey-logistics/internal/shared"
)

type memoryRepo struct {
	bundles    map[string]Bundle
	batteries  map[string]battery.Battery
	swappings  map[string]Swapping
	failAppend string
}

type memoryTx struct {
	repo *memoryRepo
}

type batteryTx struct {
	repo *memoryRepo
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{bundles: map[string]Bundle{}, batteries: map[string]battery.Battery{}, swappings: map[string]Swapping{}}
}

func cloneMap[K comparable, V any](m map[K]V) map[K]V {
	out := make(map[K]V, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// WithTx restores every table when fn fails.
func (r *memoryRepo) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	bundles, batteries, swappings := cloneMap(r.bundles), cloneMap(r.batteries), cloneMap(r.swappings)
	if err := fn(ctx, &memoryTx{repo: r}); err != nil {
		r.bundles, r.batteries, r.swappings = bundles, batteries, swappings
		return err
	}
	return nil
}

func (r *memoryRepo) GetBundle(ctx context.Context, name string) (Bundle, error) {
	b, ok := r.bundles[name]
	if !ok {
		return Bundle{}, ErrNotFound
	}
	b.SwapHistory = append([]SwapEntry(nil), b.SwapHistory...)
	b.DiscardHistory = append([]DiscardEntry(nil), b.DiscardHistory...)
	return b, nil
}

func (r *memoryRepo) GetActiveByFrame(ctx context.Context, frameNo string) (Bundle, error) {
	for name, b := range r.bundles {
		if b.FrameNo == frameNo && b.DocStatus != shared.DocCancelled {
			return r.GetBundle(ctx, name)
		}
	}
	return Bundle{}, ErrNotFound
}

func (r *memoryRepo) GetSwapping(ctx context.Context, name string) (Swapping, error) {
	sw, ok := r.swappings[name]
	if !ok {
		return Swapping{}, ErrNotFound
	}
	return sw, nil
}

func (r *memoryRepo) RefreshAging(ctx context.Context, asOf time.Time) (int64, error) {
	var n int64
	for name, b := range r.bundles {
		if b.DocStatus == shared.DocSubmitted {
			b.BatteryAgingDays = AgingDays(b.CreatedAt, asOf)
			if bat, ok := r.batteries[b.BatterySerialNo]; ok && bat.Expired(asOf) {
				b.IsBatteryExpired = true
			}
			r.bundles[name] = b
			n++
		}
	}
	return n, nil
}

func (tx *memoryTx) Batteries() battery.TxRepository {
	return &batteryTx{repo: tx.repo}
}

func (tx *memoryTx) NextName(ctx context.Context, frameNo string) (string, error) {
	n := 0
	for _, b := range tx.repo.bundles {
		if b.FrameNo == frameNo {
			n++
		}
	}
	if n == 0 {
		return frameNo, nil
	}
	return fmt.Sprintf("%s-%d", frameNo, n), nil
}

func (tx *memoryTx) InsertBundle(ctx context.Context, b Bundle) error {
	tx.repo.bundles[b.Name] = b
	return nil
}

func (tx *memoryTx) GetBundleForUpdate(ctx context.Context, name string) (Bundle, error) {
	return tx.repo.GetBundle(ctx, name)
}

func (tx *memoryTx) LockActiveByFrames(ctx context.Context, frames []string) ([]Bundle, error) {
	var out []Bundle
	for _, f := range frames {
		if b, err := tx.repo.GetActiveByFrame(ctx, f); err == nil {
			out = append(out, b)
		}
	}
	return out, nil
}

func (tx *memoryTx) UpdateBundle(ctx context.Context, b Bundle) error {
	cur, ok := tx.repo.bundles[b.Name]
	if !ok {
		return ErrNotFound
	}
	cur.BatterySerialNo, cur.KeyNo, cur.IsBatteryExpired, cur.BatteryAgingDays = b.BatterySerialNo, b.KeyNo, b.IsBatteryExpired, b.BatteryAgingDays
	tx.repo.bundles[b.Name] = cur
	return nil
}

func (tx *memoryTx) UpdateStatus(ctx context.Context, name string, docstatus shared.DocStatus) error {
	b := tx.repo.bundles[name]
	b.DocStatus = docstatus
	tx.repo.bundles[name] = b
	return nil
}

func (tx *memoryTx) AppendSwap(ctx context.Context, name string, e SwapEntry, digest []byte) error {
	if name == tx.repo.failAppend {
		return errors.New("connection reset")
	}
	b := tx.repo.bundles[name]
	b.SwapHistory = append(append([]SwapEntry(nil), b.SwapHistory...), e)
	b.HistoryDigest = digest
	tx.repo.bundles[name] = b
	return nil
}

func (tx *memoryTx) AppendDiscard(ctx context.Context, name string, e DiscardEntry, digest []byte) error {
	b := tx.repo.bundles[name]
	if len(b.DiscardHistory) > 0 {
		return ErrAlreadyDiscarded
	}
	b.DiscardHistory = []DiscardEntry{e}
	b.HistoryDigest = digest
	tx.repo.bundles[name] = b
	return nil
}

func (tx *memoryTx) InsertSwapping(ctx context.Context, s Swapping) error {
	tx.repo.swappings[s.Name] = s
	return nil
}

func (tx *memoryTx) GetSwappingForUpdate(ctx context.Context, name string) (Swapping, error) {
	return tx.repo.GetSwapping(ctx, name)
}

func (tx *memoryTx) MarkSwapped(ctx context.Context, name string, at time.Time) error {
	sw := tx.repo.swappings[name]
	sw.SwappedAt = &at
	sw.DocStatus = shared.DocSubmitted
	tx.repo.swappings[name] = sw
	return nil
}

func (tx *batteryTx) InsertBattery(ctx context.Context, b battery.Battery) (bool, error) {
	if _, ok := tx.repo.batteries[b.SerialNo]; ok {
		return false, nil
	}
	tx.repo.batteries[b.SerialNo] = b
	return true, nil
}

func (tx *batteryTx) GetBatteryForUpdate(ctx context.Context, serial string) (battery.Battery, error) {
	b, ok := tx.repo.batteries[serial]
	if !ok {
		return battery.Battery{}, battery.ErrNotFound
	}
	return b, nil
}

func (tx *batteryTx) UpdateBatteryState(ctx context.Context, serial string, status battery.Status, frameNo string) error {
	b, ok := tx.repo.batteries[serial]
	if !ok {
		return battery.ErrNotFound
	}
	b.Status, b.FrameNo = status, frameNo
	tx.repo.batteries[serial] = b
	return nil
}

func (tx *batteryTx) BundleFrameFor(ctx context.Context, serial string) (string, error) {
	for _, b := range tx.repo.bundles {
		if b.BatterySerialNo == serial && b.DocStatus != shared.DocCancelled {
			return b.FrameNo, nil
		}
	}
	return "", nil
}

func (tx *batteryTx) InsertTransaction(ctx context.Context, t battery.Transaction) error { return nil }

func (tx *batteryTx) UpdateTransaction(ctx context.Context, t battery.Transaction) error { return nil }

type recordingNotifier struct {
	subjects []string
}

func (n *recordingNotifier) Notify(ctx context.Context, subject, body string) {
	n.subjects = append(n.subjects, subject)
}

func newTestService(repo *memoryRepo) *Service {
	svc := NewService(repo, nil, nil, nil, nil)
	svc.now = func() time.Time { return time.Date(2025, 5, 13, 10, 0, 0, 123456789, time.UTC) }
	return svc
}

func stockBattery(repo *memoryRepo, serials ...string) {
	for _, s := range serials {
		repo.batteries[s] = battery.Battery{SerialNo: s, Status: battery.StatusInStock}
	}
}

func submittedBundle(t *testing.T, svc *Service, frame, serial string) Bundle {
	t.Helper()
	b, err := svc.Create(context.Background(), CreateInput{FrameNo: frame, BatterySerialNo: serial})
	require.NoError(t, err)
	b, err = svc.Submit(context.Background(), b.Name)
	require.NoError(t, err)
	return b
}

func TestDigestIsStableAcrossStoragePrecision(t *testing.T) {
	at := time.Date(2025, 5, 13, 10, 0, 0, 123456789, time.FixedZone("WIB", 7*3600))
	swaps := []SwapEntry{{SwapDate: at, CounterpartFrame: "FR-2", SwappedBy: "ops", OldBattery: "B1", NewBattery: "B2"}}
	stored := []SwapEntry{{SwapDate: at.UTC().Truncate(time.Microsecond), CounterpartFrame: "FR-2", SwappedBy: "ops", OldBattery: "B1", NewBattery: "B2"}}
	require.Equal(t, Digest(swaps, nil), Digest(stored, nil))
	require.Len(t, Digest(nil, nil), 32)

	edited := []SwapEntry{{SwapDate: at, CounterpartFrame: "FR-3", SwappedBy: "ops", OldBattery: "B1", NewBattery: "B2"}}
	require.NotEqual(t, Digest(swaps, nil), Digest(edited, nil))
	require.True(t, HistoryIntact(Bundle{}))
}

func TestCreateSubmitCancelMovesBattery(t *testing.T) {
	repo := newMemoryRepo()
	stockBattery(repo, "B1")
	svc := newTestService(repo)
	ctx := context.Background()

	b := submittedBundle(t, svc, "FR-1", "B1")
	require.Equal(t, "FR-1", b.Name)
	require.Equal(t, battery.StatusOut, repo.batteries["B1"].Status)
	require.Equal(t, "FR-1", repo.batteries["B1"].FrameNo)

	_, err := svc.Create(ctx, CreateInput{FrameNo: "FR-1"})
	require.ErrorIs(t, err, ErrBundleExists)
	_, err = svc.Create(ctx, CreateInput{FrameNo: "FR-2", BatterySerialNo: "B1"})
	require.ErrorIs(t, err, shared.ErrInvalidState)

	_, err = svc.Cancel(ctx, b.Name)
	require.NoError(t, err)
	require.Equal(t, battery.StatusInStock, repo.batteries["B1"].Status)
	require.Empty(t, repo.batteries["B1"].FrameNo)

	again, err := svc.Create(ctx, CreateInput{FrameNo: "FR-1", BatterySerialNo: "B1"})
	require.NoError(t, err)
	require.Equal(t, "FR-1-1", again.Name)
}

func TestSwapTwiceRestoresBatteries(t *testing.T) {
	repo := newMemoryRepo()
	stockBattery(repo, "B1", "B2")
	svc := newTestService(repo)
	ctx := shared.ContextWithActor(context.Background(), "ops@example.com")
	submittedBundle(t, svc, "FR-A", "B1")
	submittedBundle(t, svc, "FR-B", "B2")

	res, err := svc.SwapBatteries(ctx, "FR-A", "FR-B")
	require.NoError(t, err)
	require.Equal(t, "B2", res.Current.BatterySerialNo)
	require.Equal(t, "B1", res.Target.BatterySerialNo)
	require.Equal(t, "FR-B", repo.batteries["B1"].FrameNo)
	require.Equal(t, "FR-A", repo.batteries["B2"].FrameNo)
	entry := repo.bundles["FR-A"].SwapHistory[0]
	require.Equal(t, SwapEntry{SwapDate: ledgerTime(svc.now()), CounterpartFrame: "FR-B", SwappedBy: "ops@example.com", OldBattery: "B1", NewBattery: "B2"}, entry)
	require.Equal(t, "FR-A", repo.bundles["FR-B"].SwapHistory[0].CounterpartFrame)

	_, err = svc.SwapBatteries(ctx, "FR-A", "FR-B")
	require.NoError(t, err)
	require.Equal(t, "B1", repo.bundles["FR-A"].BatterySerialNo)
	require.Equal(t, "B2", repo.bundles["FR-B"].BatterySerialNo)
	require.Len(t, repo.bundles["FR-A"].SwapHistory, 2)
	require.Len(t, repo.bundles["FR-B"].SwapHistory, 2)
	require.True(t, HistoryIntact(repo.bundles["FR-A"]))

	_, err = svc.SwapBatteries(ctx, "FR-A", "FR-A")
	require.ErrorIs(t, err, shared.ErrValidation)
}

func TestSwapWithOneEmptyFrameMovesBattery(t *testing.T) {
	repo := newMemoryRepo()
	stockBattery(repo, "B1")
	svc := newTestService(repo)
	ctx := context.Background()
	submittedBundle(t, svc, "FR-A", "B1")
	submittedBundle(t, svc, "FR-B", "")

	res, err := svc.SwapBatteries(ctx, "FR-A", "FR-B")
	require.NoError(t, err)
	require.Empty(t, res.Current.BatterySerialNo)
	require.Equal(t, "FR-B", repo.batteries["B1"].FrameNo)

	submittedBundle(t, svc, "FR-C", "")
	_, err = svc.SwapBatteries(ctx, "FR-A", "FR-C")
	require.ErrorIs(t, err, ErrNoBattery)
}

func TestSwapFailureRollsBackBothBundles(t *testing.T) {
	repo := newMemoryRepo()
	stockBattery(repo, "B1", "B2")
	svc := newTestService(repo)
	ctx := context.Background()
	submittedBundle(t, svc, "FR-A", "B1")
	submittedBundle(t, svc, "FR-B", "B2")
	repo.failAppend = "FR-B"

	_, err := svc.SwapBatteries(ctx, "FR-A", "FR-B")
	require.Error(t, err)
	require.Empty(t, repo.bundles["FR-A"].SwapHistory)
	require.Equal(t, "B1", repo.bundles["FR-A"].BatterySerialNo)
	require.Equal(t, "FR-A", repo.batteries["B1"].FrameNo)
	require.Equal(t, "FR-B", repo.batteries["B2"].FrameNo)

	repo.failAppend = ""
	b2 := repo.batteries["B2"]
	b2.Status = battery.StatusInStock
	repo.batteries["B2"] = b2
	_, err = svc.SwapBatteries(ctx, "FR-A", "FR-B")
	require.ErrorIs(t, err, ErrInvalidState)
}

func TestMarkBatteryExpiredIsOneShot(t *testing.T) {
	repo := newMemoryRepo()
	stockBattery(repo, "B1", "B2")
	notifier := &recordingNotifier{}
	svc := newTestService(repo)
	svc.notifier = notifier
	ctx := context.Background()
	submittedBundle(t, svc, "FR-A", "B1")
	submittedBundle(t, svc, "FR-B", "B2")

	b, err := svc.MarkBatteryExpired(ctx, "FR-A", "swollen cells")
	require.NoError(t, err)
	require.True(t, b.IsBatteryExpired)
	require.Len(t, repo.bundles["FR-A"].DiscardHistory, 1)
	require.Equal(t, "B1", repo.bundles["FR-A"].DiscardHistory[0].BatterySerialNo)
	require.Equal(t, battery.StatusDiscarded, repo.batteries["B1"].Status)
	require.Len(t, notifier.subjects, 1)

	_, err = svc.MarkBatteryExpired(ctx, "FR-A", "again")
	require.ErrorIs(t, err, ErrAlreadyDiscarded)
	require.Len(t, repo.bundles["FR-A"].DiscardHistory, 1)
	require.Len(t, notifier.subjects, 1)

	_, err = svc.SwapBatteries(ctx, "FR-B", "FR-A")
	require.ErrorIs(t, err, ErrAlreadyDiscarded)
	require.Equal(t, "FR-B", repo.batteries["B2"].FrameNo)
}

func TestAgingFlagDoesNotBlockDiscard(t *testing.T) {
	repo := newMemoryRepo()
	stockBattery(repo, "B1", "B2")
	svc := newTestService(repo)
	ctx := context.Background()
	submittedBundle(t, svc, "FR-A", "B1")
	submittedBundle(t, svc, "FR-B", "B2")
	expiry := time.Date(2025, 5, 1, 0, 0, 0, 0, time.UTC)
	b1 := repo.batteries["B1"]
	b1.ExpiryDate = &expiry
	repo.batteries["B1"] = b1

	_, err := svc.RefreshAging(ctx)
	require.NoError(t, err)
	require.True(t, repo.bundles["FR-A"].IsBatteryExpired)
	require.False(t, repo.bundles["FR-B"].IsBatteryExpired)

	_, err = svc.SwapBatteries(ctx, "FR-A", "FR-B")
	require.NoError(t, err)
	_, err = svc.SwapBatteries(ctx, "FR-A", "FR-B")
	require.NoError(t, err)

	b, err := svc.MarkBatteryExpired(ctx, "FR-A", "past expiry")
	require.NoError(t, err)
	require.Len(t, b.DiscardHistory, 1)
	require.Equal(t, battery.StatusDiscarded, repo.batteries["B1"].Status)

	_, err = svc.MarkBatteryExpired(ctx, "FR-A", "again")
	require.ErrorIs(t, err, ErrAlreadyDiscarded)
}

func TestBatteryHeldByOneBundleOnly(t *testing.T) {
	repo := newMemoryRepo()
	stockBattery(repo, "B1")
	svc := newTestService(repo)
	ctx := context.Background()

	draft, err := svc.Create(ctx, CreateInput{FrameNo: "FR-A", BatterySerialNo: "B1"})
	require.NoError(t, err)
	_, err = svc.Create(ctx, CreateInput{FrameNo: "FR-B", BatterySerialNo: "B1"})
	require.ErrorIs(t, err, battery.ErrHeldByBundle)
	_, ok := repo.bundles["FR-B"]
	require.False(t, ok)

	other, err := svc.Create(ctx, CreateInput{FrameNo: "FR-C"})
	require.NoError(t, err)
	other.BatterySerialNo = "B1"
	_, err = svc.Save(ctx, other)
	require.ErrorIs(t, err, battery.ErrHeldByBundle)

	_, err = svc.Cancel(ctx, draft.Name)
	require.ErrorIs(t, err, ErrInvalidState)
	submitted, err := svc.Submit(ctx, draft.Name)
	require.NoError(t, err)
	_, err = svc.Cancel(ctx, submitted.Name)
	require.NoError(t, err)
	require.Equal(t, battery.StatusInStock, repo.batteries["B1"].Status)

	_, err = svc.Save(ctx, other)
	require.NoError(t, err)
	require.Equal(t, "B1", repo.bundles["FR-C"].BatterySerialNo)
}

func TestSaveRejectsHistoryEdits(t *testing.T) {
	repo := newMemoryRepo()
	stockBattery(repo, "B1", "B2", "B3")
	svc := newTestService(repo)
	ctx := context.Background()
	submittedBundle(t, svc, "FR-A", "B1")
	submittedBundle(t, svc, "FR-B", "B2")
	_, err := svc.SwapBatteries(ctx, "FR-A", "FR-B")
	require.NoError(t, err)

	b, err := svc.Get(ctx, "FR-A")
	require.NoError(t, err)
	b.KeyNo = "K-77"
	saved, err := svc.Save(ctx, b)
	require.NoError(t, err)
	require.Equal(t, "K-77", saved.KeyNo)

	b.SwapHistory[0].SwappedBy = "someone-else"
	_, err = svc.Save(ctx, b)
	require.ErrorIs(t, err, ErrHistoryTampered)

	b, _ = svc.Get(ctx, "FR-A")
	b.DiscardHistory = append(b.DiscardHistory, DiscardEntry{DiscardedBy: "x"})
	_, err = svc.Save(ctx, b)
	require.ErrorIs(t, err, ErrHistoryTampered)

	b, _ = svc.Get(ctx, "FR-A")
	b.BatterySerialNo = "B3"
	_, err = svc.Save(ctx, b)
	require.ErrorIs(t, err, ErrInvalidState)
	require.Equal(t, "B2", repo.bundles["FR-A"].BatterySerialNo)
}

func TestAttachCreatesOrFillsBundle(t *testing.T) {
	repo := newMemoryRepo()
	stockBattery(repo, "B1", "B2", "B3")
	svc := newTestService(repo)
	ctx := context.Background()

	res, err := svc.Attach(ctx, AttachInput{FrameNo: "FR-A", BatterySerialNo: "B1", KeyNo: "K1"})
	require.NoError(t, err)
	require.True(t, res.Created)
	require.Equal(t, shared.DocSubmitted, repo.bundles["FR-A"].DocStatus)
	require.Equal(t, battery.StatusOut, repo.batteries["B1"].Status)

	submittedBundle(t, svc, "FR-B", "")
	res, err = svc.Attach(ctx, AttachInput{FrameNo: "FR-B", BatterySerialNo: "B2"})
	require.NoError(t, err)
	require.False(t, res.Created)
	require.True(t, res.Changed)
	require.Equal(t, "B2", repo.bundles["FR-B"].BatterySerialNo)
	require.Equal(t, "FR-B", repo.batteries["B2"].FrameNo)

	res, err = svc.Attach(ctx, AttachInput{FrameNo: "FR-B", BatterySerialNo: "B2"})
	require.NoError(t, err)
	require.False(t, res.Changed)

	_, err = svc.Attach(ctx, AttachInput{FrameNo: "FR-B", BatterySerialNo: "B3"})
	require.ErrorIs(t, err, ErrBatteryMismatch)
}

func TestSubmitSwappingAndAging(t *testing.T) {
	repo := newMemoryRepo()
	stockBattery(repo, "B1", "B2")
	svc := newTestService(repo)
	ctx := context.Background()
	submittedBundle(t, svc, "FR-A", "B1")
	submittedBundle(t, svc, "FR-B", "B2")

	sw, err := svc.CreateSwapping(ctx, "FR-A", "FR-B")
	require.NoError(t, err)
	sw, err = svc.SubmitSwapping(ctx, sw.Name)
	require.NoError(t, err)
	require.NotNil(t, sw.SwappedAt)
	require.Equal(t, "B2", repo.bundles["FR-A"].BatterySerialNo)
	_, err = svc.SubmitSwapping(ctx, sw.Name)
	require.ErrorIs(t, err, ErrInvalidState)

	svc.now = func() time.Time { return time.Date(2025, 6, 12, 9, 0, 0, 0, time.UTC) }
	n, err := svc.RefreshAging(ctx)
	require.NoError(t, err)
	require.EqualValues(t, 2, n)
	require.Equal(t, 29, repo.bundles["FR-A"].BatteryAgingDays)
	require.Equal(t, 0, AgingDays(time.Now(), time.Now().Add(-time.Hour)))
}

func TestHandlerRejectsHistoryEdit(t *testing.T) {
	repo := newMemoryRepo()
	stockBattery(repo, "B1", "B2")
	svc := newTestService(repo)
	submittedBundle(t, svc, "FR-A", "B1")
	submittedBundle(t, svc, "FR-B", "B2")
	r := chi.NewRouter()
	NewHandler(nil, svc).MountRoutes(r)

	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/frame-bundles/swap", strings.NewReader(`{"current_frame":"FR-A","target_frame":"FR-B"}`)))
	require.Equal(t, http.StatusOK, rr.Code)

	rr = httptest.NewRecorder()
	r.ServeHTTP(rr, httptest.NewRequest(http.MethodPut, "/frame-bundles/FR-A", strings.NewReader(`{"key_no":"K-1"}`)))
	require.Equal(t, http.StatusOK, rr.Code)
	require.Equal(t, "K-1", repo.bundles["FR-A"].KeyNo)

	rr = httptest.NewRecorder()
	r.ServeHTTP(rr, httptest.NewRequest(http.MethodPut, "/frame-bundles/FR-A", strings.NewReader(`{"swap_history":[]}`)))
	require.Equal(t, http.StatusBadRequest, rr.Code)

	rr = httptest.NewRecorder()
	r.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/frame-bundles/FR-B/expire", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	rr = httptest.NewRecorder()
	r.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/frame-bundles/FR-B/expire", strings.NewReader(`{"reason":"again"}`)))
	require.Equal(t, http.StatusConflict, rr.Code)
}
