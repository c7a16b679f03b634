package dashboard

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/odyssey-erp/odyssey-logistics/internal/battery"
)

// RepositoryPort exposes the aggregate queries behind the dashboards.
type RepositoryPort interface {
	PlansByStatus(ctx context.Context, f Filters) ([]StatusCount, error)
	Quantities(ctx context.Context, f Filters) (Quantities, error)
	InTransit(ctx context.Context, f Filters) ([]DispatchRef, int, error)
	BatteriesByStatus(ctx context.Context) ([]StatusCount, error)
	ExpiringBatteries(ctx context.Context, before time.Time) (int, error)
	AgingCounts(ctx context.Context) (map[string]int, error)
	ReceiptDamage(ctx context.Context, f Filters) ([]ReceiptDamage, error)
	DamageTotals(ctx context.Context, f Filters) (int, int, error)
	TopDamageTypes(ctx context.Context, f Filters) ([]DamageTypeCount, error)
}

// CachePort stores rendered dashboards under versioned keys.
type CachePort interface {
	BuildKey(ctx context.Context, parts ...string) (string, error)
	FetchJSON(ctx context.Context, key string, dest any, loader func(context.Context) (any, error)) error
}

// Service assembles dashboard payloads.
type Service struct {
	repo   RepositoryPort
	cache  CachePort
	logger *slog.Logger
	now    func() time.Time
}

// NewService wires the repository with an optional cache.
func NewService(repo RepositoryPort, cache CachePort, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, cache: cache, logger: logger, now: time.Now}
}

// GetDashboardData returns the named dashboard, served from cache when the
// cache version has not moved since it was built.
func (s *Service) GetDashboardData(ctx context.Context, name Name, filters Filters) (Data, error) {
	if !name.Valid() {
		return Data{}, fmt.Errorf("%w: %q", ErrUnknownDashboard, name)
	}
	f, err := filters.Normalize()
	if err != nil {
		return Data{}, err
	}
	if s.cache == nil {
		return s.load(ctx, name, f)
	}
	key, err := s.cache.BuildKey(ctx, string(name), f.token())
	if err != nil {
		s.logger.Warn("dashboard cache key", slog.String("dashboard", string(name)), slog.Any("error", err))
		return s.load(ctx, name, f)
	}
	var data Data
	err = s.cache.FetchJSON(ctx, key, &data, func(ctx context.Context) (any, error) {
		return s.load(ctx, name, f)
	})
	if err != nil {
		return Data{}, err
	}
	return data, nil
}

// Warm builds every dashboard with default filters so the first reader after
// a cache bump hits a populated key.
func (s *Service) Warm(ctx context.Context) error {
	for _, name := range Names {
		if _, err := s.GetDashboardData(ctx, name, Filters{}); err != nil {
			return fmt.Errorf("warm %s dashboard: %w", name, err)
		}
	}
	return nil
}

func (s *Service) load(ctx context.Context, name Name, f Filters) (Data, error) {
	data := Data{Dashboard: name, GeneratedAt: s.now().UTC()}
	var err error
	switch name {
	case Logistics:
		data.Logistics, err = s.logistics(ctx, f)
	case Battery:
		data.Battery, err = s.battery(ctx, f)
	case Damage:
		data.Damage, err = s.damage(ctx, f)
	}
	if err != nil {
		return Data{}, err
	}
	return data, nil
}

func (s *Service) logistics(ctx context.Context, f Filters) (*LogisticsData, error) {
	var out LogisticsData
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		counts, err := s.repo.PlansByStatus(ctx, f)
		if err != nil {
			return fmt.Errorf("plans by status: %w", err)
		}
		out.PlansByStatus = counts
		return nil
	})
	g.Go(func() error {
		q, err := s.repo.Quantities(ctx, f)
		if err != nil {
			return fmt.Errorf("quantities: %w", err)
		}
		out.Quantities = q
		return nil
	})
	g.Go(func() error {
		refs, total, err := s.repo.InTransit(ctx, f)
		if err != nil {
			return fmt.Errorf("in transit: %w", err)
		}
		out.InTransit, out.InTransitCount = refs, total
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if out.PlansByStatus == nil {
		out.PlansByStatus = []StatusCount{}
	}
	if out.InTransit == nil {
		out.InTransit = []DispatchRef{}
	}
	return &out, nil
}

func (s *Service) battery(ctx context.Context, f Filters) (*BatteryData, error) {
	out := BatteryData{ExpiringDays: f.ExpiringWithinDays}
	before := s.now().AddDate(0, 0, f.ExpiringWithinDays)
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		counts, err := s.repo.BatteriesByStatus(ctx)
		if err != nil {
			return fmt.Errorf("batteries by status: %w", err)
		}
		out.ByStatus = counts
		return nil
	})
	g.Go(func() error {
		n, err := s.repo.ExpiringBatteries(ctx, before)
		if err != nil {
			return fmt.Errorf("expiring batteries: %w", err)
		}
		out.ExpiringSoon = n
		return nil
	})
	g.Go(func() error {
		counts, err := s.repo.AgingCounts(ctx)
		if err != nil {
			return fmt.Errorf("battery aging: %w", err)
		}
		out.Aging = AgingBuckets(counts)
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if out.ByStatus == nil {
		out.ByStatus = []StatusCount{}
	}
	for _, sc := range out.ByStatus {
		if sc.Status == string(battery.StatusDiscarded) {
			out.Discarded = sc.Count
		}
	}
	return &out, nil
}

func (s *Service) damage(ctx context.Context, f Filters) (*DamageData, error) {
	var out DamageData
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		receipts, err := s.repo.ReceiptDamage(ctx, f)
		if err != nil {
			return fmt.Errorf("receipt damage: %w", err)
		}
		out.Receipts = receipts
		return nil
	})
	g.Go(func() error {
		ok, notOK, err := s.repo.DamageTotals(ctx, f)
		if err != nil {
			return fmt.Errorf("damage totals: %w", err)
		}
		out.TotalOK, out.TotalNotOK = ok, notOK
		return nil
	})
	g.Go(func() error {
		types, err := s.repo.TopDamageTypes(ctx, f)
		if err != nil {
			return fmt.Errorf("damage types: %w", err)
		}
		out.TopDamageTypes = types
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if out.Receipts == nil {
		out.Receipts = []ReceiptDamage{}
	}
	if out.TopDamageTypes == nil {
		out.TopDamageTypes = []DamageTypeCount{}
	}
	return &out, nil
}
