// Package dashboard aggregates logistics, battery and damage figures for the
// operations dashboards.
package dashboard

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-logistics/internal/shared"
)

// Name identifies a dashboard.
type Name string

const (
	Logistics Name = "logistics"
	Battery   Name = "battery"
	Damage    Name = "damage"
)

// Names lists every dashboard in display order.
var Names = []Name{Logistics, Battery, Damage}

// Valid reports whether n is a known dashboard.
func (n Name) Valid() bool {
	switch n {
	case Logistics, Battery, Damage:
		return true
	}
	return false
}

// ErrUnknownDashboard is returned for unsupported dashboard names.
var ErrUnknownDashboard = fmt.Errorf("unknown dashboard: %w", shared.ErrValidation)

const (
	defaultExpiringWithinDays = 30
	defaultLimit              = 10
	maxLimit                  = 100
)

// Filters narrows dashboard figures.
type Filters struct {
	From               *time.Time
	To                 *time.Time
	LoadReferenceNo    string
	ExpiringWithinDays int
	Limit              int
}

// Normalize applies defaults and validates ranges.
func (f Filters) Normalize() (Filters, error) {
	if f.From != nil && f.To != nil && f.To.Before(*f.From) {
		return Filters{}, shared.Invalid("to", "must not be before from")
	}
	if f.ExpiringWithinDays < 0 {
		return Filters{}, shared.Invalid("expiring_within_days", "must not be negative")
	}
	if f.ExpiringWithinDays == 0 {
		f.ExpiringWithinDays = defaultExpiringWithinDays
	}
	switch {
	case f.Limit <= 0:
		f.Limit = defaultLimit
	case f.Limit > maxLimit:
		f.Limit = maxLimit
	}
	f.LoadReferenceNo = strings.TrimSpace(f.LoadReferenceNo)
	return f, nil
}

// token renders the filters into a cache key fragment.
func (f Filters) token() string {
	parts := []string{dateToken(f.From), dateToken(f.To), shared.Coalesce(f.LoadReferenceNo, "-"),
		strconv.Itoa(f.ExpiringWithinDays), strconv.Itoa(f.Limit)}
	return strings.Join(parts, ":")
}

func dateToken(t *time.Time) string {
	if t == nil {
		return "-"
	}
	return t.Format("20060102")
}

// StatusCount is the number of documents in one status.
type StatusCount struct {
	Status string `json:"status"`
	Count  int    `json:"count"`
}

// Quantities compares planned against moved vehicle counts.
type Quantities struct {
	Target     int `json:"target"`
	Dispatched int `json:"dispatched"`
	Received   int `json:"received"`
	Billed     int `json:"billed"`
}

// DispatchRef summarises one in-transit dispatch.
type DispatchRef struct {
	Name            string     `json:"name"`
	LoadReferenceNo string     `json:"load_reference_no"`
	DispatchDate    *time.Time `json:"dispatch_date,omitempty"`
	Quantity        int        `json:"quantity"`
}

// LogisticsData backs the logistics dashboard.
type LogisticsData struct {
	PlansByStatus  []StatusCount `json:"plans_by_status"`
	Quantities     Quantities    `json:"quantities"`
	InTransit      []DispatchRef `json:"in_transit"`
	InTransitCount int           `json:"in_transit_count"`
}

// Aging bucket labels for bundled battery age in days.
const (
	Aging0To30  = "0-30"
	Aging31To60 = "31-60"
	Aging61To90 = "61-90"
	AgingOver90 = "90+"
)

var agingLabels = []string{Aging0To30, Aging31To60, Aging61To90, AgingOver90}

// AgingLabel returns the bucket for an age in days.
func AgingLabel(days int) string {
	switch {
	case days <= 30:
		return Aging0To30
	case days <= 60:
		return Aging31To60
	case days <= 90:
		return Aging61To90
	default:
		return AgingOver90
	}
}

// AgingBucket counts bundled batteries of one age range.
type AgingBucket struct {
	Label string `json:"label"`
	Count int    `json:"count"`
}

// AgingBuckets orders counts by bucket, filling empty buckets with zero.
func AgingBuckets(counts map[string]int) []AgingBucket {
	out := make([]AgingBucket, 0, len(agingLabels))
	for _, label := range agingLabels {
		out = append(out, AgingBucket{Label: label, Count: counts[label]})
	}
	return out
}

// BatteryData backs the battery dashboard.
type BatteryData struct {
	ByStatus     []StatusCount `json:"by_status"`
	ExpiringSoon int           `json:"expiring_soon"`
	ExpiringDays int           `json:"expiring_within_days"`
	Aging        []AgingBucket `json:"aging"`
	Discarded    int           `json:"discarded"`
}

// ReceiptDamage compares OK and Not OK frames of one load receipt.
type ReceiptDamage struct {
	LoadReceipt  string `json:"load_receipt"`
	LoadDispatch string `json:"load_dispatch"`
	OK           int    `json:"ok"`
	NotOK        int    `json:"not_ok"`
}

// DamageTypeCount counts damaged frames of one damage type.
type DamageTypeCount struct {
	DamageType    string          `json:"damage_type"`
	Count         int             `json:"count"`
	EstimatedCost decimal.Decimal `json:"estimated_cost"`
}

// DamageData backs the damage dashboard.
type DamageData struct {
	Receipts       []ReceiptDamage   `json:"receipts"`
	TopDamageTypes []DamageTypeCount `json:"top_damage_types"`
	TotalOK        int               `json:"total_ok"`
	TotalNotOK     int               `json:"total_not_ok"`
}

// Data is the payload of one dashboard.
type Data struct {
	Dashboard   Name           `json:"dashboard"`
	GeneratedAt time.Time      `json:"generated_at"`
	Logistics   *LogisticsData `json:"logistics,omitempty"`
	Battery     *BatteryData   `json:"battery,omitempty"`
	Damage      *DamageData    `json:"damage,omitempty"`
}
