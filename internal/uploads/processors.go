package uploads

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-logistics/internal/battery"
	"github.com/odyssey-erp/odyssey-logistics/internal/dispatch"
	"github.com/odyssey-erp/odyssey-logistics/internal/framebundle"
	"github.com/odyssey-erp/odyssey-logistics/internal/ingest"
	"github.com/odyssey-erp/odyssey-logistics/internal/loadplan"
)

// BatteryPort creates battery records.
type BatteryPort interface {
	EnsureBattery(ctx context.Context, input battery.CreateInput) (bool, error)
}

// BundlePort links batteries and keys to frames.
type BundlePort interface {
	GetByFrame(ctx context.Context, frameNo string) (framebundle.Bundle, error)
	Attach(ctx context.Context, input framebundle.AttachInput) (framebundle.AttachResult, error)
}

// InventoryPort reads and updates frame serial numbers.
type InventoryPort interface {
	SerialNoExists(ctx context.Context, frameNo string) (bool, error)
	SetKeyAndBattery(ctx context.Context, frameNo, keyNo, batterySerial string) error
}

// PlanPort creates load plans.
type PlanPort interface {
	Exists(ctx context.Context, referenceNo string) (bool, error)
	Create(ctx context.Context, input loadplan.CreateInput) (loadplan.LoadPlan, error)
}

// DispatchPort appends rows to a draft dispatch.
type DispatchPort interface {
	ImportItems(ctx context.Context, parent string, rows []dispatch.Item) (dispatch.ImportResult, error)
}

// processBatteries creates battery records and attaches them to frames named
// on the row. A frame without a bundle only gets one when its serial number
// exists.
func (s *Service) processBatteries(ctx context.Context, rows []ingest.Row) ingest.Result {
	return ingest.Apply(rows, func(row ingest.Row) (bool, error) {
		serial := row.ID("battery_serial_no")
		if serial == "" {
			return false, fmt.Errorf("battery_serial_no is required")
		}
		input := battery.CreateInput{
			SerialNo:    serial,
			Brand:       row.Get("brand"),
			BatteryType: row.Get("battery_type"),
		}
		charged, err := row.Date("charging_date")
		if err != nil {
			return false, err
		}
		if !charged.IsZero() {
			input.ChargingDate = &charged
		}
		created, err := s.batteries.EnsureBattery(ctx, input)
		if err != nil {
			return false, err
		}
		frame := row.ID("frame_no")
		if frame == "" {
			return !created, nil
		}
		if _, err := s.bundles.GetByFrame(ctx, frame); err != nil {
			if !errors.Is(err, framebundle.ErrNotFound) {
				return false, err
			}
			ok, err := s.inventory.SerialNoExists(ctx, frame)
			if err != nil {
				return false, err
			}
			if !ok {
				return false, fmt.Errorf("%w: %s", errFrameUnknown, frame)
			}
		}
		res, err := s.bundles.Attach(ctx, framebundle.AttachInput{FrameNo: frame, BatterySerialNo: serial})
		if err != nil {
			return false, err
		}
		return !created && !res.Changed, nil
	})
}

// processBatteryKeys records key and battery numbers on existing frames and
// keeps their bundles in step.
func (s *Service) processBatteryKeys(ctx context.Context, rows []ingest.Row) ingest.Result {
	return ingest.Apply(rows, func(row ingest.Row) (bool, error) {
		frame := row.ID("frame_no")
		if frame == "" {
			return false, fmt.Errorf("frame_no is required")
		}
		key := row.ID("key_no")
		serial := row.ID("battery_serial_no")
		if key == "" && serial == "" {
			return true, nil
		}
		ok, err := s.inventory.SerialNoExists(ctx, frame)
		if err != nil {
			return false, err
		}
		if !ok {
			return false, fmt.Errorf("%w: %s", errFrameUnknown, frame)
		}
		if err := s.inventory.SetKeyAndBattery(ctx, frame, key, serial); err != nil {
			return false, err
		}
		if serial != "" {
			if _, err := s.batteries.EnsureBattery(ctx, battery.CreateInput{SerialNo: serial}); err != nil {
				return false, err
			}
		}
		if _, err := s.bundles.Attach(ctx, framebundle.AttachInput{FrameNo: frame, BatterySerialNo: serial, KeyNo: key}); err != nil {
			return false, err
		}
		return false, nil
	})
}

type planGroup struct {
	input loadplan.CreateInput
	lines []int
}

// processLoadPlans groups rows by reference number and creates the plans that
// do not exist yet. Every row of a group shares the group's outcome.
func (s *Service) processLoadPlans(ctx context.Context, rows []ingest.Row) ingest.Result {
	var res ingest.Result
	groups := map[string]*planGroup{}
	var order []string
	for _, row := range rows {
		ref := row.ID("load_reference_no")
		if ref == "" {
			res.Fail(row.Line, fmt.Errorf("load_reference_no is required"))
			continue
		}
		item, err := planItem(row)
		if err != nil {
			res.Fail(row.Line, err)
			continue
		}
		g, ok := groups[ref]
		if !ok {
			g = &planGroup{input: loadplan.CreateInput{ReferenceNo: ref}}
			groups[ref] = g
			order = append(order, ref)
		}
		if g.input.DispatchPlanDate == nil {
			date, err := row.Date("dispatch_plan_date")
			if err != nil {
				res.Fail(row.Line, err)
				continue
			}
			if !date.IsZero() {
				g.input.DispatchPlanDate = &date
			}
		}
		if item.Model != "" {
			g.input.Items = append(g.input.Items, item)
		}
		g.lines = append(g.lines, row.Line)
	}

	for _, ref := range order {
		g := groups[ref]
		skip, err := s.createPlan(ctx, g.input)
		for _, line := range g.lines {
			switch {
			case err != nil:
				res.Fail(line, fmt.Errorf("%s: %w", ref, err))
			case skip:
				res.Skip()
			default:
				res.Succeed()
			}
		}
	}
	sort.SliceStable(res.Errors, func(i, j int) bool { return res.Errors[i].Line < res.Errors[j].Line })
	return res
}

func (s *Service) createPlan(ctx context.Context, input loadplan.CreateInput) (bool, error) {
	exists, err := s.plans.Exists(ctx, input.ReferenceNo)
	if err != nil {
		return false, err
	}
	if exists {
		return true, nil
	}
	_, err = s.plans.Create(ctx, input)
	return false, err
}

func planItem(row ingest.Row) (loadplan.Item, error) {
	item := loadplan.Item{
		Model:   row.Get("model"),
		Variant: row.Get("variant"),
		Color:   row.Get("color"),
	}
	qty, err := parseQuantity(row.ID("quantity"))
	if err != nil {
		return loadplan.Item{}, err
	}
	item.Quantity = qty
	if item.Model == "" && qty > 0 {
		return loadplan.Item{}, fmt.Errorf("model is required when quantity is set")
	}
	return item, nil
}

func parseQuantity(value string) (int, error) {
	if value == "" {
		return 0, nil
	}
	qty, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("quantity %q is not a whole number", value)
	}
	if qty < 0 {
		return 0, fmt.Errorf("quantity %d is negative", qty)
	}
	return qty, nil
}

// processDispatchItems converts rows into dispatch items and appends them to
// the parent dispatch in one import.
func (s *Service) processDispatchItems(ctx context.Context, parent string, rows []ingest.Row) (ingest.Result, error) {
	var res ingest.Result
	items := make([]dispatch.Item, 0, len(rows))
	for _, row := range rows {
		item, err := dispatchItem(row)
		if err != nil {
			res.Fail(row.Line, err)
			continue
		}
		items = append(items, item)
	}
	if len(items) == 0 {
		return res, nil
	}
	imported, err := s.dispatches.ImportItems(ctx, parent, items)
	if err != nil {
		return ingest.Result{}, err
	}
	res.Total += imported.Added + imported.Skipped
	res.Success += imported.Added
	res.Skipped += imported.Skipped
	return res, nil
}

func dispatchItem(row ingest.Row) (dispatch.Item, error) {
	item := dispatch.Item{
		ModelSerialNo:   row.ID("model_serial_no"),
		ModelName:       row.Get("model_name"),
		ModelVariant:    row.Get("model_variant"),
		ColorCode:       row.Get("color_code"),
		FrameNo:         row.ID("frame_no"),
		MotorNo:         row.ID("motor_no"),
		KeyNo:           row.ID("key_no"),
		BatterySerialNo: row.ID("battery_serial_no"),
		ItemCode:        row.Get("item_code"),
	}
	if price := strings.ReplaceAll(row.Get("price_unit"), ",", ""); price != "" {
		d, err := decimal.NewFromString(price)
		if err != nil {
			return dispatch.Item{}, fmt.Errorf("price_unit %q is not a number", price)
		}
		if d.IsNegative() {
			return dispatch.Item{}, fmt.Errorf("price_unit %s is negative", d)
		}
		item.PriceUnit = d
	}
	return item, nil
}
