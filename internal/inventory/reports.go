package inventory

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/geethx/workshop/internal/apperr"
	"github.com/geethx/workshop/internal/auth"
	"github.com/geethx/workshop/internal/model"
	"github.com/geethx/workshop/internal/store"
)

const (
	DefaultRecentLimit = 10
	MaxRecentLimit     = 100

	dashboardKey = "dashboard"
	dateLayout   = "2006-01-02"
	csvTimestamp = "2006-01-02 15:04:05"
)

// Dashboard returns catalog totals and the latest ledger entries. The result
// is cached briefly and dropped on every committed write.
func (s *Service) Dashboard(ctx context.Context, actor *model.User) (*model.DashboardStats, error) {
	if err := auth.Require(actor, auth.CapInventoryRead); err != nil {
		return nil, err
	}
	if v, ok := s.stats.Get(dashboardKey); ok {
		return v.(*model.DashboardStats), nil
	}

	gen := s.statsGeneration()
	counts, err := store.CountItems(ctx, s.db)
	if err != nil {
		return nil, err
	}
	recent, err := store.RecentTransactions(ctx, s.db, DefaultRecentLimit)
	if err != nil {
		return nil, err
	}

	stats := &model.DashboardStats{
		TotalItems:         counts.Total,
		InsideCount:        counts.Inside,
		OutsideCount:       counts.Outside,
		RecentTransactions: recent,
		CategoryBreakdown:  counts.Categories,
	}
	s.cacheStats(gen, stats)
	return stats, nil
}

// CheckedOut lists the items currently Outside that match f. f.Status is
// ignored.
func (s *Service) CheckedOut(ctx context.Context, actor *model.User, f model.ItemFilter) ([]model.Item, error) {
	f.Status = model.StatusOutside
	return s.ListItems(ctx, actor, f)
}

// Transactions queries the ledger, newest first.
func (s *Service) Transactions(ctx context.Context, actor *model.User, f model.TransactionFilter) ([]model.Transaction, error) {
	if err := auth.Require(actor, auth.CapInventoryRead); err != nil {
		return nil, err
	}
	if f.Action != "" && !model.ValidAction(f.Action) {
		return nil, apperr.Validation("action", "oneof", "must be one of CheckIn, CheckOut")
	}
	if f.Start != nil && f.End != nil && f.End.Before(*f.Start) {
		return nil, apperr.Validation("endDate", "gtefield", "must not be before startDate")
	}
	return store.ListTransactions(ctx, s.db, f)
}

// RecentTransactions returns the newest limit ledger entries. A limit
// outside 1..MaxRecentLimit falls back to DefaultRecentLimit or is capped.
func (s *Service) RecentTransactions(ctx context.Context, actor *model.User, limit int) ([]model.Transaction, error) {
	if err := auth.Require(actor, auth.CapInventoryRead); err != nil {
		return nil, err
	}
	switch {
	case limit <= 0:
		limit = DefaultRecentLimit
	case limit > MaxRecentLimit:
		limit = MaxRecentLimit
	}
	return store.RecentTransactions(ctx, s.db, limit)
}

// ItemHistory returns every ledger entry of item id, newest first. Entries
// outlive the item, so a deleted item still has a history.
func (s *Service) ItemHistory(ctx context.Context, actor *model.User, id int64) ([]model.Transaction, error) {
	if err := auth.Require(actor, auth.CapInventoryRead); err != nil {
		return nil, err
	}
	return store.ItemHistory(ctx, s.db, id)
}

// ExportCSV writes the ledger entries matching f to w as CSV with a header
// row. Times are UTC.
func (s *Service) ExportCSV(ctx context.Context, actor *model.User, w io.Writer, f model.TransactionFilter) error {
	txs, err := s.Transactions(ctx, actor, f)
	if err != nil {
		return err
	}
	return WriteCSV(w, txs)
}

// WriteCSV writes txs to w in the export column layout.
func WriteCSV(w io.Writer, txs []model.Transaction) error {
	cw := csv.NewWriter(w)
	if err := cw.Write([]string{"Date", "Item Code", "Item Name", "Action", "User", "Checkout Person", "Project Name", "Notes"}); err != nil {
		return fmt.Errorf("writing csv header: %w", err)
	}
	for _, t := range txs {
		err := cw.Write([]string{
			t.Timestamp.UTC().Format(csvTimestamp),
			t.ItemCode,
			t.ItemName,
			t.Action,
			t.UserName,
			t.CheckoutPerson,
			t.ProjectName,
			t.Notes,
		})
		if err != nil {
			return fmt.Errorf("writing csv row: %w", err)
		}
	}
	cw.Flush()
	return cw.Error()
}

// ParseDateBound parses a startDate or endDate query value. A plain date
// (2006-01-02) covers the whole UTC day: it means midnight as a start and
// the last microsecond of the day as an end. RFC 3339 values are exact.
func ParseDateBound(field, value string, end bool) (*time.Time, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil, nil
	}
	if t, err := time.Parse(time.RFC3339Nano, value); err == nil {
		t = t.UTC()
		return &t, nil
	}
	day, err := time.Parse(dateLayout, value)
	if err != nil {
		return nil, apperr.Validation(field, "datetime", "must be a date (YYYY-MM-DD) or an RFC 3339 time")
	}
	if end {
		day = day.AddDate(0, 0, 1).Add(-time.Microsecond)
	}
	return &day, nil
}
