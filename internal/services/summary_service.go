package services

import (
	"context"
	"fmt"

	"gasto/internal/core"
	"gasto/internal/storage"
)

// SummaryService computes month totals straight from storage, independent
// of any repository filter.
type SummaryService struct {
	exec storage.Executor
}

func NewSummaryService(exec storage.Executor) *SummaryService {
	return &SummaryService{exec: exec}
}

func (s *SummaryService) MonthSummary(ctx context.Context, month string) (core.MonthSummary, error) {
	if err := core.ValidateMonth(month); err != nil {
		return core.MonthSummary{}, err
	}

	expenses, err := s.entries(ctx, core.KindExpense, month)
	if err != nil {
		return core.MonthSummary{}, err
	}
	incomes, err := s.entries(ctx, core.KindIncome, month)
	if err != nil {
		return core.MonthSummary{}, err
	}

	rows, err := s.exec.Query(ctx, "SELECT "+categoryColumns+" FROM categories")
	if err != nil {
		return core.MonthSummary{}, fmt.Errorf("load categories: %w", err)
	}
	categories := make([]core.Category, 0, len(rows))
	for _, r := range rows {
		c, err := storage.DecodeCategory(r)
		if err != nil {
			return core.MonthSummary{}, fmt.Errorf("load categories: %w", err)
		}
		categories = append(categories, c)
	}

	return core.Summarize(month, expenses, incomes, categories)
}

func (s *SummaryService) entries(ctx context.Context, kind core.Kind, month string) ([]core.Entry, error) {
	rows, err := s.exec.Query(ctx,
		"SELECT "+entryColumns+" FROM "+kind.Table()+" WHERE date LIKE ?", month+"%")
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", kind.Table(), err)
	}
	out := make([]core.Entry, 0, len(rows))
	for _, r := range rows {
		e, err := storage.DecodeEntry(r)
		if err != nil {
			return nil, fmt.Errorf("load %s: %w", kind.Table(), err)
		}
		out = append(out, e)
	}
	return out, nil
}
