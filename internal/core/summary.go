package core

import (
	"sort"

	"github.com/shopspring/decimal"
)

// CategoryTotal is the expense total of one category within a month.
type CategoryTotal struct {
	CategoryID string          `json:"category_id"`
	Name       string          `json:"name"`
	Color      string          `json:"color"`
	Total      decimal.Decimal `json:"total"`
	Percentage decimal.Decimal `json:"percentage"`
}

// MonthSummary is a compact overview of a YYYY-MM month.
type MonthSummary struct {
	Month         string          `json:"month"`
	TotalExpenses decimal.Decimal `json:"total_expenses"`
	TotalIncomes  decimal.Decimal `json:"total_incomes"`
	Balance       decimal.Decimal `json:"balance"`
	DailyAverage  decimal.Decimal `json:"daily_average"`
	ByCategory    []CategoryTotal `json:"by_category"`
}

var hundred = decimal.NewFromInt(100)

// Summarize aggregates entries that already belong to month. Categories are
// used for names and colors only; unknown ids keep their id as name.
func Summarize(month string, expenses, incomes []Entry, categories []Category) (MonthSummary, error) {
	days, err := DaysInMonth(month)
	if err != nil {
		return MonthSummary{}, err
	}

	lookup := make(map[string]Category, len(categories))
	for _, c := range categories {
		lookup[c.ID] = c
	}

	s := MonthSummary{Month: month}
	totals := make(map[string]decimal.Decimal)
	for _, e := range expenses {
		s.TotalExpenses = s.TotalExpenses.Add(e.Value)
		totals[e.CategoryID] = totals[e.CategoryID].Add(e.Value)
	}
	for _, e := range incomes {
		s.TotalIncomes = s.TotalIncomes.Add(e.Value)
	}
	s.Balance = s.TotalIncomes.Sub(s.TotalExpenses)
	s.DailyAverage = s.TotalExpenses.Div(decimal.NewFromInt(int64(days))).Round(2)

	s.ByCategory = make([]CategoryTotal, 0, len(totals))
	for id, total := range totals {
		ct := CategoryTotal{CategoryID: id, Name: id, Total: total}
		if c, ok := lookup[id]; ok {
			ct.Name = c.Name
			ct.Color = c.Color
		}
		if s.TotalExpenses.IsPositive() {
			ct.Percentage = total.Mul(hundred).Div(s.TotalExpenses).Round(1)
		}
		s.ByCategory = append(s.ByCategory, ct)
	}
	sort.Slice(s.ByCategory, func(i, j int) bool {
		if c := s.ByCategory[i].Total.Cmp(s.ByCategory[j].Total); c != 0 {
			return c > 0
		}
		return s.ByCategory[i].Name < s.ByCategory[j].Name
	})

	return s, nil
}
