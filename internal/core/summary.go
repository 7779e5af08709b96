package core

import (
	"sort"
	"time"
)

// Period selects the time window for Analyze.
type Period string

const (
	PeriodMonth Period = "month"
	PeriodYear  Period = "year"
	PeriodAll   Period = "all"
)

// AllPeople disables the person filter in Analyze.
const AllPeople = "all"

// CategoryAmount represents an amount aggregated by category name.
type CategoryAmount struct {
	Name   string `json:"name"`
	Amount Money  `json:"amount"`
}

// MonthOverview is a compact summary for a specific year+month.
type MonthOverview struct {
	Year     int              `json:"year"`
	Month    int              `json:"month"` // 1-12
	Balances map[string]Money `json:"balances"`
	Total    Money            `json:"total"`
	Expenses []CategoryAmount `json:"expenses"`
}

type CategoryTotals struct {
	Income  Money `json:"income"`
	Expense Money `json:"expense"`
}

type Report struct {
	Period          Period                    `json:"period"`
	Person          string                    `json:"person"`
	TotalOperations int                       `json:"totalOperations"`
	TotalIncome     Money                     `json:"totalIncome"`
	TotalExpense    Money                     `json:"totalExpense"`
	Balance         Money                     `json:"balance"`
	ByCategory      map[string]CategoryTotals `json:"byCategory"`
	Operations      []Operation               `json:"operations"`
}

type LimitUsage struct {
	Category string `json:"category"`
	Limit    Money  `json:"limit"`
	Spent    Money  `json:"spent"`
	Percent  int    `json:"percent"`
	Exceeded bool   `json:"exceeded"`
}

type GoalProgress struct {
	Goal     Goal `json:"goal"`
	Percent  int  `json:"percent"`
	DaysLeft int  `json:"daysLeft"`
	Overdue  bool `json:"overdue"`
	Reached  bool `json:"reached"`
}

func inMonth(op Operation, year, month int) bool {
	return op.Date.Year() == year && op.Date.Month() == month
}

// MonthBalances returns the net balance per person for one month plus the
// overall net total. Income counts positive, expenses negative.
func MonthBalances(ops []Operation, year, month int) MonthOverview {
	ov := MonthOverview{Year: year, Month: month, Balances: map[string]Money{}}
	byCat := map[string]Money{}
	for _, op := range ops {
		if !inMonth(op, year, month) {
			continue
		}
		ov.Balances[op.Person] = ov.Balances[op.Person].Add(op.Signed())
		ov.Total = ov.Total.Add(op.Signed())
		if op.Type == Expense {
			byCat[op.Category] = byCat[op.Category].Add(op.Amount)
		}
	}
	for name, amount := range byCat {
		ov.Expenses = append(ov.Expenses, CategoryAmount{Name: name, Amount: amount})
	}
	sort.Slice(ov.Expenses, func(i, j int) bool {
		if c := ov.Expenses[i].Amount.Cmp(ov.Expenses[j].Amount.Decimal); c != 0 {
			return c > 0
		}
		return ov.Expenses[i].Name < ov.Expenses[j].Name
	})
	return ov
}

// SpentByCategory sums the expenses booked on category in one month.
func SpentByCategory(ops []Operation, category string, year, month int) Money {
	var total Money
	for _, op := range ops {
		if op.Type == Expense && op.Category == category && inMonth(op, year, month) {
			total = total.Add(op.Amount)
		}
	}
	return total
}

// Analyze aggregates the operations that fall in period (relative to now)
// and belong to person, or to everyone when person is AllPeople or empty.
func Analyze(ops []Operation, period Period, person string, now time.Time) Report {
	if person == "" {
		person = AllPeople
	}
	r := Report{
		Period:     period,
		Person:     person,
		ByCategory: map[string]CategoryTotals{},
		Operations: []Operation{},
	}
	for _, op := range ops {
		switch period {
		case PeriodMonth:
			if !inMonth(op, now.Year(), int(now.Month())) {
				continue
			}
		case PeriodYear:
			if op.Date.Year() != now.Year() {
				continue
			}
		}
		if person != AllPeople && op.Person != person {
			continue
		}

		r.Operations = append(r.Operations, op)
		ct := r.ByCategory[op.Category]
		if op.Type == Income {
			r.TotalIncome = r.TotalIncome.Add(op.Amount)
			ct.Income = ct.Income.Add(op.Amount)
		} else {
			r.TotalExpense = r.TotalExpense.Add(op.Amount)
			ct.Expense = ct.Expense.Add(op.Amount)
		}
		r.ByCategory[op.Category] = ct
	}
	r.TotalOperations = len(r.Operations)
	r.Balance = r.TotalIncome.Sub(r.TotalExpense)
	sort.SliceStable(r.Operations, func(i, j int) bool {
		return r.Operations[i].Date.After(r.Operations[j].Date.Time)
	})
	return r
}

// Usage reports spending against every configured limit for the month of
// now, sorted by category.
func Usage(d Document, now time.Time) []LimitUsage {
	out := make([]LimitUsage, 0, len(d.Limits))
	for cat, limit := range d.Limits {
		spent := SpentByCategory(d.Operations, cat, now.Year(), int(now.Month()))
		u := LimitUsage{Category: cat, Limit: limit, Spent: spent}
		if limit.IsPositive() {
			u.Percent = int(spent.Div(limit.Decimal).Shift(2).IntPart())
		}
		u.Exceeded = spent.GreaterThan(limit.Decimal)
		out = append(out, u)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Category < out[j].Category })
	return out
}

// Progress computes how far a goal is along as of today.
func Progress(g Goal, today time.Time) GoalProgress {
	p := GoalProgress{Goal: g, DaysLeft: g.Deadline.DaysUntil(today)}
	if g.Target.IsPositive() {
		p.Percent = int(g.Current.Div(g.Target.Decimal).Shift(2).IntPart())
	}
	p.Reached = g.Current.GreaterThanOrEqual(g.Target.Decimal)
	p.Overdue = p.DaysLeft < 0 && !p.Reached
	return p
}
