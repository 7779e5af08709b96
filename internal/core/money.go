// Package core provides the budget domain model.
//
// This file contains the Money and Date value types and their wire formats.
package core

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

const dateLayout = "2006-01-02"

// Money is a decimal amount. It is written to JSON as a bare number and
// accepts both numbers and numeric strings when decoding.
type Money struct {
	decimal.Decimal
}

// Date is a calendar date without time of day, serialized as YYYY-MM-DD.
type Date struct {
	time.Time
}

func NewMoney(v float64) Money {
	return Money{Decimal: decimal.NewFromFloat(v)}
}

func MoneyFromCents(cents int64) Money {
	return Money{Decimal: decimal.New(cents, -2)}
}

// ParseMoney parses a positive decimal amount. Both dot and comma are
// accepted as decimal separator.
//
//	ParseMoney("12.34") -> 12.34
//	ParseMoney("12,5")  -> 12.5
func ParseMoney(s string) (Money, error) {
	s = strings.TrimSpace(strings.ReplaceAll(s, ",", "."))
	if s == "" {
		return Money{}, ErrInvalidAmount
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return Money{}, ErrInvalidAmount
	}
	m := Money{Decimal: d}
	if err := m.Validate(); err != nil {
		return Money{}, err
	}
	return m, nil
}

func (m Money) Validate() error {
	if !m.IsPositive() {
		return ErrInvalidAmount
	}
	return nil
}

func (m Money) Add(o Money) Money { return Money{Decimal: m.Decimal.Add(o.Decimal)} }
func (m Money) Sub(o Money) Money { return Money{Decimal: m.Decimal.Sub(o.Decimal)} }
func (m Money) Neg() Money        { return Money{Decimal: m.Decimal.Neg()} }

// Format renders the amount with two decimals followed by the currency,
// e.g. "12.50 zł".
func (m Money) Format(currency string) string {
	s := m.StringFixed(2)
	if currency == "" {
		return s
	}
	return s + " " + currency
}

func (m Money) MarshalJSON() ([]byte, error) {
	return []byte(m.Decimal.String()), nil
}

func (m *Money) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*m = Money{}
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		data = []byte(strings.ReplaceAll(strings.TrimSpace(s), ",", "."))
		if len(data) == 0 {
			*m = Money{}
			return nil
		}
	}
	d, err := decimal.NewFromString(string(data))
	if err != nil {
		return fmt.Errorf("decode amount %q: %w", data, err)
	}
	m.Decimal = d
	return nil
}

// NewDate creates a new Date from year, month, day
func NewDate(year, month, day int) Date {
	return Date{Time: time.Date(year, time.Month(month), day, 0, 0, 0, 0, time.UTC)}
}

// DateOf truncates a timestamp to its calendar date in the timestamp's zone.
func DateOf(t time.Time) Date {
	y, m, d := t.Date()
	return NewDate(y, int(m), d)
}

// ParseDate parses a date string in YYYY-MM-DD format.
func ParseDate(s string) (Date, error) {
	t, err := time.Parse(dateLayout, strings.TrimSpace(s))
	if err != nil {
		return Date{}, ErrInvalidDate
	}
	return Date{Time: t}, nil
}

// Month returns the month
func (d Date) Month() int {
	return int(d.Time.Month())
}

func (d Date) String() string {
	if d.IsZero() {
		return ""
	}
	return d.Format(dateLayout)
}

func (d Date) MarshalJSON() ([]byte, error) {
	if d.IsZero() {
		return []byte(`""`), nil
	}
	return json.Marshal(d.Format(dateLayout))
}

// UnmarshalJSON accepts plain dates as well as full RFC 3339 timestamps,
// which older clients wrote for goal deadlines.
func (d *Date) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		if bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
			*d = Date{}
			return nil
		}
		return fmt.Errorf("decode date: %w", err)
	}
	s = strings.TrimSpace(s)
	if s == "" {
		*d = Date{}
		return nil
	}
	if t, err := time.Parse(dateLayout, s); err == nil {
		d.Time = t
		return nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return fmt.Errorf("decode date %q: %w", s, ErrInvalidDate)
	}
	*d = DateOf(t)
	return nil
}

// DaysUntil returns the whole calendar days from today to d. Negative means
// d is in the past.
func (d Date) DaysUntil(today time.Time) int {
	from := DateOf(today)
	return int(d.Time.Sub(from.Time).Hours() / 24)
}
