package core

import (
	"errors"
	"strings"
	"time"
)

const (
	Income  OperationType = "income"
	Expense OperationType = "expense"
)

const (
	DeviceDesktop DeviceType = "desktop"
	DeviceMobile  DeviceType = "mobile"
	DeviceTablet  DeviceType = "tablet"
)

const (
	StatusOnline  DeviceStatus = "online"
	StatusOffline DeviceStatus = "offline"
)

type (
	OperationType string
	DeviceType    string
	DeviceStatus  string

	// Operation is a single ledger entry. It is never edited after creation,
	// only deleted.
	Operation struct {
		ID           int64           `json:"id"`
		Type         OperationType   `json:"type"`
		Amount       Money           `json:"amount"`
		Person       string          `json:"person"`
		Category     string          `json:"category"`
		Description  string          `json:"description"`
		Date         Date            `json:"date"`
		CreatedAt    time.Time       `json:"createdAt"`
		OriginDevice *DeviceIdentity `json:"originDevice,omitempty"`
	}

	Categories struct {
		Income  []string `json:"income"`
		Expense []string `json:"expense"`
	}

	// Goal tracks a savings target. Current only moves through explicit
	// contributions and may exceed Target.
	Goal struct {
		ID          int64     `json:"id"`
		Name        string    `json:"name"`
		Target      Money     `json:"target"`
		Current     Money     `json:"current"`
		Deadline    Date      `json:"deadline"`
		Description string    `json:"description"`
		Created     time.Time `json:"created"`
	}

	// Document is the whole shared budget state. It is treated as an
	// immutable snapshot: every mutation returns a new Document.
	Document struct {
		Operations []Operation      `json:"operations"`
		Categories Categories       `json:"categories"`
		Limits     map[string]Money `json:"limits"`
		Goals      []Goal           `json:"goals"`
		Settings   map[string]any   `json:"settings"`
	}

	DeviceIdentity struct {
		SessionID  string       `json:"sessionId"`
		Type       DeviceType   `json:"type"`
		Name       string       `json:"name"`
		Model      string       `json:"model,omitempty"`
		OS         string       `json:"os,omitempty"`
		UserAgent  string       `json:"userAgent,omitempty"`
		UserID     string       `json:"userId,omitempty"`
		LastActive time.Time    `json:"lastActive"`
		Status     DeviceStatus `json:"status,omitempty"`
	}
)

var (
	ErrInvalidType       = errors.New("invalid operation type")
	ErrInvalidAmount     = errors.New("invalid amount")
	ErrEmptyPerson       = errors.New("empty person")
	ErrEmptyCategory     = errors.New("empty category")
	ErrEmptyName         = errors.New("empty name")
	ErrInvalidDate       = errors.New("invalid date")
	ErrDescriptionLength = errors.New("description too long (max 200 characters)")
	ErrCategoryExists    = errors.New("category already exists")
	ErrCategoryNotFound  = errors.New("category not found")
	ErrGoalNotFound      = errors.New("goal not found")
	ErrOperationNotFound = errors.New("operation not found")
	ErrInvalidSetting    = errors.New("invalid setting key")
	ErrInvalidImport     = errors.New("invalid import payload")
)

const maxDescriptionLength = 200

func (t OperationType) IsValid() bool {
	return t == Income || t == Expense
}

func (t OperationType) String() string {
	return string(t)
}

func (o Operation) Validate() error {
	if !o.Type.IsValid() {
		return ErrInvalidType
	}
	if err := o.Amount.Validate(); err != nil {
		return err
	}
	if strings.TrimSpace(o.Person) == "" {
		return ErrEmptyPerson
	}
	if strings.TrimSpace(o.Category) == "" {
		return ErrEmptyCategory
	}
	if o.Date.IsZero() {
		return ErrInvalidDate
	}
	if len(o.Description) > maxDescriptionLength {
		return ErrDescriptionLength
	}
	return nil
}

// Signed returns the amount with expenses negated.
func (o Operation) Signed() Money {
	if o.Type == Expense {
		return o.Amount.Neg()
	}
	return o.Amount
}

func (g Goal) Validate() error {
	if strings.TrimSpace(g.Name) == "" {
		return ErrEmptyName
	}
	if err := g.Target.Validate(); err != nil {
		return err
	}
	if g.Current.IsNegative() {
		return ErrInvalidAmount
	}
	if g.Deadline.IsZero() {
		return ErrInvalidDate
	}
	if len(g.Description) > maxDescriptionLength {
		return ErrDescriptionLength
	}
	return nil
}

// List returns the category list for an operation type.
func (c Categories) List(t OperationType) []string {
	if t == Income {
		return c.Income
	}
	return c.Expense
}

func (c Categories) Contains(t OperationType, id string) bool {
	for _, v := range c.List(t) {
		if v == id {
			return true
		}
	}
	return false
}
