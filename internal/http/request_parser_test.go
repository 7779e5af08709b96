package http

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"budgetsync/internal/core"
)

func TestPathID(t *testing.T) {
	tests := []struct {
		raw     string
		want    int64
		wantErr bool
	}{
		{"42", 42, false},
		{" 7 ", 7, false},
		{"0", 0, true},
		{"-3", 0, true},
		{"abc", 0, true},
		{"", 0, true},
	}
	for _, tt := range tests {
		r := httptest.NewRequest(http.MethodDelete, "/", nil)
		r.SetPathValue("id", tt.raw)
		got, err := pathID(r, "id")
		if (err != nil) != tt.wantErr {
			t.Errorf("pathID(%q) error = %v, wantErr %v", tt.raw, err, tt.wantErr)
		}
		if err != nil && !errors.Is(err, errBadRequest) {
			t.Errorf("pathID(%q) error not a bad request: %v", tt.raw, err)
		}
		if got != tt.want {
			t.Errorf("pathID(%q) = %d, want %d", tt.raw, got, tt.want)
		}
	}
}

func TestParseOperationType(t *testing.T) {
	tests := map[string]core.OperationType{
		"income":    core.Income,
		"EXPENSE":   core.Expense,
		" Expense ": core.Expense,
	}
	for in, want := range tests {
		got, err := parseOperationType(in)
		if err != nil || got != want {
			t.Errorf("parseOperationType(%q) = %q, %v", in, got, err)
		}
	}
	if _, err := parseOperationType("transfer"); !errors.Is(err, core.ErrInvalidType) {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestParsePeriod(t *testing.T) {
	tests := []struct {
		in      string
		want    core.Period
		wantErr bool
	}{
		{"", core.PeriodMonth, false},
		{"year", core.PeriodYear, false},
		{"ALL", core.PeriodAll, false},
		{"week", "", true},
	}
	for _, tt := range tests {
		got, err := parsePeriod(tt.in)
		if (err != nil) != tt.wantErr || got != tt.want {
			t.Errorf("parsePeriod(%q) = %q, %v", tt.in, got, err)
		}
	}
}

func TestSanitizeInput(t *testing.T) {
	tests := []struct{ in, want string }{
		{"  groceries ", "groceries"},
		{"line1\nline2", "line1\nline2"},
		{"bell\x07 and null\x00", "bell and null"},
	}
	for _, tt := range tests {
		if got := sanitizeInput(tt.in); got != tt.want {
			t.Errorf("sanitizeInput(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestDecodeJSONLimit(t *testing.T) {
	body := `{"name":"` + strings.Repeat("x", 100) + `"}`
	r := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(body))
	var dst map[string]string
	err := decodeJSON(httptest.NewRecorder(), r, 16, &dst)
	if !errors.Is(err, errBadRequest) {
		t.Fatalf("expected bad request, got %v", err)
	}
	if !strings.Contains(err.Error(), "exceeds") {
		t.Errorf("error = %v", err)
	}
}
