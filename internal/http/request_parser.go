package http

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"budgetsync/internal/core"
)

var errBadRequest = errors.New("bad request")

// decodeJSON reads one JSON value of at most limit bytes into dst.
func decodeJSON(w http.ResponseWriter, r *http.Request, limit int64, dst any) error {
	body := http.MaxBytesReader(w, r.Body, limit)
	dec := json.NewDecoder(body)
	if err := dec.Decode(dst); err != nil {
		var tooLarge *http.MaxBytesError
		switch {
		case errors.As(err, &tooLarge):
			return fmt.Errorf("%w: body exceeds %d bytes", errBadRequest, limit)
		case errors.Is(err, io.EOF):
			return fmt.Errorf("%w: empty body", errBadRequest)
		default:
			return fmt.Errorf("%w: %v", errBadRequest, err)
		}
	}
	if dec.More() {
		return fmt.Errorf("%w: trailing data after JSON body", errBadRequest)
	}
	return nil
}

// readBody returns the raw body up to limit bytes.
func readBody(w http.ResponseWriter, r *http.Request, limit int64) ([]byte, error) {
	data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, limit))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return nil, fmt.Errorf("%w: body exceeds %d bytes", errBadRequest, limit)
		}
		return nil, fmt.Errorf("%w: %v", errBadRequest, err)
	}
	return data, nil
}

// pathID parses the named path value as a positive id.
func pathID(r *http.Request, name string) (int64, error) {
	raw := strings.TrimSpace(r.PathValue(name))
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("%w: invalid %s %q", errBadRequest, name, raw)
	}
	return id, nil
}

// parseOperationType accepts the type in any case.
func parseOperationType(s string) (core.OperationType, error) {
	switch t := core.OperationType(strings.ToLower(strings.TrimSpace(s))); t {
	case core.Income, core.Expense:
		return t, nil
	default:
		return "", core.ErrInvalidType
	}
}

// parsePeriod reads ?period=, defaulting to the current month.
func parsePeriod(s string) (core.Period, error) {
	switch p := core.Period(strings.ToLower(strings.TrimSpace(s))); p {
	case "":
		return core.PeriodMonth, nil
	case core.PeriodMonth, core.PeriodYear, core.PeriodAll:
		return p, nil
	default:
		return "", fmt.Errorf("%w: unknown period %q", errBadRequest, s)
	}
}

// sanitizeInput removes control characters other than tab and newlines
// and trims whitespace.
func sanitizeInput(s string) string {
	s = strings.TrimSpace(s)
	return strings.Map(func(r rune) rune {
		if r < 32 && r != '\t' && r != '\n' && r != '\r' {
			return -1
		}
		return r
	}, s)
}
