package http

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"budgetsync/internal/core"
	"budgetsync/internal/log"
	"budgetsync/internal/services"
)

func handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleReady(w http.ResponseWriter, _ *http.Request) {
	if !s.ready.Load() {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "starting"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

type statusResponse struct {
	services.Status
	Device core.DeviceIdentity `json:"device"`
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, statusResponse{
		Status: s.ledger.Coordinator().Status(),
		Device: s.ledger.Identity(),
	})
}

func (s *Server) handleDevices(w http.ResponseWriter, r *http.Request) {
	devices := []core.DeviceIdentity{}
	if s.devices != nil {
		devices = s.devices.Active(r.Context())
	}
	writeJSON(w, http.StatusOK, map[string]any{"devices": devices})
}

func (s *Server) handleGetDocument(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.ledger.Document())
}

func (s *Server) handleReplaceDocument(w http.ResponseWriter, r *http.Request) {
	data, err := readBody(w, r, maxImportBytes)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	doc, err := core.DecodeDocument(data)
	if err != nil {
		s.respondError(w, r, fmt.Errorf("%w: %v", errBadRequest, err))
		return
	}
	s.respondWrite(w, r, http.StatusOK, newWriteResponse(s.ledger.Replace(r.Context(), doc)))
}

func (s *Server) handleReloadDocument(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.ledger.Reload(r.Context()))
}

func (s *Server) handleAddOperation(w http.ResponseWriter, r *http.Request) {
	var in services.OperationInput
	if err := decodeJSON(w, r, maxBodyBytes, &in); err != nil {
		s.respondError(w, r, err)
		return
	}
	t, err := parseOperationType(string(in.Type))
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	in.Type = t
	in.Person = sanitizeInput(in.Person)
	in.Category = sanitizeInput(in.Category)
	in.Description = sanitizeInput(in.Description)

	res, op, err := s.ledger.AddOperation(r.Context(), in)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	out := newWriteResponse(res)
	out.Operation = &op
	s.respondWrite(w, r, http.StatusCreated, out)
}

func (s *Server) handleDeleteOperation(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	res, err := s.ledger.DeleteOperation(r.Context(), id)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	s.respondWrite(w, r, http.StatusOK, newWriteResponse(res))
}

type categoryRequest struct {
	Type string `json:"type"`
	Name string `json:"name"`
}

func (s *Server) handleAddCategory(w http.ResponseWriter, r *http.Request) {
	var req categoryRequest
	if err := decodeJSON(w, r, maxBodyBytes, &req); err != nil {
		s.respondError(w, r, err)
		return
	}
	t, err := parseOperationType(req.Type)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	res, id, err := s.ledger.AddCategory(r.Context(), t, sanitizeInput(req.Name))
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	out := newWriteResponse(res)
	out.ID = id
	s.respondWrite(w, r, http.StatusCreated, out)
}

func (s *Server) handleRemoveCategory(w http.ResponseWriter, r *http.Request) {
	t, err := parseOperationType(r.PathValue("type"))
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	res, err := s.ledger.RemoveCategory(r.Context(), t, r.PathValue("id"))
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	s.respondWrite(w, r, http.StatusOK, newWriteResponse(res))
}

func (s *Server) handleAddGoal(w http.ResponseWriter, r *http.Request) {
	var in services.GoalInput
	if err := decodeJSON(w, r, maxBodyBytes, &in); err != nil {
		s.respondError(w, r, err)
		return
	}
	in.Name = sanitizeInput(in.Name)
	in.Description = sanitizeInput(in.Description)

	res, goal, err := s.ledger.AddGoal(r.Context(), in)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	out := newWriteResponse(res)
	out.Goal = &goal
	s.respondWrite(w, r, http.StatusCreated, out)
}

func (s *Server) handleRemoveGoal(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	res, err := s.ledger.RemoveGoal(r.Context(), id)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	s.respondWrite(w, r, http.StatusOK, newWriteResponse(res))
}

type amountRequest struct {
	Amount core.Money `json:"amount"`
}

func (s *Server) handleContribute(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	var req amountRequest
	if err := decodeJSON(w, r, maxBodyBytes, &req); err != nil {
		s.respondError(w, r, err)
		return
	}
	if err := req.Amount.Validate(); err != nil {
		s.respondError(w, r, err)
		return
	}
	res, err := s.ledger.ContributeToGoal(r.Context(), id, req.Amount)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	s.respondWrite(w, r, http.StatusOK, newWriteResponse(res))
}

func (s *Server) handleSetLimit(w http.ResponseWriter, r *http.Request) {
	var req amountRequest
	if err := decodeJSON(w, r, maxBodyBytes, &req); err != nil {
		s.respondError(w, r, err)
		return
	}
	res, err := s.ledger.SetLimit(r.Context(), r.PathValue("category"), req.Amount)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	s.respondWrite(w, r, http.StatusOK, newWriteResponse(res))
}

func (s *Server) handleRemoveLimit(w http.ResponseWriter, r *http.Request) {
	res, err := s.ledger.RemoveLimit(r.Context(), r.PathValue("category"))
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	s.respondWrite(w, r, http.StatusOK, newWriteResponse(res))
}

func (s *Server) handleUpdateSetting(w http.ResponseWriter, r *http.Request) {
	var fields map[string]json.RawMessage
	if err := decodeJSON(w, r, maxBodyBytes, &fields); err != nil {
		s.respondError(w, r, err)
		return
	}
	raw, ok := fields["value"]
	if !ok {
		s.respondError(w, r, fmt.Errorf("%w: missing value", errBadRequest))
		return
	}
	var value any
	if err := json.Unmarshal(raw, &value); err != nil {
		s.respondError(w, r, fmt.Errorf("%w: %v", errBadRequest, err))
		return
	}
	res, err := s.ledger.UpdateSetting(r.Context(), r.PathValue("key"), value)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	s.respondWrite(w, r, http.StatusOK, newWriteResponse(res))
}

func (s *Server) handleAnalytics(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	period, err := parsePeriod(q.Get("period"))
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, s.ledger.Analytics(period, sanitizeInput(q.Get("person"))))
}

func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	data, name, err := s.ledger.Export()
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", name))
	_, _ = w.Write(data)
}

// handleImport merges the body into the document, or the backup named by
// ?uri= when present.
func (s *Server) handleImport(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var (
		res services.WriteResult
		err error
	)
	if uri := strings.TrimSpace(r.URL.Query().Get("uri")); uri != "" {
		res, err = s.ledger.ImportFrom(ctx, uri)
	} else {
		var blob []byte
		blob, err = readBody(w, r, maxImportBytes)
		if err == nil {
			res, err = s.ledger.Import(ctx, blob)
		}
	}
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	log.FromContext(ctx).InfoContext(ctx, "Import applied", log.FieldOperations, len(res.Document.Operations))
	s.respondWrite(w, r, http.StatusOK, newWriteResponse(res))
}

func (s *Server) handleBackup(w http.ResponseWriter, r *http.Request) {
	uri, err := s.ledger.Backup(r.Context())
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"uri": uri})
}
