package expense

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/shopspring/decimal"
)

// maxUploadSize bounds receipt uploads; high-resolution phone photos need
// headroom.
const maxUploadSize = int64(50 << 20) // 50MB

// writeError maps sentinel errors onto HTTP status codes.
func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, ErrNotAuthorized):
		status = http.StatusForbidden
	case errors.Is(err, ErrAlreadyMatched), errors.Is(err, ErrPoolMismatch):
		status = http.StatusConflict
	case errors.Is(err, ErrInvalidInput):
		status = http.StatusBadRequest
	}
	if status == http.StatusInternalServerError {
		slog.Error("Request failed", "error", err)
	}

	setCORSHeaders(w)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": err.Error()})
}

// writeJSON writes a JSON response body with the given status.
func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		slog.Error("Error encoding response", "error", err)
	}
}

// handleListExpenses returns the expenses visible to the caller
func (s *Server) handleListExpenses(w http.ResponseWriter, r *http.Request, identity Identity) {
	records, err := s.service.ListExpenses(identity, r.URL.Query().Get("user"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, records)
}

// handleCreateExpense creates an expense from reviewed input
func (s *Server) handleCreateExpense(w http.ResponseWriter, r *http.Request, identity Identity) {
	var input Input
	if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
		writeError(w, errors.Join(ErrInvalidInput, err))
		return
	}

	record, err := s.service.CreateExpense(identity, input)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, record)
}

// handleGetExpense returns a single expense
func (s *Server) handleGetExpense(w http.ResponseWriter, r *http.Request, identity Identity) {
	record, err := s.service.GetExpense(identity, r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, record)
}

// handleUpdateExpense applies reviewed input to an expense
func (s *Server) handleUpdateExpense(w http.ResponseWriter, r *http.Request, identity Identity) {
	var input Input
	if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
		writeError(w, errors.Join(ErrInvalidInput, err))
		return
	}

	record, err := s.service.UpdateExpense(identity, r.PathValue("id"), input)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, record)
}

// handleDeleteExpense deletes an expense
func (s *Server) handleDeleteExpense(w http.ResponseWriter, r *http.Request, identity Identity) {
	if err := s.service.DeleteExpense(identity, r.PathValue("id")); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleSetChecked flips the review flag on an expense
func (s *Server) handleSetChecked(w http.ResponseWriter, r *http.Request, identity Identity) {
	var req struct {
		Checked bool `json:"checked"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, errors.Join(ErrInvalidInput, err))
		return
	}

	record, err := s.service.SetChecked(identity, r.PathValue("id"), req.Checked)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, record)
}

// handleGetReceiptImage returns the stored receipt image for an expense
func (s *Server) handleGetReceiptImage(w http.ResponseWriter, r *http.Request, identity Identity) {
	data, contentType, err := s.service.GetReceiptImage(identity, r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}

	w.Header().Set("Content-Type", contentType)
	w.Write(data)
}

// handleExportCSV streams the caller's visible expenses as CSV
func (s *Server) handleExportCSV(w http.ResponseWriter, r *http.Request, identity Identity) {
	data, err := s.service.ExportCSV(identity, r.URL.Query().Get("user"))
	if err != nil {
		writeError(w, err)
		return
	}

	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition", `attachment; filename="gastos.csv"`)
	w.Write(data)
}

// handleScanReceipt runs the extraction pipeline over an uploaded image and
// returns the draft expense without persisting it
func (s *Server) handleScanReceipt(w http.ResponseWriter, r *http.Request, identity Identity) {
	if err := r.ParseMultipartForm(maxUploadSize); err != nil {
		slog.Error("Error parsing multipart form", "error", err)
		writeError(w, errors.Join(ErrInvalidInput, err))
		return
	}

	f, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, errors.Join(ErrInvalidInput, err))
		return
	}
	defer f.Close()

	if header.Size > maxUploadSize {
		writeError(w, errors.Join(ErrInvalidInput, errors.New("file too large")))
		return
	}

	data, err := io.ReadAll(f)
	if err != nil {
		slog.Error("Error reading file data", "error", err, "filename", header.Filename)
		writeError(w, err)
		return
	}

	contentType := header.Header.Get("Content-Type")
	if contentType == "" {
		contentType = contentTypeFromExt(header.Filename)
	}
	contentType = strings.ToLower(strings.TrimSpace(contentType))

	draft, err := s.service.ScanReceipt(r.Context(), identity, header.Filename, data, contentType)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, draft)
}

// contentTypeFromExt guesses the MIME type of phone uploads whose header
// omits it
func contentTypeFromExt(filename string) string {
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".jpg", ".jpeg":
		return "image/jpeg"
	case ".png":
		return "image/png"
	case ".gif":
		return "image/gif"
	case ".pdf":
		return "application/pdf"
	case ".heic":
		return "image/heic"
	case ".heif":
		return "image/heif"
	default:
		return "application/octet-stream"
	}
}

// handlePools lists every pool the caller may see
func (s *Server) handlePools(w http.ResponseWriter, r *http.Request, identity Identity) {
	pools, err := s.reconciler.Pools(identity)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, pools)
}

// handlePoolSummaries lists the pools that still have pending entries
func (s *Server) handlePoolSummaries(w http.ResponseWriter, r *http.Request, identity Identity) {
	summaries, err := s.reconciler.PoolSummaries(identity)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, summaries)
}

// handleListPool lists the entries of one pool
func (s *Server) handleListPool(w http.ResponseWriter, r *http.Request, identity Identity) {
	entries, err := s.reconciler.ListPool(identity, r.URL.Query().Get("trip"), r.URL.Query().Get("user"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, entries)
}

// handleAddPoolEntry records an expected charge in a pool
func (s *Server) handleAddPoolEntry(w http.ResponseWriter, r *http.Request, identity Identity) {
	var req struct {
		Trip     string          `json:"trip"`
		User     string          `json:"user"`
		Amount   decimal.Decimal `json:"amount"`
		Currency string          `json:"currency"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, errors.Join(ErrInvalidInput, err))
		return
	}

	entry, err := s.reconciler.AddPoolEntry(identity, req.Trip, req.User, req.Amount, req.Currency)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, entry)
}

// handleDeletePoolEntry deletes a pool entry, releasing any paired expense
func (s *Server) handleDeletePoolEntry(w http.ResponseWriter, r *http.Request, identity Identity) {
	if err := s.reconciler.DeletePoolEntry(identity, r.PathValue("id")); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleFindCandidates lists the unmatched pool entries an expense could
// settle against
func (s *Server) handleFindCandidates(w http.ResponseWriter, r *http.Request, identity Identity) {
	candidates, err := s.reconciler.FindCandidates(identity, r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, candidates)
}

// handleMatch pairs an expense with a pool entry
func (s *Server) handleMatch(w http.ResponseWriter, r *http.Request, identity Identity) {
	var req struct {
		EntryID string `json:"entry_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, errors.Join(ErrInvalidInput, err))
		return
	}

	if err := s.reconciler.Match(identity, r.PathValue("id"), req.EntryID); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleUnmatch undoes an expense's settlement pairing
func (s *Server) handleUnmatch(w http.ResponseWriter, r *http.Request, identity Identity) {
	if err := s.reconciler.Unmatch(identity, r.PathValue("id")); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleListTrips returns the registered trips with their usage counts
func (s *Server) handleListTrips(w http.ResponseWriter, r *http.Request, identity Identity) {
	trips, err := s.service.ListTrips(identity)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, trips)
}

// handleCreateTrip registers a new trip tag
func (s *Server) handleCreateTrip(w http.ResponseWriter, r *http.Request, identity Identity) {
	var req struct {
		Name string `json:"name"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, errors.Join(ErrInvalidInput, err))
		return
	}

	trip, err := s.service.CreateTrip(identity, req.Name)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, trip)
}

// handleSetTripActive retires or reinstates a trip tag
func (s *Server) handleSetTripActive(w http.ResponseWriter, r *http.Request, identity Identity) {
	var req struct {
		Active bool `json:"active"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, errors.Join(ErrInvalidInput, err))
		return
	}

	trip, err := s.service.SetTripActive(identity, r.PathValue("name"), req.Active)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, trip)
}

// handleDeleteTrip removes an unused trip from the registry
func (s *Server) handleDeleteTrip(w http.ResponseWriter, r *http.Request, identity Identity) {
	if err := s.service.DeleteTrip(identity, r.PathValue("name")); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleConvert converts an amount between configured currencies
func (s *Server) handleConvert(w http.ResponseWriter, r *http.Request, identity Identity) {
	amount, err := decimal.NewFromString(r.URL.Query().Get("amount"))
	if err != nil {
		writeError(w, errors.Join(ErrInvalidInput, err))
		return
	}
	from := strings.ToUpper(r.URL.Query().Get("from"))
	to := strings.ToUpper(r.URL.Query().Get("to"))
	if to == "" {
		to = s.converter.Base()
	}

	converted := s.converter.Convert(amount, from, to)
	writeJSON(w, http.StatusOK, map[string]any{
		"amount":    amount,
		"from":      from,
		"to":        to,
		"converted": converted,
	})
}

// handleCategories returns the selectable category names in order, the
// default catch-all last
func (s *Server) handleCategories(w http.ResponseWriter, r *http.Request, identity Identity) {
	names := s.cfg.CategoryNames()
	hasDefault := false
	for _, name := range names {
		if name == s.cfg.DefaultCategory {
			hasDefault = true
			break
		}
	}
	if !hasDefault {
		names = append(names, s.cfg.DefaultCategory)
	}
	writeJSON(w, http.StatusOK, names)
}
