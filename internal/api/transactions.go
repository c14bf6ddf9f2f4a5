package api

import (
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/geethx/workshop/internal/apperr"
	"github.com/geethx/workshop/internal/inventory"
	"github.com/geethx/workshop/internal/model"
)

// TransactionsHandler handles the ledger and the check-out/check-in
// endpoints.
type TransactionsHandler struct {
	Inventory *inventory.Service
}

func transactionFilter(r *http.Request) (model.TransactionFilter, error) {
	q := r.URL.Query()
	f := model.TransactionFilter{Action: q.Get("action")}

	var err error
	if f.Start, err = inventory.ParseDateBound("startDate", q.Get("startDate"), false); err != nil {
		return f, err
	}
	if f.End, err = inventory.ParseDateBound("endDate", q.Get("endDate"), true); err != nil {
		return f, err
	}
	if v := q.Get("itemId"); v != "" {
		if f.ItemID, err = strconv.ParseInt(v, 10, 64); err != nil {
			return f, apperr.Validation("itemId", "number", "must be an integer")
		}
	}
	if v := q.Get("limit"); v != "" {
		if f.Limit, err = strconv.Atoi(v); err != nil || f.Limit < 0 {
			return f, apperr.Validation("limit", "number", "must be a non-negative integer")
		}
	}
	return f, nil
}

// List handles GET /api/transactions.
func (h *TransactionsHandler) List(w http.ResponseWriter, r *http.Request) {
	f, err := transactionFilter(r)
	if err != nil {
		writeError(w, r, err)
		return
	}

	txs, err := h.Inventory.Transactions(r.Context(), CurrentUser(r.Context()), f)
	if err != nil {
		writeError(w, r, err)
		return
	}
	jsonResponse(w, http.StatusOK, map[string]any{"transactions": txs})
}

// Recent handles GET /api/transactions/recent.
func (h *TransactionsHandler) Recent(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			writeError(w, r, apperr.Validation("limit", "number", "must be an integer"))
			return
		}
		limit = n
	}

	txs, err := h.Inventory.RecentTransactions(r.Context(), CurrentUser(r.Context()), limit)
	if err != nil {
		writeError(w, r, err)
		return
	}
	jsonResponse(w, http.StatusOK, map[string]any{"transactions": txs})
}

// ItemHistory handles GET /api/transactions/item/{id}.
func (h *TransactionsHandler) ItemHistory(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, r, err)
		return
	}

	txs, err := h.Inventory.ItemHistory(r.Context(), CurrentUser(r.Context()), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	jsonResponse(w, http.StatusOK, map[string]any{"transactions": txs})
}

// Export handles GET /api/transactions/export.
func (h *TransactionsHandler) Export(w http.ResponseWriter, r *http.Request) {
	f, err := transactionFilter(r)
	if err != nil {
		writeError(w, r, err)
		return
	}

	txs, err := h.Inventory.Transactions(r.Context(), CurrentUser(r.Context()), f)
	if err != nil {
		writeError(w, r, err)
		return
	}

	name := fmt.Sprintf("transactions_%s.csv", time.Now().UTC().Format("2006-01-02"))
	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition", `attachment; filename="`+name+`"`)
	if err := inventory.WriteCSV(w, txs); err != nil {
		slog.WarnContext(r.Context(), "writing csv export", "req_id", RequestID(r.Context()), "error", err)
	}
}

// CheckOut handles POST /api/transactions/checkout.
func (h *TransactionsHandler) CheckOut(w http.ResponseWriter, r *http.Request) {
	var req inventory.TransitionInput
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	res, err := h.Inventory.CheckOut(r.Context(), CurrentUser(r.Context()), req)
	if err != nil {
		writeError(w, r, err)
		return
	}
	jsonResponse(w, http.StatusCreated, res)
}

// CheckIn handles POST /api/transactions/checkin.
func (h *TransactionsHandler) CheckIn(w http.ResponseWriter, r *http.Request) {
	var req inventory.TransitionInput
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	res, err := h.Inventory.CheckIn(r.Context(), CurrentUser(r.Context()), req)
	if err != nil {
		writeError(w, r, err)
		return
	}
	jsonResponse(w, http.StatusCreated, res)
}

// Batch handles POST /api/transactions/batch.
func (h *TransactionsHandler) Batch(w http.ResponseWriter, r *http.Request) {
	var req inventory.BatchInput
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	res, err := h.Inventory.Batch(r.Context(), CurrentUser(r.Context()), req)
	if err != nil {
		writeError(w, r, err)
		return
	}
	jsonResponse(w, http.StatusOK, res)
}
