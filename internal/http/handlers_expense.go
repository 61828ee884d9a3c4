package http

import (
	"net/http"

	"kakeibo/internal/core"
	applog "kakeibo/internal/log"
)

func (s *Server) handleListExpenses(w http.ResponseWriter, r *http.Request) {
	userID, err := UserID(r)
	if err != nil {
		s.writeError(w, r, err, nil)
		return
	}
	page, err := ParsePage(r.URL.Query())
	if err != nil {
		s.writeError(w, r, err, nil)
		return
	}
	items, err := s.ledger.ListTransactions(r.Context(), userID, page)
	if err != nil {
		s.writeError(w, r, err, nil)
		return
	}
	NewJSONResponse().Body(nonNil(items)).Write(w)
}

func (s *Server) handleCreateExpense(w http.ResponseWriter, r *http.Request) {
	userID, err := UserID(r)
	if err != nil {
		s.writeError(w, r, err, nil)
		return
	}
	var in core.NewTransaction
	if err := DecodeJSON(w, r, &in); err != nil {
		s.writeError(w, r, err, nil)
		return
	}
	view, err := s.ledger.CreateTransaction(r.Context(), userID, in)
	if view.ID != "" {
		s.logTransaction(r, applog.OpCreate, userID, view)
	}
	if err != nil {
		s.writeError(w, r, err, view)
		return
	}
	NewJSONResponse().Status(http.StatusCreated).Body(view).Write(w)
}

func (s *Server) handleUpdateExpense(w http.ResponseWriter, r *http.Request) {
	userID, err := UserID(r)
	if err != nil {
		s.writeError(w, r, err, nil)
		return
	}
	var patch core.TransactionPatch
	if err := DecodeJSON(w, r, &patch); err != nil {
		s.writeError(w, r, err, nil)
		return
	}
	view, err := s.ledger.UpdateTransaction(r.Context(), userID, r.PathValue("id"), patch)
	if view.ID != "" && !patch.Empty() {
		s.logTransaction(r, applog.OpUpdate, userID, view)
	}
	if err != nil {
		s.writeError(w, r, err, view)
		return
	}
	NewJSONResponse().Body(view).Write(w)
}

func (s *Server) handleDeleteExpense(w http.ResponseWriter, r *http.Request) {
	userID, err := UserID(r)
	if err != nil {
		s.writeError(w, r, err, nil)
		return
	}
	id := r.PathValue("id")
	if err := s.ledger.DeleteTransaction(r.Context(), userID, id); err != nil {
		s.writeError(w, r, err, map[string]any{"id": id, "deleted": true})
		return
	}
	NewJSONResponse().Status(http.StatusNoContent).Write(w)
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	userID, err := UserID(r)
	if err != nil {
		s.writeError(w, r, err, nil)
		return
	}
	st, err := s.ledger.PeriodStats(r.Context(), userID, ParseMonth(r.URL.Query()))
	if err != nil {
		s.writeError(w, r, err, nil)
		return
	}
	if st.ByCategory == nil {
		st.ByCategory = []core.CategoryTotal{}
	}
	applog.FromContext(r.Context()).DebugContext(r.Context(), "Period stats served",
		applog.FieldOperation, applog.OpStats,
		applog.FieldUserID, userID,
		applog.FieldMonth, st.PeriodLabel)
	NewJSONResponse().Body(st).Write(w)
}

func (s *Server) logTransaction(r *http.Request, op, userID string, v core.TransactionView) {
	applog.NewStructuredLogger(applog.FromContext(r.Context())).
		LogTransaction(r.Context(), op, userID, v.ID, v.AccountID, v.CategoryID, string(v.Type), v.Amount)
}
