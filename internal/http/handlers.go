package http

import (
	"net/http"

	"kakeibo/internal/core"
)

func (s *Server) handleListCategories(w http.ResponseWriter, r *http.Request) {
	userID, err := UserID(r)
	if err != nil {
		s.writeError(w, r, err, nil)
		return
	}
	cats, err := s.ledger.ListCategories(r.Context(), userID)
	if err != nil {
		s.writeError(w, r, err, nil)
		return
	}
	NewJSONResponse().Body(nonNil(cats)).Write(w)
}

func (s *Server) handleCreateCategory(w http.ResponseWriter, r *http.Request) {
	userID, err := UserID(r)
	if err != nil {
		s.writeError(w, r, err, nil)
		return
	}
	var in core.NewCategory
	if err := DecodeJSON(w, r, &in); err != nil {
		s.writeError(w, r, err, nil)
		return
	}
	cat, err := s.ledger.CreateCategory(r.Context(), userID, in)
	if err != nil {
		s.writeError(w, r, err, cat)
		return
	}
	NewJSONResponse().Status(http.StatusCreated).Body(cat).Write(w)
}

func (s *Server) handleListAccounts(w http.ResponseWriter, r *http.Request) {
	userID, err := UserID(r)
	if err != nil {
		s.writeError(w, r, err, nil)
		return
	}
	accs, err := s.ledger.ListAccounts(r.Context(), userID)
	if err != nil {
		s.writeError(w, r, err, nil)
		return
	}
	NewJSONResponse().Body(nonNil(accs)).Write(w)
}

func (s *Server) handleCreateAccount(w http.ResponseWriter, r *http.Request) {
	userID, err := UserID(r)
	if err != nil {
		s.writeError(w, r, err, nil)
		return
	}
	var in core.NewAccount
	if err := DecodeJSON(w, r, &in); err != nil {
		s.writeError(w, r, err, nil)
		return
	}
	acc, err := s.ledger.CreateAccount(r.Context(), userID, in)
	if err != nil {
		s.writeError(w, r, err, acc)
		return
	}
	NewJSONResponse().Status(http.StatusCreated).Body(acc).Write(w)
}

// nonNil keeps empty lists encoding as [] rather than null.
func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
