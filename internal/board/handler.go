package board

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/gorilla/mux"

	"github.com/inamate/planboard/internal/auth"
)

type Handler struct {
	service *Service
}

func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

type createRequest struct {
	Name   string `json:"name"`
	Sample bool   `json:"sample"`
}

type inviteRequest struct {
	Email string `json:"email"`
}

// Routes registers the board API on an authenticated router.
func (h *Handler) Routes(r *mux.Router) {
	r.HandleFunc("/boards", h.List).Methods(http.MethodGet)
	r.HandleFunc("/boards", h.Create).Methods(http.MethodPost)
	r.HandleFunc("/boards/{boardId}", h.Get).Methods(http.MethodGet)
	r.HandleFunc("/boards/{boardId}", h.Delete).Methods(http.MethodDelete)
	r.HandleFunc("/boards/{boardId}/invite", h.Invite).Methods(http.MethodPost)
	r.HandleFunc("/boards/{boardId}/members", h.ListMembers).Methods(http.MethodGet)
	r.HandleFunc("/boards/{boardId}/members/{userId}", h.RemoveMember).Methods(http.MethodDelete)
	r.HandleFunc("/boards/{boardId}/snapshots/latest", h.GetLatestSnapshot).Methods(http.MethodGet)
}

func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	userID := auth.UserIDFromContext(r.Context())

	var req createRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		auth.WriteError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	req.Name = strings.TrimSpace(req.Name)
	if req.Name == "" {
		auth.WriteError(w, http.StatusBadRequest, "name is required")
		return
	}

	b, err := h.service.Create(r.Context(), req.Name, userID, req.Sample)
	if err != nil {
		h.handleServiceError(w, err)
		return
	}

	auth.WriteJSON(w, http.StatusCreated, b)
}

func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	b, err := h.service.Get(r.Context(), mux.Vars(r)["boardId"], auth.UserIDFromContext(r.Context()))
	if err != nil {
		h.handleServiceError(w, err)
		return
	}
	auth.WriteJSON(w, http.StatusOK, b)
}

func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	boards, err := h.service.List(r.Context(), auth.UserIDFromContext(r.Context()))
	if err != nil {
		h.handleServiceError(w, err)
		return
	}
	auth.WriteJSON(w, http.StatusOK, boards)
}

func (h *Handler) Delete(w http.ResponseWriter, r *http.Request) {
	err := h.service.Delete(r.Context(), mux.Vars(r)["boardId"], auth.UserIDFromContext(r.Context()))
	if err != nil {
		h.handleServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) Invite(w http.ResponseWriter, r *http.Request) {
	var req inviteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		auth.WriteError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	email := strings.ToLower(strings.TrimSpace(req.Email))
	if email == "" {
		auth.WriteError(w, http.StatusBadRequest, "email is required")
		return
	}

	err := h.service.InviteByEmail(r.Context(), mux.Vars(r)["boardId"], auth.UserIDFromContext(r.Context()), email)
	if err != nil {
		h.handleServiceError(w, err)
		return
	}
	auth.WriteJSON(w, http.StatusCreated, map[string]string{"status": "invited"})
}

func (h *Handler) ListMembers(w http.ResponseWriter, r *http.Request) {
	members, err := h.service.ListMembers(r.Context(), mux.Vars(r)["boardId"], auth.UserIDFromContext(r.Context()))
	if err != nil {
		h.handleServiceError(w, err)
		return
	}
	auth.WriteJSON(w, http.StatusOK, members)
}

func (h *Handler) RemoveMember(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	err := h.service.RemoveMember(r.Context(), vars["boardId"], auth.UserIDFromContext(r.Context()), vars["userId"])
	if err != nil {
		h.handleServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) GetLatestSnapshot(w http.ResponseWriter, r *http.Request) {
	doc, err := h.service.GetLatestSnapshot(r.Context(), mux.Vars(r)["boardId"], auth.UserIDFromContext(r.Context()))
	if err != nil {
		h.handleServiceError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write(doc)
}

func (h *Handler) handleServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrNotFound):
		auth.WriteError(w, http.StatusNotFound, "not found")
	case errors.Is(err, ErrUserNotFound):
		auth.WriteError(w, http.StatusNotFound, "user not found")
	case errors.Is(err, ErrForbidden):
		auth.WriteError(w, http.StatusForbidden, "forbidden")
	case errors.Is(err, ErrNotMember):
		auth.WriteError(w, http.StatusForbidden, "not a board member")
	case errors.Is(err, ErrOwnerRemoval):
		auth.WriteError(w, http.StatusBadRequest, "cannot remove board owner")
	default:
		h.service.logger.Error("board request failed", "error", err)
		auth.WriteError(w, http.StatusInternalServerError, "internal error")
	}
}
