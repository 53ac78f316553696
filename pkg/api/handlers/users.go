package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"

	"inboxd/pkg/logger"
	"inboxd/pkg/models"
	"inboxd/pkg/utils"
	"inboxd/pkg/validation"
)

type userHandlers struct {
	d Deps
}

// RegisterUsers registers user CRUD plus the per-user inbox views.
func RegisterUsers(r *mux.Router, d Deps) {
	h := userHandlers{d: d}
	r.HandleFunc("/users", h.create).Methods(http.MethodPost)
	r.HandleFunc("/users", h.list).Methods(http.MethodGet)
	r.HandleFunc("/users/{id}", h.get).Methods(http.MethodGet)
	r.HandleFunc("/users/{id}", h.delete).Methods(http.MethodDelete)
	r.HandleFunc("/users/{id}/unread", h.unreadCount).Methods(http.MethodGet)
	r.HandleFunc("/users/{id}/messages", h.received).Methods(http.MethodGet)
	r.HandleFunc("/users/{id}/sent", h.sent).Methods(http.MethodGet)
	r.HandleFunc("/users/{id}/read", h.markAllRead).Methods(http.MethodPost)
}

func (h userHandlers) create(w http.ResponseWriter, r *http.Request) {
	var u models.User
	if err := json.NewDecoder(r.Body).Decode(&u); err != nil {
		utils.JSONError(w, http.StatusBadRequest, "invalid json")
		return
	}
	if err := validation.ValidateUsername(u.Username); err != nil {
		utils.JSONError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := h.d.Store.CreateUser(r.Context(), &u); err != nil {
		writeErr(w, err)
		return
	}
	logger.Info("user_created", "user", u.ID, "username", u.Username)
	_ = utils.JSONWrite(w, http.StatusCreated, u)
}

func (h userHandlers) list(w http.ResponseWriter, r *http.Request) {
	users, err := h.d.Store.ListUsers(r.Context())
	if err != nil {
		writeErr(w, err)
		return
	}
	_ = utils.JSONWrite(w, http.StatusOK, struct {
		Users []*models.User `json:"users"`
	}{Users: users})
}

func (h userHandlers) get(w http.ResponseWriter, r *http.Request) {
	u, err := h.d.Store.GetUser(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		writeErr(w, err)
		return
	}
	_ = utils.JSONWrite(w, http.StatusOK, u)
}

func (h userHandlers) delete(w http.ResponseWriter, r *http.Request) {
	if err := h.d.Store.DeleteUser(r.Context(), mux.Vars(r)["id"]); err != nil {
		writeErr(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h userHandlers) unreadCount(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if _, err := h.d.Store.GetUser(r.Context(), id); err != nil {
		writeErr(w, err)
		return
	}
	n, err := h.d.Store.UnreadCount(r.Context(), id)
	if err != nil {
		writeErr(w, err)
		return
	}
	_ = utils.JSONWrite(w, http.StatusOK, struct {
		User   string `json:"user"`
		Unread int    `json:"unread"`
	}{User: id, Unread: n})
}

func (h userHandlers) received(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if _, err := h.d.Store.GetUser(r.Context(), id); err != nil {
		writeErr(w, err)
		return
	}
	msgs, err := h.d.Store.MessagesByReceiver(r.Context(), id, queryBool(r, "unread"), queryInt(r, "limit", 0))
	if err != nil {
		writeErr(w, err)
		return
	}
	_ = utils.JSONWrite(w, http.StatusOK, struct {
		User     string            `json:"user"`
		Messages []*models.Message `json:"messages"`
	}{User: id, Messages: msgs})
}

func (h userHandlers) sent(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if _, err := h.d.Store.GetUser(r.Context(), id); err != nil {
		writeErr(w, err)
		return
	}
	msgs, err := h.d.Store.MessagesBySender(r.Context(), id, queryInt(r, "limit", 0))
	if err != nil {
		writeErr(w, err)
		return
	}
	_ = utils.JSONWrite(w, http.StatusOK, struct {
		User     string            `json:"user"`
		Messages []*models.Message `json:"messages"`
	}{User: id, Messages: msgs})
}

func (h userHandlers) markAllRead(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if _, err := h.d.Store.GetUser(r.Context(), id); err != nil {
		writeErr(w, err)
		return
	}
	n, err := h.d.Store.MarkAllRead(r.Context(), id)
	if err != nil {
		writeErr(w, err)
		return
	}
	_ = utils.JSONWrite(w, http.StatusOK, struct {
		Marked int `json:"marked"`
	}{Marked: n})
}
