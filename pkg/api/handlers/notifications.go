package handlers

import (
	"net/http"

	"github.com/gorilla/mux"

	"inboxd/pkg/models"
	"inboxd/pkg/utils"
)

type notificationHandlers struct {
	d Deps
}

// RegisterNotifications registers the per-user notification feed.
func RegisterNotifications(r *mux.Router, d Deps) {
	h := notificationHandlers{d: d}
	r.HandleFunc("/users/{id}/notifications", h.list).Methods(http.MethodGet)
	r.HandleFunc("/users/{id}/notifications/read", h.markAllRead).Methods(http.MethodPost)
	r.HandleFunc("/users/{id}/notifications/{nid}/read", h.markRead).Methods(http.MethodPost)
}

func (h notificationHandlers) list(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if _, err := h.d.Store.GetUser(r.Context(), id); err != nil {
		writeErr(w, err)
		return
	}
	ns, err := h.d.Notify.Notifications(r.Context(), id, queryBool(r, "unread"), queryInt(r, "limit", 0))
	if err != nil {
		writeErr(w, err)
		return
	}
	_ = utils.JSONWrite(w, http.StatusOK, struct {
		User          string                 `json:"user"`
		Notifications []*models.Notification `json:"notifications"`
	}{User: id, Notifications: ns})
}

func (h notificationHandlers) markAllRead(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if _, err := h.d.Store.GetUser(r.Context(), id); err != nil {
		writeErr(w, err)
		return
	}
	n, err := h.d.Notify.MarkAllRead(r.Context(), id)
	if err != nil {
		writeErr(w, err)
		return
	}
	_ = utils.JSONWrite(w, http.StatusOK, struct {
		Marked int `json:"marked"`
	}{Marked: n})
}

func (h notificationHandlers) markRead(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	if err := h.d.Notify.MarkRead(r.Context(), vars["id"], vars["nid"]); err != nil {
		writeErr(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
