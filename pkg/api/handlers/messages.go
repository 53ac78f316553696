package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"

	"inboxd/pkg/logger"
	"inboxd/pkg/models"
	"inboxd/pkg/telemetry"
	"inboxd/pkg/utils"
	"inboxd/pkg/validation"
)

type messageHandlers struct {
	d Deps
}

// RegisterMessages registers message CRUD, read marking, edit history
// and the thread view.
func RegisterMessages(r *mux.Router, d Deps) {
	h := messageHandlers{d: d}
	r.HandleFunc("/messages", h.create).Methods(http.MethodPost)
	r.HandleFunc("/messages/{id}", h.get).Methods(http.MethodGet)
	r.HandleFunc("/messages/{id}", h.update).Methods(http.MethodPut)
	r.HandleFunc("/messages/{id}", h.delete).Methods(http.MethodDelete)
	r.HandleFunc("/messages/{id}/read", h.markRead).Methods(http.MethodPost)
	r.HandleFunc("/messages/{id}/history", h.history).Methods(http.MethodGet)
	r.HandleFunc("/messages/{id}/thread", h.thread).Methods(http.MethodGet)
}

func (h messageHandlers) create(w http.ResponseWriter, r *http.Request) {
	var m models.Message
	if err := json.NewDecoder(r.Body).Decode(&m); err != nil {
		utils.JSONError(w, http.StatusBadRequest, "invalid json")
		return
	}
	if m.Sender == "" || m.Receiver == "" {
		utils.JSONError(w, http.StatusBadRequest, "sender and receiver required")
		return
	}
	if err := validation.ValidateContent(m.Content); err != nil {
		utils.JSONError(w, http.StatusBadRequest, err.Error())
		return
	}
	// server-assigned fields only
	m.ID, m.TS, m.Seq = "", 0, 0
	m.Edited, m.LastEdited, m.Read = false, 0, false
	end := telemetry.StartSpan(r.Context(), "create_message")
	defer end()
	if err := h.d.Store.CreateMessage(r.Context(), &m); err != nil {
		writeErr(w, err)
		return
	}
	logger.Info("message_created", "msg", m.ID, "sender", m.Sender, "receiver", m.Receiver)
	_ = utils.JSONWrite(w, http.StatusCreated, m)
}

func (h messageHandlers) get(w http.ResponseWriter, r *http.Request) {
	m, err := h.d.Store.GetMessage(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		writeErr(w, err)
		return
	}
	_ = utils.JSONWrite(w, http.StatusOK, m)
}

func (h messageHandlers) update(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	var payload struct {
		Editor  string `json:"editor"`
		Content string `json:"content"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		utils.JSONError(w, http.StatusBadRequest, "invalid json")
		return
	}
	if payload.Editor == "" {
		utils.JSONError(w, http.StatusBadRequest, "editor required")
		return
	}
	if err := validation.ValidateContent(payload.Content); err != nil {
		utils.JSONError(w, http.StatusBadRequest, err.Error())
		return
	}
	m, err := h.d.Store.UpdateMessageContent(r.Context(), id, payload.Editor, payload.Content)
	if err != nil {
		writeErr(w, err)
		return
	}
	_ = utils.JSONWrite(w, http.StatusOK, m)
}

func (h messageHandlers) delete(w http.ResponseWriter, r *http.Request) {
	if err := h.d.Store.DeleteMessage(r.Context(), mux.Vars(r)["id"]); err != nil {
		writeErr(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h messageHandlers) markRead(w http.ResponseWriter, r *http.Request) {
	if err := h.d.Store.MarkMessageRead(r.Context(), mux.Vars(r)["id"]); err != nil {
		writeErr(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h messageHandlers) history(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if _, err := h.d.Store.GetMessage(r.Context(), id); err != nil {
		writeErr(w, err)
		return
	}
	hist, err := h.d.Store.HistoryFor(r.Context(), id)
	if err != nil {
		writeErr(w, err)
		return
	}
	_ = utils.JSONWrite(w, http.StatusOK, struct {
		ID      string                   `json:"id"`
		History []*models.MessageHistory `json:"history"`
	}{ID: id, History: hist})
}

func (h messageHandlers) thread(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	end := telemetry.StartSpan(r.Context(), "materialize_thread")
	defer end()
	msgs, err := h.d.Threads.Thread(r.Context(), id)
	if err != nil {
		writeErr(w, err)
		return
	}
	_ = utils.JSONWrite(w, http.StatusOK, struct {
		Root     string            `json:"root"`
		Messages []*models.Message `json:"messages"`
	}{Root: msgs[0].ID, Messages: msgs})
}
