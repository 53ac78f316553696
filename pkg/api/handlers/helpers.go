package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"inboxd/pkg/models"
	"inboxd/pkg/notify"
	"inboxd/pkg/store"
	"inboxd/pkg/thread"
	"inboxd/pkg/utils"
)

// Deps carries the components the handlers call into.
type Deps struct {
	Store   *store.Store
	Threads *thread.Materializer
	Notify  *notify.Manager
}

// writeErr maps domain errors onto HTTP status codes. Anything outside
// the known taxonomy is treated as a transient store failure.
func writeErr(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, models.ErrUserNotFound),
		errors.Is(err, models.ErrMessageNotFound),
		errors.Is(err, models.ErrNotificationNotFound):
		utils.JSONError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, models.ErrNotSender):
		utils.JSONError(w, http.StatusForbidden, err.Error())
	case errors.Is(err, models.ErrThreadTooDeep):
		utils.JSONError(w, http.StatusUnprocessableEntity, err.Error())
	default:
		utils.JSONError(w, http.StatusInternalServerError, err.Error())
	}
}

func queryBool(r *http.Request, name string) bool {
	v := r.URL.Query().Get(name)
	return v == "1" || v == "true"
}

func queryInt(r *http.Request, name string, def int) int {
	v := r.URL.Query().Get(name)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return def
	}
	return n
}
