package api_test

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"inboxd/pkg/api"
	"inboxd/pkg/cleanup"
	"inboxd/pkg/history"
	"inboxd/pkg/hooks"
	"inboxd/pkg/models"
	"inboxd/pkg/notify"
	"inboxd/pkg/store"
	"inboxd/pkg/thread"
)

type testAPI struct {
	h     http.Handler
	store *store.Store
}

func newTestAPI(t *testing.T, maxDepth int) *testAPI {
	t.Helper()
	d := hooks.NewDispatcher()
	s, err := store.Open(t.TempDir(), d)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	nm := notify.NewManager(s, 50)
	d.OnMessageUpdate(history.NewRecorder())
	d.OnMessageCreate(nm)
	d.OnUserDelete(cleanup.NewCoordinator(s))
	h := api.Handler(api.Deps{
		Store:   s,
		Threads: thread.NewMaterializer(s, maxDepth),
		Notify:  nm,
	})
	return &testAPI{h: h, store: s}
}

func (a *testAPI) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var rd *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		rd = bytes.NewReader(data)
	} else {
		rd = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, rd)
	rec := httptest.NewRecorder()
	a.h.ServeHTTP(rec, req)
	return rec
}

func (a *testAPI) mkUser(t *testing.T, name string) models.User {
	t.Helper()
	rec := a.do(t, http.MethodPost, "/v1/users", map[string]string{"username": name})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create user %s: status %d body %s", name, rec.Code, rec.Body.String())
	}
	var u models.User
	if err := json.Unmarshal(rec.Body.Bytes(), &u); err != nil {
		t.Fatalf("decode user: %v", err)
	}
	return u
}

func (a *testAPI) mkMsg(t *testing.T, sender, receiver, content, parent string) models.Message {
	t.Helper()
	rec := a.do(t, http.MethodPost, "/v1/messages", map[string]string{
		"sender": sender, "receiver": receiver, "content": content, "parent": parent,
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create message: status %d body %s", rec.Code, rec.Body.String())
	}
	var m models.Message
	if err := json.Unmarshal(rec.Body.Bytes(), &m); err != nil {
		t.Fatalf("decode message: %v", err)
	}
	return m
}

func TestHealthEndpoints(t *testing.T) {
	a := newTestAPI(t, 16)
	for _, path := range []string{"/healthz", "/readyz"} {
		rec := a.do(t, http.MethodGet, path, nil)
		if rec.Code != http.StatusOK {
			t.Fatalf("%s: status %d", path, rec.Code)
		}
	}
}

func TestMessageFlow(t *testing.T) {
	a := newTestAPI(t, 16)
	alice := a.mkUser(t, "alice")
	bob := a.mkUser(t, "bob")

	m := a.mkMsg(t, alice.ID, bob.ID, "hello bob", "")
	if m.ID == "" || m.TS == 0 {
		t.Fatalf("server must assign id and timestamp: %+v", m)
	}
	if m.Read || m.Edited {
		t.Fatalf("fresh message must be unread and unedited: %+v", m)
	}

	rec := a.do(t, http.MethodGet, "/v1/users/"+bob.ID+"/unread", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("unread: status %d", rec.Code)
	}
	var unread struct {
		Unread int `json:"unread"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &unread); err != nil {
		t.Fatalf("decode unread: %v", err)
	}
	if unread.Unread != 1 {
		t.Fatalf("unread = %d, want 1", unread.Unread)
	}

	if rec := a.do(t, http.MethodPost, "/v1/messages/"+m.ID+"/read", nil); rec.Code != http.StatusNoContent {
		t.Fatalf("mark read: status %d", rec.Code)
	}
	rec = a.do(t, http.MethodGet, "/v1/users/"+bob.ID+"/unread", nil)
	if err := json.Unmarshal(rec.Body.Bytes(), &unread); err != nil {
		t.Fatalf("decode unread: %v", err)
	}
	if unread.Unread != 0 {
		t.Fatalf("unread after read = %d, want 0", unread.Unread)
	}

	// the receiver got a notification for the message
	rec = a.do(t, http.MethodGet, "/v1/users/"+bob.ID+"/notifications", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("notifications: status %d", rec.Code)
	}
	var feed struct {
		Notifications []models.Notification `json:"notifications"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &feed); err != nil {
		t.Fatalf("decode notifications: %v", err)
	}
	if len(feed.Notifications) != 1 || feed.Notifications[0].Message != m.ID {
		t.Fatalf("unexpected feed: %+v", feed.Notifications)
	}
}

func TestEditRequiresSender(t *testing.T) {
	a := newTestAPI(t, 16)
	alice := a.mkUser(t, "alice")
	bob := a.mkUser(t, "bob")
	m := a.mkMsg(t, alice.ID, bob.ID, "v1", "")

	rec := a.do(t, http.MethodPut, "/v1/messages/"+m.ID, map[string]string{
		"editor": bob.ID, "content": "hijacked",
	})
	if rec.Code != http.StatusForbidden {
		t.Fatalf("non-sender edit: status %d body %s", rec.Code, rec.Body.String())
	}

	rec = a.do(t, http.MethodPut, "/v1/messages/"+m.ID, map[string]string{
		"editor": alice.ID, "content": "v2",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("sender edit: status %d body %s", rec.Code, rec.Body.String())
	}
	var edited models.Message
	if err := json.Unmarshal(rec.Body.Bytes(), &edited); err != nil {
		t.Fatalf("decode edited: %v", err)
	}
	if !edited.Edited || edited.Content != "v2" {
		t.Fatalf("edit not applied: %+v", edited)
	}

	rec = a.do(t, http.MethodGet, "/v1/messages/"+m.ID+"/history", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("history: status %d", rec.Code)
	}
	var hist struct {
		History []models.MessageHistory `json:"history"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &hist); err != nil {
		t.Fatalf("decode history: %v", err)
	}
	if len(hist.History) != 1 || hist.History[0].OldContent != "v1" {
		t.Fatalf("unexpected history: %+v", hist.History)
	}
}

func TestNotFoundStatuses(t *testing.T) {
	a := newTestAPI(t, 16)
	alice := a.mkUser(t, "alice")

	cases := []struct {
		method, path string
		body         any
	}{
		{http.MethodGet, "/v1/users/user-missing", nil},
		{http.MethodDelete, "/v1/users/user-missing", nil},
		{http.MethodGet, "/v1/messages/msg-missing", nil},
		{http.MethodGet, "/v1/messages/msg-missing/thread", nil},
		{http.MethodGet, "/v1/messages/msg-missing/history", nil},
		{http.MethodPost, "/v1/messages/msg-missing/read", nil},
		{http.MethodPut, "/v1/messages/msg-missing", map[string]string{"editor": alice.ID, "content": "x"}},
	}
	for _, c := range cases {
		rec := a.do(t, c.method, c.path, c.body)
		if rec.Code != http.StatusNotFound {
			t.Fatalf("%s %s: status %d, want 404", c.method, c.path, rec.Code)
		}
		if !strings.Contains(rec.Body.String(), "error") {
			t.Fatalf("%s %s: body %s lacks error field", c.method, c.path, rec.Body.String())
		}
	}
}

func TestThreadEndpoint(t *testing.T) {
	a := newTestAPI(t, 16)
	alice := a.mkUser(t, "alice")
	bob := a.mkUser(t, "bob")
	root := a.mkMsg(t, alice.ID, bob.ID, "root", "")
	reply := a.mkMsg(t, bob.ID, alice.ID, "reply", root.ID)

	rec := a.do(t, http.MethodGet, "/v1/messages/"+reply.ID+"/thread", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("thread: status %d body %s", rec.Code, rec.Body.String())
	}
	var th struct {
		Root     string           `json:"root"`
		Messages []models.Message `json:"messages"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &th); err != nil {
		t.Fatalf("decode thread: %v", err)
	}
	if th.Root != root.ID || len(th.Messages) != 2 {
		t.Fatalf("unexpected thread: root=%s n=%d", th.Root, len(th.Messages))
	}
}

func TestThreadTooDeepReturns422(t *testing.T) {
	a := newTestAPI(t, 3)
	alice := a.mkUser(t, "alice")
	bob := a.mkUser(t, "bob")

	parent := ""
	var leaf models.Message
	for i := 0; i < 6; i++ {
		leaf = a.mkMsg(t, alice.ID, bob.ID, fmt.Sprintf("m%d", i), parent)
		parent = leaf.ID
	}
	rec := a.do(t, http.MethodGet, "/v1/messages/"+leaf.ID+"/thread", nil)
	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("deep thread: status %d, want 422", rec.Code)
	}
}

func TestValidationRejections(t *testing.T) {
	a := newTestAPI(t, 16)
	alice := a.mkUser(t, "alice")
	bob := a.mkUser(t, "bob")

	cases := []struct {
		name string
		body any
	}{
		{"missing sender", map[string]string{"receiver": bob.ID, "content": "x"}},
		{"missing receiver", map[string]string{"sender": alice.ID, "content": "x"}},
		{"blank content", map[string]string{"sender": alice.ID, "receiver": bob.ID, "content": "   "}},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			rec := a.do(t, http.MethodPost, "/v1/messages", c.body)
			if rec.Code != http.StatusBadRequest {
				t.Fatalf("status %d, want 400", rec.Code)
			}
		})
	}

	if rec := a.do(t, http.MethodPost, "/v1/users", map[string]string{"username": ""}); rec.Code != http.StatusBadRequest {
		t.Fatalf("blank username: status %d, want 400", rec.Code)
	}
}

func TestCreateIgnoresClientAssignedFields(t *testing.T) {
	a := newTestAPI(t, 16)
	alice := a.mkUser(t, "alice")
	bob := a.mkUser(t, "bob")

	rec := a.do(t, http.MethodPost, "/v1/messages", map[string]any{
		"sender": alice.ID, "receiver": bob.ID, "content": "hi",
		"id": "msg-forged", "ts": 1, "read": true, "edited": true,
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create: status %d body %s", rec.Code, rec.Body.String())
	}
	var m models.Message
	if err := json.Unmarshal(rec.Body.Bytes(), &m); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if m.ID == "msg-forged" || m.Read || m.Edited || m.TS == 1 {
		t.Fatalf("client-assigned fields leaked through: %+v", m)
	}
}

func TestUserDeleteOverHTTP(t *testing.T) {
	a := newTestAPI(t, 16)
	alice := a.mkUser(t, "alice")
	bob := a.mkUser(t, "bob")
	m := a.mkMsg(t, alice.ID, bob.ID, "hi", "")

	if rec := a.do(t, http.MethodDelete, "/v1/users/"+alice.ID, nil); rec.Code != http.StatusNoContent {
		t.Fatalf("delete user: status %d", rec.Code)
	}
	if rec := a.do(t, http.MethodGet, "/v1/messages/"+m.ID, nil); rec.Code != http.StatusNotFound {
		t.Fatalf("message should be gone with its sender: status %d", rec.Code)
	}
}
