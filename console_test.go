package leasing

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/juju/clock/testclock"
)

func asValidation(err error, target **ValidationError) bool {
	return errors.As(err, target)
}

type consoleFixture struct {
	console  *Console
	cache    *Cache
	sessions *SessionStore
	messages *MessageStore
	storage  *MemoryStorage
	clock    *testclock.Clock

	mu        sync.Mutex
	notices   []string
	redirects []Redirect
}

func (f *consoleFixture) notifications() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.notices))
	copy(out, f.notices)
	return out
}

func (f *consoleFixture) redirectedTo() []Redirect {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]Redirect, len(f.redirects))
	copy(out, f.redirects)
	return out
}

func newConsoleFixture(t *testing.T, handler http.HandlerFunc) *consoleFixture {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	f := &consoleFixture{
		storage: NewMemoryStorage(),
		clock:   testclock.NewClock(time.Now()),
	}
	f.cache = NewCache(f.clock)
	f.sessions = NewSessionStore(f.storage)
	f.messages = NewMessageStore(f.storage)

	client := NewClient(WithBaseURL(srv.URL))
	f.console = NewConsole(client, f.cache, f.sessions, f.messages,
		WithClock(f.clock),
		WithNotifier(func(msg string) {
			f.mu.Lock()
			f.notices = append(f.notices, msg)
			f.mu.Unlock()
		}),
		WithRedirector(func(r Redirect) {
			f.mu.Lock()
			f.redirects = append(f.redirects, r)
			f.mu.Unlock()
		}),
	)
	return f
}

func loginHandler(t *testing.T) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/login":
			var body map[string]string
			json.NewDecoder(r.Body).Decode(&body)
			if body["password"] != "secret" {
				w.WriteHeader(401)
				json.NewEncoder(w).Encode(map[string]string{"message": "bad credentials"})
				return
			}
			json.NewEncoder(w).Encode(map[string]any{
				"id": 3, "username": "alice", "role": "admin",
				"confirmed": true, "token": "tok-123",
			})
		default:
			t.Errorf("unexpected request: %s %s", r.Method, r.URL.Path)
		}
	}
}

func TestConsoleLoginInstallsSession(t *testing.T) {
	f := newConsoleFixture(t, loginHandler(t))

	sess, err := f.console.Login(context.Background(), "alice", "secret")
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	if f.sessions.Current() == nil || f.sessions.Token() != "tok-123" {
		t.Error("session not installed")
	}
	if sess.Role != RoleAdmin {
		t.Errorf("role = %s", sess.Role)
	}
	if got := f.notifications(); len(got) != 1 || got[0] != MsgLoginSuccess {
		t.Errorf("notices = %v", got)
	}

	// The session survives a process restart.
	if NewSessionStore(f.storage).Token() != "tok-123" {
		t.Error("session not persisted")
	}
}

func TestConsoleLoginFailureNotifies(t *testing.T) {
	f := newConsoleFixture(t, loginHandler(t))

	_, err := f.console.Login(context.Background(), "alice", "wrong")
	if err == nil {
		t.Fatal("expected error")
	}
	if f.sessions.Current() != nil {
		t.Error("failed login installed a session")
	}
	if got := f.notifications(); len(got) != 1 || got[0] != MsgLoginFail {
		t.Errorf("notices = %v", got)
	}
}

func TestConsoleUnauthorizedForcesLogout(t *testing.T) {
	f := newConsoleFixture(t, func(w http.ResponseWriter, r *http.Request) {})
	f.sessions.Replace(&Session{ID: 3, Username: "alice", Token: "stale"})
	f.messages.Open(3)

	key := QueryKey{Resource: "users", Token: "stale"}
	f.cache.SetQueryData(key, "cached")

	f.console.HandleError(&HTTPError{Status: 401, Message: "expired"}, "/users")

	if f.sessions.Current() != nil {
		t.Error("session survived 401")
	}
	if _, ok := f.cache.GetData(key); ok {
		t.Error("cache survived 401")
	}
	if got := f.redirectedTo(); len(got) != 1 || got[0] != RedirectLogin {
		t.Errorf("redirects = %v", got)
	}
	if got := f.notifications(); len(got) != 1 || got[0] != MsgUnauthorized {
		t.Errorf("notices = %v", got)
	}
}

func TestConsoleNotFoundRedirectsHome(t *testing.T) {
	f := newConsoleFixture(t, func(w http.ResponseWriter, r *http.Request) {})
	f.sessions.Replace(&Session{ID: 3, Token: "tok"})

	f.console.HandleError(&HTTPError{Status: 404, Message: "gone"}, "/equipments/99")

	if f.sessions.Current() == nil {
		t.Error("404 must not clear the session")
	}
	if got := f.redirectedTo(); len(got) != 1 || got[0] != RedirectHome {
		t.Errorf("redirects = %v", got)
	}
}

func TestConsoleReviewRejectsTerminalApplication(t *testing.T) {
	var requests int
	f := newConsoleFixture(t, func(w http.ResponseWriter, r *http.Request) {
		requests++
	})
	f.sessions.Replace(&Session{ID: 3, Token: "tok"})

	detailKey := QueryKey{
		Resource: KindBorrow.Resource(),
		Options:  map[string]any{"id": 7},
		Token:    "tok",
	}
	f.cache.SetQueryData(detailKey, &BorrowApplication{ID: 7, Status: ReviewAgree})

	err := f.console.Review(context.Background(), KindBorrow, 7, ReviewRefuse)
	var verr *ValidationError
	if !asValidation(err, &verr) {
		t.Fatalf("err = %v, want *ValidationError", err)
	}
	if requests != 0 {
		t.Errorf("terminal review hit the server %d times", requests)
	}
}

func TestConsoleReviewInvalidDecision(t *testing.T) {
	f := newConsoleFixture(t, func(w http.ResponseWriter, r *http.Request) {
		t.Error("no request expected")
	})
	f.sessions.Replace(&Session{ID: 3, Token: "tok"})

	err := f.console.Review(context.Background(), KindBorrow, 7, ReviewUnreviewed)
	var verr *ValidationError
	if !asValidation(err, &verr) {
		t.Fatalf("err = %v, want *ValidationError", err)
	}
}

func TestConsoleReviewUpdatesCacheOnSuccess(t *testing.T) {
	f := newConsoleFixture(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != "PUT" || r.URL.Path != "/api/applications/borrow/7" {
			t.Errorf("unexpected request: %s %s", r.Method, r.URL.Path)
		}
		var body map[string]any
		json.NewDecoder(r.Body).Decode(&body)
		if body["status"] != "agree" {
			t.Errorf("body = %v", body)
		}
		json.NewEncoder(w).Encode(map[string]any{
			"id": 7, "status": "agree",
			"candidate": map[string]any{"id": 5, "username": "bob"},
		})
	})
	f.sessions.Replace(&Session{ID: 3, Token: "tok"})

	listKey := QueryKey{Resource: KindBorrow.Resource(), Options: map[string]any{"page": 1}, Token: "tok"}
	f.cache.SetQueryData(listKey, "stale list")

	if err := f.console.Review(context.Background(), KindBorrow, 7, ReviewAgree); err != nil {
		t.Fatalf("review: %v", err)
	}

	detailKey := QueryKey{
		Resource: KindBorrow.Resource(),
		Options:  map[string]any{"id": 7},
		Token:    "tok",
	}
	data, ok := f.cache.GetData(detailKey)
	if !ok {
		t.Fatal("detail entry not written")
	}
	app, ok := data.(*BorrowApplication)
	if !ok || app.Status != ReviewAgree {
		t.Errorf("cached detail = %#v", data)
	}

	// The list must refetch next time it is asked for.
	var listFetches int
	f.cache.Fetch(context.Background(), listKey, func(ctx context.Context) (any, error) {
		listFetches++
		return "fresh list", nil
	}, QueryConfig{})
	if listFetches != 1 {
		t.Errorf("list fetched %d times after review, want 1", listFetches)
	}

	// The detail entry was written by the review itself and must not refetch.
	var detailFetches int
	f.cache.Fetch(context.Background(), detailKey, func(ctx context.Context) (any, error) {
		detailFetches++
		return nil, nil
	}, QueryConfig{})
	if detailFetches != 0 {
		t.Errorf("detail fetched %d times after review, want 0", detailFetches)
	}
}

func TestConsoleSendMessageAppendsLocally(t *testing.T) {
	f := newConsoleFixture(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != "POST" || r.URL.Path != "/api/messages/9" {
			t.Errorf("unexpected request: %s %s", r.Method, r.URL.Path)
		}
		json.NewEncoder(w).Encode(map[string]any{
			"id": 41, "sender_id": 3, "content": "hello",
			"message_time": "2026-08-29 12:00:00",
		})
	})
	f.sessions.Replace(&Session{ID: 3, Token: "tok"})
	f.messages.Open(3)

	msg, err := f.console.SendMessage(context.Background(), 9, "hello")
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if msg.ID != 41 {
		t.Errorf("message = %+v", msg)
	}
	thread := f.messages.Thread(9)
	if thread == nil || len(thread.Messages) != 1 || thread.Messages[0].Content != "hello" {
		t.Errorf("thread = %+v", thread)
	}
}

func TestConsoleSendMessageRejectsEmpty(t *testing.T) {
	f := newConsoleFixture(t, func(w http.ResponseWriter, r *http.Request) {
		t.Error("no request expected")
	})
	f.sessions.Replace(&Session{ID: 3, Token: "tok"})

	_, err := f.console.SendMessage(context.Background(), 9, "")
	var verr *ValidationError
	if !asValidation(err, &verr) {
		t.Fatalf("err = %v, want *ValidationError", err)
	}
}

func TestConsolePollsFillUnreadState(t *testing.T) {
	f := newConsoleFixture(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/notifications":
			json.NewEncoder(w).Encode(map[string]any{"notifications": []any{}, "total": 4})
		case "/api/messages":
			json.NewEncoder(w).Encode(map[string]any{
				"unread_users": []map[string]any{
					{"id": 9, "username": "bob", "total": 2},
				},
			})
		default:
			t.Errorf("unexpected request: %s %s", r.Method, r.URL.Path)
		}
	})
	f.sessions.Replace(&Session{ID: 3, Token: "tok"})
	f.messages.Open(3)

	f.console.StartPolls(context.Background())
	defer f.console.StopPolls()

	waitFor(t, "unread notification count", func() bool {
		return f.console.UnreadNotifications() == 4
	})
	waitFor(t, "unread message summary merge", func() bool {
		return f.messages.UnreadTotal() == 2
	})
}

func TestConsoleLogoutClearsEverything(t *testing.T) {
	f := newConsoleFixture(t, loginHandler(t))
	if _, err := f.console.Login(context.Background(), "alice", "secret"); err != nil {
		t.Fatalf("login: %v", err)
	}
	f.messages.Append(9, "bob", "", Message{ID: 1, Content: "hi"})
	f.cache.SetQueryData(QueryKey{Resource: "users", Token: "tok-123"}, "cached")

	f.console.Logout()

	if f.sessions.Current() != nil {
		t.Error("session survived logout")
	}
	if _, ok := f.cache.GetData(QueryKey{Resource: "users", Token: "tok-123"}); ok {
		t.Error("cache survived logout")
	}
	if f.messages.Thread(9) != nil {
		t.Error("open threads survived logout")
	}
	if got := f.redirectedTo(); len(got) != 1 || got[0] != RedirectLogin {
		t.Errorf("redirects = %v", got)
	}

	// The persisted history is still there for the next login.
	reloaded := NewMessageStore(f.storage)
	reloaded.Open(3)
	if reloaded.Thread(9) == nil {
		t.Error("persisted history lost on logout")
	}
}
