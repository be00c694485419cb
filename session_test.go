package leasing

import (
	"testing"
)

func TestSessionStoreRoundTrip(t *testing.T) {
	storage := NewMemoryStorage()

	store := NewSessionStore(storage)
	if store.Current() != nil {
		t.Fatal("fresh store should be logged out")
	}

	store.Replace(&Session{ID: 3, Username: "alice", Token: "tok-123"})

	reloaded := NewSessionStore(storage)
	sess := reloaded.Current()
	if sess == nil || sess.Username != "alice" || sess.Token != "tok-123" {
		t.Errorf("reloaded session = %+v", sess)
	}
}

func TestSessionStoreToleratesMalformedRecord(t *testing.T) {
	storage := NewMemoryStorage()
	storage.Set(sessionStorageKey, []byte("{not json"))

	store := NewSessionStore(storage)
	if store.Current() != nil {
		t.Error("malformed record should load as logged out")
	}
	if store.Token() != "" {
		t.Errorf("token = %q", store.Token())
	}
}

func TestSessionStoreClearRemovesPersisted(t *testing.T) {
	storage := NewMemoryStorage()
	store := NewSessionStore(storage)
	store.Replace(&Session{ID: 3, Token: "tok"})
	store.Clear()

	if store.Current() != nil {
		t.Error("store not cleared")
	}
	data, _ := storage.Get(sessionStorageKey)
	if data != nil {
		t.Errorf("persisted record survived clear: %s", data)
	}
}

func TestSessionStoreWatchersSeeReplacements(t *testing.T) {
	store := NewSessionStore(NewMemoryStorage())
	var seen []*Session
	store.Watch(func(s *Session) { seen = append(seen, s) })

	store.Replace(&Session{ID: 1, Token: "a"})
	store.Replace(nil)

	if len(seen) != 2 {
		t.Fatalf("watcher fired %d times, want 2", len(seen))
	}
	if seen[0] == nil || seen[0].Token != "a" || seen[1] != nil {
		t.Errorf("watcher saw %+v", seen)
	}
}

func TestSessionAuthTokenFallsBackToConfirmToken(t *testing.T) {
	unconfirmed := &Session{ID: 1, ConfirmToken: "confirm-tok"}
	if got := unconfirmed.AuthToken(); got != "confirm-tok" {
		t.Errorf("AuthToken = %q", got)
	}
	confirmed := &Session{ID: 1, Token: "tok", ConfirmToken: "confirm-tok"}
	if got := confirmed.AuthToken(); got != "tok" {
		t.Errorf("AuthToken = %q", got)
	}
	var nilSession *Session
	if got := nilSession.AuthToken(); got != "" {
		t.Errorf("nil AuthToken = %q", got)
	}
}

func TestFileStorageRoundTrip(t *testing.T) {
	dir := t.TempDir()
	storage, err := NewFileStorage(dir)
	if err != nil {
		t.Fatalf("new: %v", err)
	}

	if data, err := storage.Get("missing"); err != nil || data != nil {
		t.Fatalf("missing key: %v %v", data, err)
	}
	if err := storage.Set("accessToken", []byte(`{"id":1}`)); err != nil {
		t.Fatalf("set: %v", err)
	}
	data, err := storage.Get("accessToken")
	if err != nil || string(data) != `{"id":1}` {
		t.Fatalf("get: %s %v", data, err)
	}
	if err := storage.Delete("accessToken"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if data, _ := storage.Get("accessToken"); data != nil {
		t.Errorf("value survived delete: %s", data)
	}
	// Deleting a missing key is not an error.
	if err := storage.Delete("accessToken"); err != nil {
		t.Errorf("second delete: %v", err)
	}
}
