package leasing

import (
	"testing"
)

func TestMessageStoreMergeUnreadSummary(t *testing.T) {
	store := NewMessageStore(NewMemoryStorage())
	store.Open(3)

	store.MergeUnreadSummary(&UnreadSummary{UnreadUsers: []UnreadPeer{
		{ID: 9, Username: "bob", Total: 2},
		{ID: 11, Username: "carol", Total: 1},
	}})

	if got := store.UnreadTotal(); got != 3 {
		t.Fatalf("unread total = %d, want 3", got)
	}

	// Bob dropped out of the report, carol has a new message.
	store.MergeUnreadSummary(&UnreadSummary{UnreadUsers: []UnreadPeer{
		{ID: 11, Username: "carol", Total: 2},
	}})

	if got := store.UnreadTotal(); got != 2 {
		t.Errorf("unread total = %d, want 2", got)
	}
	// Absence only zeroes the count. The read flag is local state and
	// flips through MarkRead when the user actually opens the thread.
	bob := store.Thread(9)
	if bob == nil || bob.Total != 0 {
		t.Fatalf("bob thread = %+v, want zero total", bob)
	}
	if bob.IsRead {
		t.Errorf("bob thread marked read by summary absence")
	}

	store.MarkRead(9)
	if got := store.Thread(9); !got.IsRead {
		t.Errorf("bob thread = %+v, want read after MarkRead", got)
	}
}

func TestMessageStoreMergePreservesHistory(t *testing.T) {
	store := NewMessageStore(NewMemoryStorage())
	store.Open(3)
	store.Append(9, "bob", "", Message{ID: 1, SenderID: 9, Content: "hi", MessageTime: "2026-08-01 10:00:00"})

	store.MergeUnreadSummary(&UnreadSummary{UnreadUsers: []UnreadPeer{
		{ID: 9, Username: "bob", Total: 1},
	}})

	thread := store.Thread(9)
	if thread == nil || len(thread.Messages) != 1 {
		t.Fatalf("history lost on merge: %+v", thread)
	}
	if thread.IsRead || thread.Total != 1 {
		t.Errorf("unread state not applied: %+v", thread)
	}
}

func TestMessageStoreAppendDedupsAndOrders(t *testing.T) {
	store := NewMessageStore(NewMemoryStorage())
	store.Open(3)

	store.Append(9, "bob", "",
		Message{ID: 2, SenderID: 9, Content: "second", MessageTime: "2026-08-01 10:01:00"},
		Message{ID: 1, SenderID: 3, Content: "first", MessageTime: "2026-08-01 10:00:00"},
	)
	// A later poll returns the full thread again plus one new message.
	store.Append(9, "", "",
		Message{ID: 1, SenderID: 3, Content: "first", MessageTime: "2026-08-01 10:00:00"},
		Message{ID: 2, SenderID: 9, Content: "second", MessageTime: "2026-08-01 10:01:00"},
		Message{ID: 3, SenderID: 9, Content: "third", MessageTime: "2026-08-01 10:02:00"},
	)

	thread := store.Thread(9)
	if len(thread.Messages) != 3 {
		t.Fatalf("got %d messages, want 3", len(thread.Messages))
	}
	for i, want := range []string{"first", "second", "third"} {
		if thread.Messages[i].Content != want {
			t.Errorf("message %d = %q, want %q", i, thread.Messages[i].Content, want)
		}
	}
	if thread.Username != "bob" {
		t.Errorf("username = %q", thread.Username)
	}
}

func TestMessageStoreMarkReadAndRemove(t *testing.T) {
	store := NewMessageStore(NewMemoryStorage())
	store.Open(3)
	store.MergeUnreadSummary(&UnreadSummary{UnreadUsers: []UnreadPeer{
		{ID: 9, Username: "bob", Total: 4},
	}})

	store.MarkRead(9)
	if got := store.UnreadTotal(); got != 0 {
		t.Errorf("unread total after mark read = %d", got)
	}

	store.Remove(9)
	if store.Thread(9) != nil {
		t.Error("thread survived remove")
	}
}

func TestMessageStorePersistsPerOwner(t *testing.T) {
	storage := NewMemoryStorage()

	store := NewMessageStore(storage)
	store.Open(3)
	store.Append(9, "bob", "", Message{ID: 1, SenderID: 9, Content: "hi"})
	store.Close()

	// Another account on the same machine sees nothing.
	store.Open(4)
	if store.Thread(9) != nil {
		t.Error("threads leaked across accounts")
	}
	store.Close()

	// The original account resumes its history.
	reloaded := NewMessageStore(storage)
	reloaded.Open(3)
	thread := reloaded.Thread(9)
	if thread == nil || len(thread.Messages) != 1 || thread.Messages[0].Content != "hi" {
		t.Errorf("history not restored: %+v", thread)
	}
}

func TestMessageStoreToleratesMalformedRecord(t *testing.T) {
	storage := NewMemoryStorage()
	storage.Set(messageStorageKey(3), []byte("][nonsense"))

	store := NewMessageStore(storage)
	store.Open(3)
	if got := len(store.Threads()); got != 0 {
		t.Errorf("got %d threads from malformed record", got)
	}
}

func TestMessageStoreThreadsOrderNewestFirst(t *testing.T) {
	store := NewMessageStore(NewMemoryStorage())
	store.Open(3)
	store.Append(9, "bob", "", Message{ID: 1, Content: "old", MessageTime: "2026-08-01 09:00:00"})
	store.Append(11, "carol", "", Message{ID: 2, Content: "new", MessageTime: "2026-08-01 10:00:00"})
	store.MergeUnreadSummary(&UnreadSummary{UnreadUsers: []UnreadPeer{
		{ID: 15, Username: "dave", Total: 1},
	}})

	threads := store.Threads()
	if len(threads) != 3 {
		t.Fatalf("got %d threads", len(threads))
	}
	if threads[0].PeerID != 11 || threads[1].PeerID != 9 {
		t.Errorf("order = %d, %d, %d", threads[0].PeerID, threads[1].PeerID, threads[2].PeerID)
	}
	if threads[2].PeerID != 15 {
		t.Errorf("empty thread should sort last, got %d", threads[2].PeerID)
	}
}
