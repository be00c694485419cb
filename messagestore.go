package leasing

import (
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"github.com/juju/loggo/v2"
)

// Thread is one peer conversation as kept locally: the peer's identity,
// the merged message history, and the unread state reported by the server.
type Thread struct {
	PeerID   int       `json:"peer_id"`
	Username string    `json:"username"`
	Avatar   string    `json:"avatar"`
	Messages []Message `json:"messages"`
	IsRead   bool      `json:"isRead"`
	Total    int       `json:"total"`
}

// LastMessageTime returns the time of the newest message, or "" for an
// empty thread.
func (t *Thread) LastMessageTime() string {
	if len(t.Messages) == 0 {
		return ""
	}
	return t.Messages[len(t.Messages)-1].MessageTime
}

// MessageStore accumulates chat threads locally so history survives
// restarts and reads do not have to refetch every thread. State is keyed
// by the owning user's id, so two accounts on one machine never see each
// other's threads.
//
// Like the session store it treats persistence as a mirror: storage
// failures are logged, never surfaced.
type MessageStore struct {
	mu      sync.RWMutex
	storage Storage
	logger  loggo.Logger
	ownerID int
	open    bool
	threads map[int]*Thread
}

func NewMessageStore(storage Storage) *MessageStore {
	return &MessageStore{
		storage: storage,
		logger:  loggo.GetLogger("leasing.messages"),
		threads: make(map[int]*Thread),
	}
}

func messageStorageKey(ownerID int) string {
	return fmt.Sprintf("messages.%d", ownerID)
}

// Open loads the threads persisted for the given user, replacing whatever
// the store held before. A missing or unreadable record starts empty.
func (s *MessageStore) Open(ownerID int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ownerID = ownerID
	s.open = true
	s.threads = make(map[int]*Thread)

	data, err := s.storage.Get(messageStorageKey(ownerID))
	if err != nil {
		s.logger.Warningf("failed to load threads for user %d: %v", ownerID, err)
		return
	}
	if len(data) == 0 {
		return
	}
	if err := json.Unmarshal(data, &s.threads); err != nil {
		s.logger.Warningf("discarding unreadable thread record for user %d: %v", ownerID, err)
		s.threads = make(map[int]*Thread)
	}
}

// Close drops the in-memory threads. The persisted record stays, so the
// same user's next Open resumes it.
func (s *MessageStore) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.open = false
	s.ownerID = 0
	s.threads = make(map[int]*Thread)
}

// persistLocked writes the current threads. Callers hold mu.
func (s *MessageStore) persistLocked() {
	if !s.open {
		return
	}
	data, err := json.Marshal(s.threads)
	if err == nil {
		err = s.storage.Set(messageStorageKey(s.ownerID), data)
	}
	if err != nil {
		s.logger.Warningf("failed to persist threads for user %d: %v", s.ownerID, err)
	}
}

func (s *MessageStore) threadLocked(peerID int) *Thread {
	t, ok := s.threads[peerID]
	if !ok {
		t = &Thread{PeerID: peerID, IsRead: true}
		s.threads[peerID] = t
	}
	return t
}

// MergeUnreadSummary overlays the server's unread report. Unread counts are
// zeroed first so peers absent from the summary report nothing pending, but
// their read flag is left alone. Peers named in the summary become unread
// with the reported count, and their identity fields are refreshed. Peers
// the store has never seen get a thread so they show up in listings.
func (s *MessageStore) MergeUnreadSummary(sum *UnreadSummary) {
	if sum == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, t := range s.threads {
		t.Total = 0
	}
	for _, peer := range sum.UnreadUsers {
		t := s.threadLocked(peer.ID)
		t.Username = peer.Username
		t.Avatar = peer.Avatar
		t.IsRead = false
		t.Total = peer.Total
	}
	s.persistLocked()
}

// Append merges messages into a peer thread, dropping ids the thread
// already holds and keeping the result in time order. The username and
// avatar refresh the peer identity when non-empty.
func (s *MessageStore) Append(peerID int, username, avatar string, msgs ...Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t := s.threadLocked(peerID)
	if username != "" {
		t.Username = username
	}
	if avatar != "" {
		t.Avatar = avatar
	}

	seen := make(map[int]bool, len(t.Messages))
	for _, m := range t.Messages {
		seen[m.ID] = true
	}
	added := false
	for _, m := range msgs {
		if seen[m.ID] {
			continue
		}
		seen[m.ID] = true
		t.Messages = append(t.Messages, m)
		added = true
	}
	if added {
		sort.SliceStable(t.Messages, func(i, j int) bool {
			a, b := t.Messages[i], t.Messages[j]
			if a.MessageTime != b.MessageTime {
				return a.MessageTime < b.MessageTime
			}
			return a.ID < b.ID
		})
	}
	s.persistLocked()
}

// MarkRead clears a thread's unread state.
func (s *MessageStore) MarkRead(peerID int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t, ok := s.threads[peerID]; ok {
		t.IsRead = true
		t.Total = 0
		s.persistLocked()
	}
}

// Remove deletes a peer thread entirely.
func (s *MessageStore) Remove(peerID int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.threads[peerID]; ok {
		delete(s.threads, peerID)
		s.persistLocked()
	}
}

// UnreadTotal sums the unread counts across all threads.
func (s *MessageStore) UnreadTotal() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	total := 0
	for _, t := range s.threads {
		total += t.Total
	}
	return total
}

// Thread returns a copy of one peer thread, or nil if absent.
func (s *MessageStore) Thread(peerID int) *Thread {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.threads[peerID]
	if !ok {
		return nil
	}
	return copyThread(t)
}

// Threads returns copies of every thread, newest conversation first.
// Threads with no messages sort last.
func (s *MessageStore) Threads() []*Thread {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*Thread, 0, len(s.threads))
	for _, t := range s.threads {
		out = append(out, copyThread(t))
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i].LastMessageTime(), out[j].LastMessageTime()
		if a != b {
			return a > b
		}
		return out[i].PeerID < out[j].PeerID
	})
	return out
}

func copyThread(t *Thread) *Thread {
	c := *t
	c.Messages = make([]Message, len(t.Messages))
	copy(c.Messages, t.Messages)
	return &c
}
