package leasing

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/juju/clock"
	"github.com/juju/loggo/v2"
)

// Redirect is a navigation signal raised by the error policy. The front
// end decides what "going there" means.
type Redirect string

const (
	RedirectLogin Redirect = "login"
	RedirectHome  Redirect = "home"
)

// Poll cadences. Chat polls fast while a conversation is on screen; the
// unread counters can lag a little.
const (
	UnreadPollInterval = 30 * time.Second
	ChatPollInterval   = 5 * time.Second
)

// Console wires the client, cache, and stores into one application
// context. Everything is injected so tests isolate it completely; nothing
// here is a package global.
type Console struct {
	client   *Client
	cache    *Cache
	sessions *SessionStore
	messages *MessageStore
	clock    clock.Clock
	logger   loggo.Logger

	notify   func(message string)
	redirect func(Redirect)

	mu          sync.Mutex
	notifSub    *Subscription
	unreadSub   *Subscription
	chatSub     *Subscription
	openPeer    int
	unreadCount int
	pollCtx     context.Context
	pollCancel  context.CancelFunc
}

type ConsoleOption func(*Console)

// WithClock injects the clock driving polls and retries.
func WithClock(clk clock.Clock) ConsoleOption {
	return func(c *Console) { c.clock = clk }
}

// WithNotifier receives every transient user message.
func WithNotifier(fn func(message string)) ConsoleOption {
	return func(c *Console) { c.notify = fn }
}

// WithRedirector receives navigation signals from the error policy.
func WithRedirector(fn func(Redirect)) ConsoleOption {
	return func(c *Console) { c.redirect = fn }
}

func NewConsole(client *Client, cache *Cache, sessions *SessionStore, messages *MessageStore, opts ...ConsoleOption) *Console {
	c := &Console{
		client:   client,
		cache:    cache,
		sessions: sessions,
		messages: messages,
		clock:    clock.WallClock,
		logger:   loggo.GetLogger("leasing.console"),
		notify:   func(string) {},
		redirect: func(Redirect) {},
	}
	for _, opt := range opts {
		opt(c)
	}
	if sess := sessions.Current(); sess != nil {
		messages.Open(sess.ID)
	}
	return c
}

// Session returns the active session, or nil when logged out.
func (c *Console) Session() *Session {
	return c.sessions.Current()
}

// Client exposes the underlying API client for direct calls.
func (c *Console) Client() *Client { return c.client }

// Cache exposes the query cache.
func (c *Console) Cache() *Cache { return c.cache }

// Messages exposes the local thread store.
func (c *Console) Messages() *MessageStore { return c.messages }

func (c *Console) token() string {
	return c.sessions.Token()
}

// ============================================================================
// Auth flows
// ============================================================================

// Login authenticates, installs the session, and opens the user's local
// message threads. Feedback goes through the notifier either way.
func (c *Console) Login(ctx context.Context, username, password string) (*Session, error) {
	sess, err := c.client.Login(ctx, username, password)
	c.notify(UserMessage(err, "/login"))
	if err != nil {
		return nil, err
	}
	c.sessions.Replace(sess)
	c.messages.Open(sess.ID)
	return sess, nil
}

// Register creates an account. The returned session is unconfirmed; its
// confirm token drives Confirm.
func (c *Console) Register(ctx context.Context, username, email, password string) (*Session, error) {
	sess, err := c.client.Register(ctx, username, email, password)
	c.notify(UserMessage(err, "/register"))
	if err != nil {
		return nil, err
	}
	c.sessions.Replace(sess)
	c.messages.Open(sess.ID)
	return sess, nil
}

// Confirm activates the current unconfirmed account using its confirm
// token and replaces the session with the confirmed one.
func (c *Console) Confirm(ctx context.Context) (*Session, error) {
	cur := c.sessions.Current()
	if cur == nil || cur.ConfirmToken == "" {
		return nil, &ValidationError{Field: "session", Message: "no pending confirmation"}
	}
	sess, err := c.client.ConfirmUser(ctx, cur.ConfirmToken)
	if err != nil {
		c.notify(UserMessage(err, "/users/confirm"))
		return nil, err
	}
	c.sessions.Replace(sess)
	c.messages.Open(sess.ID)
	return sess, nil
}

// Logout tears the authenticated state down: polls stop, the session and
// cache empty, the thread store closes. Persisted threads stay for the
// user's next login.
func (c *Console) Logout() {
	c.StopPolls()
	c.sessions.Clear()
	c.cache.Reset()
	c.messages.Close()
	c.redirect(RedirectLogin)
}

// ============================================================================
// Error policy
// ============================================================================

// HandleError applies the shared query-error policy: 401 forces a full
// logout, 404 sends the user back home, everything else surfaces as a
// transient message. Mutation errors should not come here; they only
// notify.
func (c *Console) HandleError(err error, path string) {
	if err == nil {
		return
	}
	var herr *HTTPError
	if errors.As(err, &herr) {
		switch herr.Status {
		case 401:
			c.logger.Infof("credential rejected, clearing session")
			c.notify(UserMessage(err, path))
			c.StopPolls()
			c.sessions.Clear()
			c.cache.Reset()
			c.messages.Close()
			c.redirect(RedirectLogin)
			return
		case 404:
			c.notify(UserMessage(err, path))
			c.redirect(RedirectHome)
			return
		}
	}
	c.notify(UserMessage(err, path))
}

// ============================================================================
// Cached reads
// ============================================================================

// FetchQuery resolves a typed fetch through a console's cache under the
// current session token, applying the shared error policy on failure.
func FetchQuery[T any](ctx context.Context, c *Console, resource, path string, opts map[string]any, cfg QueryConfig, fn func(ctx context.Context, token string) (T, error)) (T, error) {
	key := QueryKey{Resource: resource, Options: opts, Token: c.token()}
	data, err := c.cache.Fetch(ctx, key, func(ctx context.Context) (any, error) {
		return fn(ctx, c.token())
	}, cfg)
	if err != nil {
		c.HandleError(err, path)
		var zero T
		return zero, err
	}
	v, ok := data.(T)
	if !ok {
		var zero T
		return zero, fmt.Errorf("cache entry for %s holds %T", resource, data)
	}
	return v, nil
}

// ============================================================================
// Polls
// ============================================================================

// StartPolls begins the background queries that keep the unread counters
// current: the unread-notification count and the per-peer unread message
// summary. Both run until StopPolls or a credential failure.
func (c *Console) StartPolls(ctx context.Context) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.pollCancel != nil {
		return
	}
	token := c.token()
	if token == "" {
		return
	}
	pollCtx, cancel := context.WithCancel(ctx)
	c.pollCtx = pollCtx
	c.pollCancel = cancel

	c.notifSub = c.cache.Subscribe(pollCtx,
		QueryKey{
			Resource: ResourceNotifications,
			Options:  map[string]any{"isRead": false, "total": true},
			Token:    token,
		},
		func(ctx context.Context) (any, error) {
			return c.client.Notifications.UnreadCount(ctx, token)
		},
		QueryConfig{
			NoRetry:         true,
			RefetchInterval: UnreadPollInterval,
			OnSuccess: func(data any) {
				if n, ok := data.(int); ok {
					c.mu.Lock()
					c.unreadCount = n
					c.mu.Unlock()
				}
			},
			OnError: func(err error) { c.HandleError(err, "/notifications") },
		})

	c.unreadSub = c.cache.Subscribe(pollCtx,
		QueryKey{
			Resource: ResourceMessages,
			Options:  map[string]any{"unread": true},
			Token:    token,
		},
		func(ctx context.Context) (any, error) {
			return c.client.Messages.Unread(ctx, token)
		},
		QueryConfig{
			NoRetry:         true,
			RefetchInterval: UnreadPollInterval,
			OnSuccess: func(data any) {
				if sum, ok := data.(*UnreadSummary); ok {
					c.messages.MergeUnreadSummary(sum)
				}
			},
			OnError: func(err error) { c.HandleError(err, "/messages") },
		})
}

// StopPolls cancels every background subscription.
func (c *Console) StopPolls() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.notifSub != nil {
		c.notifSub.Close()
		c.notifSub = nil
	}
	if c.unreadSub != nil {
		c.unreadSub.Close()
		c.unreadSub = nil
	}
	if c.chatSub != nil {
		c.chatSub.Close()
		c.chatSub = nil
	}
	c.openPeer = 0
	if c.pollCancel != nil {
		c.pollCancel()
		c.pollCancel = nil
		c.pollCtx = nil
	}
}

// UnreadNotifications returns the latest polled unread count.
func (c *Console) UnreadNotifications() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.unreadCount
}

// ============================================================================
// Chat
// ============================================================================

// OpenChat focuses one peer conversation. The thread is polled while open;
// each successful poll merges the messages into the local store, reports
// the thread read to the server, and refreshes the unread summary.
// Opening a second peer closes the first.
func (c *Console) OpenChat(peerID int) {
	c.mu.Lock()
	if c.chatSub != nil {
		c.chatSub.Close()
		c.chatSub = nil
	}
	c.openPeer = peerID
	token := c.token()
	pollCtx := c.pollCtx
	c.mu.Unlock()

	if pollCtx == nil || token == "" {
		return
	}

	sub := c.cache.Subscribe(pollCtx,
		QueryKey{
			Resource: ResourceMessages,
			Options:  map[string]any{"peer": peerID},
			Token:    token,
		},
		func(ctx context.Context) (any, error) {
			return c.client.Messages.Thread(ctx, peerID, token)
		},
		QueryConfig{
			RefetchInterval: ChatPollInterval,
			OnSuccess: func(data any) {
				thread, ok := data.(*ThreadMessages)
				if !ok {
					return
				}
				c.absorbThread(peerID, thread)
			},
			OnError: func(err error) { c.HandleError(err, "/messages") },
		})

	c.mu.Lock()
	if c.openPeer == peerID {
		c.chatSub = sub
	} else {
		c.mu.Unlock()
		sub.Close()
		return
	}
	c.mu.Unlock()
}

func (c *Console) absorbThread(peerID int, thread *ThreadMessages) {
	c.messages.Append(peerID, "", "", thread.Messages...)
	if err := c.client.Messages.MarkRead(context.Background(), peerID, c.token()); err != nil {
		c.logger.Debugf("mark read for peer %d: %v", peerID, err)
	}
	c.messages.MarkRead(peerID)
	c.cache.Invalidate(ResourceMessages, map[string]any{"unread": true})
}

// CloseChat drops the focused conversation; its poll stops.
func (c *Console) CloseChat() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.chatSub != nil {
		c.chatSub.Close()
		c.chatSub = nil
	}
	c.openPeer = 0
}

// SendMessage posts to a peer and appends the stored message locally so
// the thread reflects it before the next poll.
func (c *Console) SendMessage(ctx context.Context, peerID int, content string) (*Message, error) {
	if content == "" {
		return nil, &ValidationError{Field: "content", Message: "message is empty"}
	}
	msg, err := c.client.Messages.Send(ctx, peerID, content, c.token())
	if err != nil {
		c.notify(UserMessage(err, "/messages"))
		return nil, err
	}
	c.messages.Append(peerID, "", "", *msg)
	return msg, nil
}

// ============================================================================
// Application review
// ============================================================================

// Review decides an application. Terminal applications are rejected
// locally; a decision that goes through overwrites the cached detail with
// the server's entity and invalidates the kind's list queries.
// Notifications for the applicant are created server-side.
func (c *Console) Review(ctx context.Context, kind ApplicationKind, id int, decision ReviewStatus) error {
	if decision != ReviewAgree && decision != ReviewRefuse {
		return &ValidationError{Field: "status", Message: "decision must be agree or refuse"}
	}
	if _, ok := applicationRoutes[kind]; !ok {
		return &ValidationError{Field: "kind", Message: "unknown application kind"}
	}

	detailKey := QueryKey{
		Resource: kind.Resource(),
		Options:  map[string]any{"id": id},
		Token:    c.token(),
	}
	if cur, ok := c.cache.GetData(detailKey); ok {
		if status, found := applicationStatus(cur); found && status.Terminal() {
			return &ValidationError{Field: "status", Message: "application already reviewed"}
		}
	}

	mutation := NewMutation(c.cache,
		func(ctx context.Context, decision ReviewStatus) (any, error) {
			return c.updateApplication(ctx, kind, id, map[string]any{"status": string(decision)})
		},
		MutationConfig[any]{
			Invalidate: []KeyPrefix{{Resource: kind.Resource()}},
			Updates: func(result any) []CacheWrite {
				return []CacheWrite{{Key: detailKey, Data: result}}
			},
		})

	_, err := mutation.Trigger(ctx, decision)
	c.notify(UserMessage(err, applicationRoutes[kind].path+"/"+strconv.Itoa(id)))
	return err
}

func (c *Console) updateApplication(ctx context.Context, kind ApplicationKind, id int, fields map[string]any) (any, error) {
	token := c.token()
	switch kind {
	case KindLender:
		return c.client.Lender.Update(ctx, id, fields, token)
	case KindPutOn:
		return c.client.PutOn.Update(ctx, id, fields, token)
	case KindBorrow:
		return c.client.Borrow.Update(ctx, id, fields, token)
	}
	return nil, &ValidationError{Field: "kind", Message: "unknown application kind"}
}

// applicationStatus extracts the review status from any application kind.
func applicationStatus(v any) (ReviewStatus, bool) {
	switch a := v.(type) {
	case *LenderApplication:
		return a.Status, true
	case *PutOnApplication:
		return a.Status, true
	case *BorrowApplication:
		return a.Status, true
	}
	return "", false
}
