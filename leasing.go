// Package leasing is a Go client for the equipment leasing API.
//
// It covers the full resource surface (users, equipments, the three
// application kinds, notifications, messages, logs, dashboard stats) with
// sub-client access, and layers a query cache, mutation pipeline, and
// locally persisted session/message stores on top.
//
// Example:
//
//	client := leasing.NewClient(leasing.WithBaseURL("https://leasing.example.com"))
//
//	sess, _ := client.Login(ctx, "alice", "secret")
//
//	equipments, _ := client.Equipments.List(ctx, leasing.ListOptions{PageSize: 10}, sess.Token)
//	client.Borrow.Update(ctx, 7, map[string]any{"status": "agree"}, sess.Token)
package leasing

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/juju/loggo/v2"
)

const (
	DefaultBaseURL = "https://equipment-leasing-server.herokuapp.com"
	DefaultTimeout = 30 * time.Second

	apiPrefix = "/api"
)

// fallbackErrorMessage is used when a failure body is not valid JSON.
const fallbackErrorMessage = "request failed"

// ============================================================================
// Client
// ============================================================================

// Client talks to the leasing REST API. It holds no credential of its own:
// every call takes the caller-supplied token, so one Client serves any
// number of sessions (including the confirm-token flow).
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     loggo.Logger

	Users         *UsersClient
	Equipments    *EquipmentsClient
	Lender        *ApplicationsClient[LenderApplication]
	PutOn         *ApplicationsClient[PutOnApplication]
	Borrow        *ApplicationsClient[BorrowApplication]
	Notifications *NotificationsClient
	Messages      *MessagesClient
	Logs          *LogsClient
}

type ClientOption func(*Client)

func WithBaseURL(u string) ClientOption {
	return func(c *Client) { c.baseURL = trimRightSlash(u) }
}

func WithTimeout(timeout time.Duration) ClientOption {
	return func(c *Client) { c.httpClient.Timeout = timeout }
}

func WithHTTPClient(client *http.Client) ClientOption {
	return func(c *Client) { c.httpClient = client }
}

func WithLogger(logger loggo.Logger) ClientOption {
	return func(c *Client) { c.logger = logger }
}

// NewClient creates a new leasing API client.
func NewClient(opts ...ClientOption) *Client {
	c := &Client{
		baseURL: DefaultBaseURL,
		httpClient: &http.Client{
			Timeout: DefaultTimeout,
		},
		logger: loggo.GetLogger("leasing.client"),
	}

	for _, opt := range opts {
		opt(c)
	}

	c.Users = &UsersClient{c: c}
	c.Equipments = &EquipmentsClient{c: c}
	c.Lender = &ApplicationsClient[LenderApplication]{c: c, kind: KindLender}
	c.PutOn = &ApplicationsClient[PutOnApplication]{c: c, kind: KindPutOn}
	c.Borrow = &ApplicationsClient[BorrowApplication]{c: c, kind: KindBorrow}
	c.Notifications = &NotificationsClient{c: c}
	c.Messages = &MessagesClient{c: c}
	c.Logs = &LogsClient{c: c}
	return c
}

func trimRightSlash(u string) string {
	for len(u) > 0 && u[len(u)-1] == '/' {
		u = u[:len(u)-1]
	}
	return u
}

// ============================================================================
// Internal request helper
// ============================================================================

// do issues one request. The token, when non-empty, is sent raw in the
// Authorization header (the server expects no "Bearer " prefix). Non-2xx
// responses become *HTTPError; transport failures become *NetworkError.
// This layer never retries.
func (c *Client) do(ctx context.Context, method, path, token string, body any, query url.Values) ([]byte, error) {
	u := c.baseURL + apiPrefix + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	var bodyReader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request: %w", err)
		}
		bodyReader = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, u, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &NetworkError{Err: err}
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &NetworkError{Err: err}
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		herr := &HTTPError{Status: resp.StatusCode, Message: fallbackErrorMessage}
		var errBody struct {
			Message string `json:"message"`
		}
		if json.Unmarshal(data, &errBody) == nil && errBody.Message != "" {
			herr.Message = errBody.Message
		}
		c.logger.Debugf("%s %s -> %d (%s)", method, path, resp.StatusCode, herr.Message)
		return nil, herr
	}

	return data, nil
}

func decodeJSON[T any](data []byte) (*T, error) {
	var result T
	if err := json.Unmarshal(data, &result); err != nil {
		return nil, fmt.Errorf("failed to unmarshal response: %w", err)
	}
	return &result, nil
}

// decodePage decodes a list envelope of the form {<field>: [...], total: n}.
func decodePage[T any](data []byte, field string) (*Page[T], error) {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("failed to unmarshal list response: %w", err)
	}
	page := &Page[T]{}
	if items, ok := raw[field]; ok {
		if err := json.Unmarshal(items, &page.Items); err != nil {
			return nil, fmt.Errorf("failed to unmarshal %s items: %w", field, err)
		}
	}
	if total, ok := raw["total"]; ok {
		if err := json.Unmarshal(total, &page.Total); err != nil {
			return nil, fmt.Errorf("failed to unmarshal total: %w", err)
		}
	}
	return page, nil
}

// query renders the options as list-endpoint query parameters.
func (o ListOptions) query() url.Values {
	q := url.Values{}
	if o.Page > 0 {
		q.Set("page", strconv.Itoa(o.Page))
	}
	if o.PageSize > 0 {
		q.Set("page_size", strconv.Itoa(o.PageSize))
	}
	if o.Order != "" {
		q.Set("order", o.Order)
	}
	if o.OrderBy != "" {
		q.Set("order_by", o.OrderBy)
	}
	for k, v := range o.Filters {
		q.Set(k, v)
	}
	return q
}

// CacheOptions renders the options as a query-key option map, so that a
// list query's cache key captures everything that shapes its result.
func (o ListOptions) CacheOptions() map[string]any {
	m := map[string]any{}
	if o.Page > 0 {
		m["page"] = o.Page
	}
	if o.PageSize > 0 {
		m["page_size"] = o.PageSize
	}
	if o.Order != "" {
		m["order"] = o.Order
	}
	if o.OrderBy != "" {
		m["order_by"] = o.OrderBy
	}
	for k, v := range o.Filters {
		m[k] = v
	}
	return m
}

// ============================================================================
// Auth endpoints
// ============================================================================

// Login exchanges credentials for a confirmed session.
func (c *Client) Login(ctx context.Context, username, password string) (*Session, error) {
	data, err := c.do(ctx, "POST", "/login", "", map[string]string{
		"username": username,
		"password": password,
	}, nil)
	if err != nil {
		return nil, err
	}
	return decodeJSON[Session](data)
}

// Register creates an account and returns the unconfirmed session, whose
// ConfirmToken drives the confirmation flow.
func (c *Client) Register(ctx context.Context, username, email, password string) (*Session, error) {
	data, err := c.do(ctx, "POST", "/register", "", map[string]string{
		"username": username,
		"email":    email,
		"password": password,
	}, nil)
	if err != nil {
		return nil, err
	}
	return decodeJSON[Session](data)
}

// ConfirmUser activates an account. The header carries the confirm token,
// not a session token.
func (c *Client) ConfirmUser(ctx context.Context, confirmToken string) (*Session, error) {
	data, err := c.do(ctx, "POST", "/users/confirm", confirmToken, nil, nil)
	if err != nil {
		return nil, err
	}
	return decodeJSON[Session](data)
}

// Stat returns the dashboard aggregate counters (admin only).
func (c *Client) Stat(ctx context.Context, token string) (*Stat, error) {
	data, err := c.do(ctx, "GET", "/stat", token, nil, nil)
	if err != nil {
		return nil, err
	}
	return decodeJSON[Stat](data)
}

// ============================================================================
// Users
// ============================================================================

type UsersClient struct{ c *Client }

func (u *UsersClient) List(ctx context.Context, opts ListOptions, token string) (*Page[User], error) {
	data, err := u.c.do(ctx, "GET", "/users", token, nil, opts.query())
	if err != nil {
		return nil, err
	}
	return decodePage[User](data, ResourceUsers)
}

func (u *UsersClient) Get(ctx context.Context, id int, token string) (*User, error) {
	data, err := u.c.do(ctx, "GET", "/users/"+strconv.Itoa(id), token, nil, nil)
	if err != nil {
		return nil, err
	}
	return decodeJSON[User](data)
}

func (u *UsersClient) Update(ctx context.Context, id int, fields map[string]any, token string) (*User, error) {
	data, err := u.c.do(ctx, "PUT", "/users/"+strconv.Itoa(id), token, fields, nil)
	if err != nil {
		return nil, err
	}
	return decodeJSON[User](data)
}

func (u *UsersClient) Delete(ctx context.Context, id int, token string) error {
	_, err := u.c.do(ctx, "DELETE", "/users/"+strconv.Itoa(id), token, nil, nil)
	return err
}

// ============================================================================
// Equipments
// ============================================================================

type EquipmentsClient struct{ c *Client }

func (e *EquipmentsClient) List(ctx context.Context, opts ListOptions, token string) (*Page[Equipment], error) {
	data, err := e.c.do(ctx, "GET", "/equipments", token, nil, opts.query())
	if err != nil {
		return nil, err
	}
	return decodePage[Equipment](data, ResourceEquipments)
}

func (e *EquipmentsClient) Get(ctx context.Context, id int, token string) (*Equipment, error) {
	data, err := e.c.do(ctx, "GET", "/equipments/"+strconv.Itoa(id), token, nil, nil)
	if err != nil {
		return nil, err
	}
	return decodeJSON[Equipment](data)
}

// Update covers equipment edits, returning a borrowed item
// (confirmed_back), and owner-side status changes.
func (e *EquipmentsClient) Update(ctx context.Context, id int, fields map[string]any, token string) (*Equipment, error) {
	data, err := e.c.do(ctx, "PUT", "/equipments/"+strconv.Itoa(id), token, fields, nil)
	if err != nil {
		return nil, err
	}
	return decodeJSON[Equipment](data)
}

func (e *EquipmentsClient) Delete(ctx context.Context, id int, token string) error {
	_, err := e.c.do(ctx, "DELETE", "/equipments/"+strconv.Itoa(id), token, nil, nil)
	return err
}

// ============================================================================
// Applications
// ============================================================================

// ApplicationKind selects one of the three application collections. All
// three share routes, lifecycle, and review rules; only the entity payload
// differs.
type ApplicationKind string

const (
	KindLender ApplicationKind = "lender"
	KindPutOn  ApplicationKind = "puton"
	KindBorrow ApplicationKind = "borrow"
)

// applicationRoutes is the closed per-kind configuration: URL segment and
// the list-envelope field the server uses for that collection.
var applicationRoutes = map[ApplicationKind]struct {
	path      string
	listField string
}{
	KindLender: {path: "/applications/lender", listField: ResourceLenderApplications},
	KindPutOn:  {path: "/applications/puton", listField: ResourcePutOnApplications},
	KindBorrow: {path: "/applications/borrow", listField: ResourceBorrowApplications},
}

// Resource returns the cache resource name for the kind's list queries.
func (k ApplicationKind) Resource() string {
	return applicationRoutes[k].listField
}

// ApplicationsClient is the generic application sub-client; the Client
// exposes one instantiation per kind.
type ApplicationsClient[T any] struct {
	c    *Client
	kind ApplicationKind
}

func (a *ApplicationsClient[T]) Kind() ApplicationKind { return a.kind }

func (a *ApplicationsClient[T]) Create(ctx context.Context, fields map[string]any, token string) (*T, error) {
	data, err := a.c.do(ctx, "POST", applicationRoutes[a.kind].path, token, fields, nil)
	if err != nil {
		return nil, err
	}
	return decodeJSON[T](data)
}

func (a *ApplicationsClient[T]) List(ctx context.Context, opts ListOptions, token string) (*Page[T], error) {
	route := applicationRoutes[a.kind]
	data, err := a.c.do(ctx, "GET", route.path, token, nil, opts.query())
	if err != nil {
		return nil, err
	}
	return decodePage[T](data, route.listField)
}

func (a *ApplicationsClient[T]) Get(ctx context.Context, id int, token string) (*T, error) {
	data, err := a.c.do(ctx, "GET", applicationRoutes[a.kind].path+"/"+strconv.Itoa(id), token, nil, nil)
	if err != nil {
		return nil, err
	}
	return decodeJSON[T](data)
}

// Update submits a review decision or edits the application.
func (a *ApplicationsClient[T]) Update(ctx context.Context, id int, fields map[string]any, token string) (*T, error) {
	data, err := a.c.do(ctx, "PUT", applicationRoutes[a.kind].path+"/"+strconv.Itoa(id), token, fields, nil)
	if err != nil {
		return nil, err
	}
	return decodeJSON[T](data)
}

func (a *ApplicationsClient[T]) Delete(ctx context.Context, id int, token string) error {
	_, err := a.c.do(ctx, "DELETE", applicationRoutes[a.kind].path+"/"+strconv.Itoa(id), token, nil, nil)
	return err
}

// ============================================================================
// Notifications
// ============================================================================

type NotificationsClient struct{ c *Client }

func (n *NotificationsClient) List(ctx context.Context, opts ListOptions, token string) (*Page[Notification], error) {
	data, err := n.c.do(ctx, "GET", "/notifications", token, nil, opts.query())
	if err != nil {
		return nil, err
	}
	return decodePage[Notification](data, ResourceNotifications)
}

// UnreadCount asks only for the number of unread notifications.
func (n *NotificationsClient) UnreadCount(ctx context.Context, token string) (int, error) {
	q := url.Values{}
	q.Set("isRead", "false")
	q.Set("total", "true")
	data, err := n.c.do(ctx, "GET", "/notifications", token, nil, q)
	if err != nil {
		return 0, err
	}
	page, err := decodePage[Notification](data, ResourceNotifications)
	if err != nil {
		return 0, err
	}
	return page.Total, nil
}

func (n *NotificationsClient) Get(ctx context.Context, id int, token string) (*Notification, error) {
	data, err := n.c.do(ctx, "GET", "/notifications/"+strconv.Itoa(id), token, nil, nil)
	if err != nil {
		return nil, err
	}
	return decodeJSON[Notification](data)
}

// MarkRead records that the notification has been opened.
func (n *NotificationsClient) MarkRead(ctx context.Context, id int, token string) (*Notification, error) {
	data, err := n.c.do(ctx, "PUT", "/notifications/"+strconv.Itoa(id), token, map[string]any{"isRead": true}, nil)
	if err != nil {
		return nil, err
	}
	return decodeJSON[Notification](data)
}

func (n *NotificationsClient) Delete(ctx context.Context, id int, token string) error {
	_, err := n.c.do(ctx, "DELETE", "/notifications/"+strconv.Itoa(id), token, nil, nil)
	return err
}

// ============================================================================
// Messages
// ============================================================================

type MessagesClient struct{ c *Client }

// Unread returns the per-peer unread summary.
func (m *MessagesClient) Unread(ctx context.Context, token string) (*UnreadSummary, error) {
	data, err := m.c.do(ctx, "GET", "/messages", token, nil, nil)
	if err != nil {
		return nil, err
	}
	return decodeJSON[UnreadSummary](data)
}

// Thread returns the messages exchanged with one peer.
func (m *MessagesClient) Thread(ctx context.Context, peerID int, token string) (*ThreadMessages, error) {
	data, err := m.c.do(ctx, "GET", "/messages/"+strconv.Itoa(peerID), token, nil, nil)
	if err != nil {
		return nil, err
	}
	return decodeJSON[ThreadMessages](data)
}

// Send posts a message to a peer and returns the stored message.
func (m *MessagesClient) Send(ctx context.Context, peerID int, content, token string) (*Message, error) {
	data, err := m.c.do(ctx, "POST", "/messages/"+strconv.Itoa(peerID), token, map[string]string{"content": content}, nil)
	if err != nil {
		return nil, err
	}
	return decodeJSON[Message](data)
}

// MarkRead marks the whole peer thread as read.
func (m *MessagesClient) MarkRead(ctx context.Context, peerID int, token string) error {
	_, err := m.c.do(ctx, "PUT", "/messages/"+strconv.Itoa(peerID), token, nil, nil)
	return err
}

// ============================================================================
// Logs
// ============================================================================

type LogsClient struct{ c *Client }

func (l *LogsClient) List(ctx context.Context, opts ListOptions, token string) (*Page[LogEntry], error) {
	data, err := l.c.do(ctx, "GET", "/logs", token, nil, opts.query())
	if err != nil {
		return nil, err
	}
	return decodePage[LogEntry](data, ResourceLogs)
}
