package leasing

import "fmt"

// ============================================================================
// Roles and statuses
// ============================================================================

// Role is a user's role within the leasing system.
type Role string

const (
	RoleNormal Role = "normal"
	RoleLender Role = "lender"
	RoleAdmin  Role = "admin"
)

// ReviewStatus is the lifecycle state of an application. An application is
// created unreviewed and transitions to agree or refuse exactly once.
type ReviewStatus string

const (
	ReviewUnreviewed ReviewStatus = "unreviewed"
	ReviewAgree      ReviewStatus = "agree"
	ReviewRefuse     ReviewStatus = "refuse"
)

// Terminal reports whether no further review transition is permitted.
func (s ReviewStatus) Terminal() bool {
	return s == ReviewAgree || s == ReviewRefuse
}

// EquipmentStatus is the lease state of a piece of equipment.
type EquipmentStatus string

const (
	EquipmentIdle       EquipmentStatus = "idle"
	EquipmentUnreviewed EquipmentStatus = "unreviewed"
	EquipmentLease      EquipmentStatus = "lease"
)

// ============================================================================
// Errors
// ============================================================================

// HTTPError is a non-2xx response from the API. Message is the server's
// message field when the error body could be parsed, or a generic fallback.
type HTTPError struct {
	Status  int
	Message string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("http %d: %s", e.Status, e.Message)
}

// NetworkError means the request never reached the server.
type NetworkError struct {
	Err error
}

func (e *NetworkError) Error() string {
	return "network error: " + e.Err.Error()
}

func (e *NetworkError) Unwrap() error {
	return e.Err
}

// ValidationError is a client-side check failing before any request is sent.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return e.Field + ": " + e.Message
}

// ============================================================================
// Session
// ============================================================================

// Session is the authenticated identity. An unconfirmed account carries a
// ConfirmToken instead of a full Token until the email confirmation flow
// completes.
type Session struct {
	ID           int    `json:"id"`
	Username     string `json:"username"`
	Email        string `json:"email"`
	Role         Role   `json:"role"`
	Confirmed    bool   `json:"confirmed"`
	Token        string `json:"token,omitempty"`
	ConfirmToken string `json:"confirm_token,omitempty"`
	Avatar       string `json:"avatar,omitempty"`
}

// AuthToken returns the credential to place in the Authorization header:
// the session token, or the confirmation token during the unconfirmed flow.
func (s *Session) AuthToken() string {
	if s == nil {
		return ""
	}
	if s.Token != "" {
		return s.Token
	}
	return s.ConfirmToken
}

// ============================================================================
// Resource entities
// ============================================================================

// Resource names. These double as the list-envelope field the server wraps
// each collection in and as the leading element of that collection's query
// keys.
const (
	ResourceUsers              = "users"
	ResourceEquipments         = "equipments"
	ResourceLenderApplications = "lender_applications"
	ResourcePutOnApplications  = "equipment_puton_applications"
	ResourceBorrowApplications = "equipment_borrow_applications"
	ResourceNotifications      = "notifications"
	ResourceMessages           = "messages"
	ResourceLogs               = "logs"
	ResourceStat               = "stat"
)

// UserSummary is the embedded back-reference form of a user.
type UserSummary struct {
	ID       int    `json:"id"`
	Username string `json:"username"`
	Email    string `json:"email,omitempty"`
	Avatar   string `json:"avatar,omitempty"`
}

// OwnerSummary is the embedded form of an equipment owner (a lender).
type OwnerSummary struct {
	ID          int    `json:"id"`
	Username    string `json:"username"`
	Email       string `json:"email,omitempty"`
	LabName     string `json:"lab_name,omitempty"`
	LabLocation string `json:"lab_location,omitempty"`
}

type User struct {
	ID          int    `json:"id"`
	Username    string `json:"username"`
	Email       string `json:"email"`
	Role        Role   `json:"role"`
	Confirmed   bool   `json:"confirmed"`
	Avatar      string `json:"avatar,omitempty"`
	LabName     string `json:"lab_name,omitempty"`
	LabLocation string `json:"lab_location,omitempty"`
}

type Equipment struct {
	ID            int             `json:"id"`
	Name          string          `json:"name"`
	Usage         string          `json:"usage,omitempty"`
	Status        EquipmentStatus `json:"status"`
	ReturnTime    string          `json:"return_time,omitempty"`
	Owner         *OwnerSummary   `json:"owner,omitempty"`
	ConfirmedBack bool            `json:"confirmed_back"`
}

// LenderApplication is a request by a normal user to become a lender.
type LenderApplication struct {
	ID              int          `json:"id"`
	Status          ReviewStatus `json:"status"`
	LabName         string       `json:"lab_name"`
	LabLocation     string       `json:"lab_location"`
	Candidate       UserSummary  `json:"candidate"`
	Reviewer        *UserSummary `json:"reviewer,omitempty"`
	ApplicationTime string       `json:"application_time,omitempty"`
	ReviewTime      string       `json:"review_time,omitempty"`
}

// PutOnApplication is a lender's request to put equipment on the platform.
type PutOnApplication struct {
	ID              int          `json:"id"`
	Status          ReviewStatus `json:"status"`
	EquipmentName   string       `json:"equipment_name,omitempty"`
	Usage           string       `json:"usage,omitempty"`
	Candidate       UserSummary  `json:"candidate"`
	Reviewer        *UserSummary `json:"reviewer,omitempty"`
	ApplicationTime string       `json:"application_time,omitempty"`
	ReviewTime      string       `json:"review_time,omitempty"`
}

// BorrowApplication is a user's request to borrow a piece of equipment.
// The reviewer is the equipment's owner, so it carries lab details.
type BorrowApplication struct {
	ID              int           `json:"id"`
	Status          ReviewStatus  `json:"status"`
	EquipmentName   string        `json:"equipment_name,omitempty"`
	Usage           string        `json:"usage,omitempty"`
	Candidate       UserSummary   `json:"candidate"`
	Reviewer        *OwnerSummary `json:"reviewer,omitempty"`
	ApplicationTime string        `json:"application_time,omitempty"`
	ReviewTime      string        `json:"review_time,omitempty"`
}

// Notification is created server-side when an application is reviewed and
// surfaced to the candidate. The client only ever reads and deletes them.
type Notification struct {
	ID               int          `json:"id"`
	Sender           UserSummary  `json:"sender"`
	Content          string       `json:"content"`
	NotificationTime string       `json:"notification_time,omitempty"`
	IsRead           bool         `json:"isRead"`
	ApplicationID    string       `json:"application_id,omitempty"`
	Type             string       `json:"type,omitempty"`
	Result           ReviewStatus `json:"result,omitempty"`
}

// Message is a single chat message within a peer thread.
type Message struct {
	ID          int    `json:"id"`
	SenderID    int    `json:"sender_id"`
	Content     string `json:"content"`
	MessageTime string `json:"message_time,omitempty"`
}

// LogEntry is one audit-log record (admin only).
type LogEntry struct {
	ID      int    `json:"id"`
	Type    string `json:"type"` // insert | update | delete
	Content string `json:"content"`
	LogTime string `json:"log_time,omitempty"`
}

// Stat is the dashboard aggregate counter set.
type Stat struct {
	BorrowLog            []int `json:"borrow_log"`
	ConfirmedUsers       int   `json:"confirmed_users"`
	UnconfirmedUsers     int   `json:"unconfirmed_users"`
	NormalUsers          int   `json:"normal_users"`
	LenderUsers          int   `json:"lender_users"`
	IdleEquipments       int   `json:"idle_equipments"`
	LeaseEquipments      int   `json:"lease_equipments"`
	UnreviewedEquipments int   `json:"unreviewed_equipments"`
	LenderApplications   int   `json:"lender_applications"`
	PutOnApplications    int   `json:"equipment_puton_applications"`
	BorrowApplications   int   `json:"equipment_borrow_applications"`
}

// ============================================================================
// Messaging wire shapes
// ============================================================================

// UnreadPeer is one entry of the server's unread-message summary.
type UnreadPeer struct {
	ID       int    `json:"id"`
	Username string `json:"username"`
	Avatar   string `json:"avatar,omitempty"`
	Total    int    `json:"total"`
}

// UnreadSummary is the response of GET /api/messages.
type UnreadSummary struct {
	UnreadUsers []UnreadPeer `json:"unread_users"`
}

// ThreadMessages is the response of GET /api/messages/:peer.
type ThreadMessages struct {
	Messages []Message `json:"messages"`
}

// ============================================================================
// List plumbing
// ============================================================================

// Page is one page of a listed collection.
type Page[T any] struct {
	Items []T
	Total int
}

// ListOptions are the common list-endpoint query parameters plus
// resource-specific filters (name, status, owner_id, ...).
type ListOptions struct {
	Page     int
	PageSize int
	Order    string
	OrderBy  string
	Filters  map[string]string
}
