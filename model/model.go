// Package model holds the dashboard's resources as they travel over the wire
// and the validators that guard them. Every server payload is checked
// against the CUE definitions in schema.cue before it reaches the cache, and
// every form input before it is sent.
package model

type ClientStatus string

const (
	ClientActive   ClientStatus = "active"
	ClientInactive ClientStatus = "inactive"
	ClientPending  ClientStatus = "pending"
)

type PaymentMethod string

const (
	PayCreditCard   PaymentMethod = "credit_card"
	PayBankTransfer PaymentMethod = "bank_transfer"
	PayPaypal       PaymentMethod = "paypal"
)

type BillingInfo struct {
	Address       string        `json:"address"`
	TaxID         string        `json:"taxId"`
	PaymentMethod PaymentMethod `json:"paymentMethod"`
}

type Client struct {
	ID          string       `json:"id"`
	Name        string       `json:"name"`
	Email       string       `json:"email"`
	Phone       string       `json:"phone,omitempty"`
	Company     string       `json:"company"`
	Status      ClientStatus `json:"status"`
	CreatedAt   Timestamp    `json:"createdAt"`
	UpdatedAt   Timestamp    `json:"updatedAt"`
	Notes       string       `json:"notes,omitempty"`
	AssignedTo  string       `json:"assignedTo,omitempty"`
	Tags        []string     `json:"tags"`
	BillingInfo BillingInfo  `json:"billingInfo"`
}

// ClientInput is the create form.
type ClientInput struct {
	Name        string       `json:"name"`
	Email       string       `json:"email"`
	Phone       string       `json:"phone,omitempty"`
	Company     string       `json:"company"`
	Status      ClientStatus `json:"status"`
	Notes       string       `json:"notes,omitempty"`
	AssignedTo  string       `json:"assignedTo,omitempty"`
	Tags        []string     `json:"tags,omitempty"`
	BillingInfo BillingInfo  `json:"billingInfo"`
}

// ClientPatch carries only the fields being changed.
type ClientPatch struct {
	Name        *string       `json:"name,omitempty"`
	Email       *string       `json:"email,omitempty"`
	Phone       *string       `json:"phone,omitempty"`
	Company     *string       `json:"company,omitempty"`
	Status      *ClientStatus `json:"status,omitempty"`
	Notes       *string       `json:"notes,omitempty"`
	AssignedTo  *string       `json:"assignedTo,omitempty"`
	Tags        []string      `json:"tags,omitempty"`
	BillingInfo *BillingInfo  `json:"billingInfo,omitempty"`
}

type TicketPriority string

const (
	PriorityLow    TicketPriority = "low"
	PriorityMedium TicketPriority = "medium"
	PriorityHigh   TicketPriority = "high"
	PriorityUrgent TicketPriority = "urgent"
)

type TicketStatus string

const (
	TicketOpen          TicketStatus = "open"
	TicketInProgress    TicketStatus = "in_progress"
	TicketWaitingClient TicketStatus = "waiting_client"
	TicketResolved      TicketStatus = "resolved"
	TicketClosed        TicketStatus = "closed"
)

type TicketCategory string

const (
	CategoryTechnical      TicketCategory = "technical"
	CategoryBilling        TicketCategory = "billing"
	CategoryFeatureRequest TicketCategory = "feature_request"
	CategoryBug            TicketCategory = "bug"
	CategoryOther          TicketCategory = "other"
)

type Attachment struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	URL  string `json:"url"`
	Type string `json:"type"`
	Size int64  `json:"size"`
}

type Ticket struct {
	ID          string         `json:"id"`
	Title       string         `json:"title"`
	Description string         `json:"description"`
	ClientID    string         `json:"clientId"`
	AssignedTo  string         `json:"assignedTo,omitempty"`
	Priority    TicketPriority `json:"priority"`
	Status      TicketStatus   `json:"status"`
	Category    TicketCategory `json:"category"`
	CreatedAt   Timestamp      `json:"createdAt"`
	UpdatedAt   Timestamp      `json:"updatedAt"`
	DueDate     *Timestamp     `json:"dueDate,omitempty"`
	Tags        []string       `json:"tags"`
	Attachments []Attachment   `json:"attachments"`
}

// TicketInput is the create form.
type TicketInput struct {
	Title       string         `json:"title"`
	Description string         `json:"description"`
	ClientID    string         `json:"clientId"`
	AssignedTo  string         `json:"assignedTo,omitempty"`
	Priority    TicketPriority `json:"priority"`
	Status      TicketStatus   `json:"status"`
	Category    TicketCategory `json:"category"`
	DueDate     *Timestamp     `json:"dueDate,omitempty"`
	Tags        []string       `json:"tags,omitempty"`
}

type TicketPatch struct {
	Title       *string         `json:"title,omitempty"`
	Description *string         `json:"description,omitempty"`
	ClientID    *string         `json:"clientId,omitempty"`
	AssignedTo  *string         `json:"assignedTo,omitempty"`
	Priority    *TicketPriority `json:"priority,omitempty"`
	Status      *TicketStatus   `json:"status,omitempty"`
	Category    *TicketCategory `json:"category,omitempty"`
	DueDate     *Timestamp      `json:"dueDate,omitempty"`
	Tags        []string        `json:"tags,omitempty"`
}

type TicketComment struct {
	ID          string       `json:"id"`
	TicketID    string       `json:"ticketId"`
	UserID      string       `json:"userId"`
	Content     string       `json:"content"`
	CreatedAt   Timestamp    `json:"createdAt"`
	Attachments []Attachment `json:"attachments"`
	IsInternal  bool         `json:"isInternal"`
}

type CommentInput struct {
	UserID      string       `json:"userId"`
	Content     string       `json:"content"`
	Attachments []Attachment `json:"attachments,omitempty"`
	IsInternal  bool         `json:"isInternal"`
}

type Role string

const (
	RoleAdmin Role = "admin"
	RoleUser  Role = "user"
)

type User struct {
	ID          string   `json:"id"`
	Email       string   `json:"email"`
	Name        string   `json:"name"`
	Role        Role     `json:"role"`
	Permissions []string `json:"permissions"`
}

// HasPermission reports whether u was granted p. A nil user has none.
func (u *User) HasPermission(p string) bool {
	if u == nil {
		return false
	}
	for _, have := range u.Permissions {
		if have == p {
			return true
		}
	}
	return false
}

type Credentials struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type LoginResponse struct {
	Token string `json:"token"`
	User  User   `json:"user"`
}

type TokenResponse struct {
	Token string `json:"token"`
}

// Filters are list query parameters, e.g. {"status": "open"}. They are part
// of the list's cache key.
type Filters map[string]string
