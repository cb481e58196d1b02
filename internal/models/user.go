package models

import "time"

// Roles and statuses for client profiles. There is no rejected status:
// a client that is never approved simply stays pending.
const (
	RoleClient = "client"
	RoleBank   = "bank"

	StatusPending  = "pending"
	StatusApproved = "approved"
)

// User is a client (company) profile or a bank employee.
type User struct {
	ID          string     `json:"id" db:"id"`
	Email       string     `json:"email" db:"email"`
	CompanyName string     `json:"company_name" db:"company_name"`
	Type        string     `json:"type" db:"type"` // micro | pyme | gran
	Role        string     `json:"role" db:"role"`
	Status      string     `json:"status" db:"status"`
	ApprovedBy  *string    `json:"approved_by,omitempty" db:"approved_by"`
	ApprovedAt  *time.Time `json:"approved_at,omitempty" db:"approved_at"`
	CreatedAt   time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at" db:"updated_at"`
}

// Loan is a client's request for funds. Approval disburses the amount
// into the client's account through the ledger.
type Loan struct {
	ID         string     `json:"id" db:"id"`
	UID        string     `json:"uid" db:"uid"`
	Amount     int64      `json:"amount" db:"amount"` // minor currency units
	Status     string     `json:"status" db:"status"`
	ApprovedBy *string    `json:"approved_by,omitempty" db:"approved_by"`
	ApprovedAt *time.Time `json:"approved_at,omitempty" db:"approved_at"`
	CreatedAt  time.Time  `json:"created_at" db:"created_at"`
}
