package model

import "time"

// Transaction is an immutable ledger entry recording one status change.
// Item and user fields are snapshots taken when the entry was written.
type Transaction struct {
	ID             string    `json:"id"`
	ItemID         int64     `json:"itemId"`
	ItemCode       string    `json:"itemCode"`
	ItemName       string    `json:"itemName"`
	Action         string    `json:"action"`
	UserID         int64     `json:"userId"`
	UserName       string    `json:"userName"`
	CheckoutPerson string    `json:"checkoutPerson,omitempty"`
	ProjectName    string    `json:"projectName,omitempty"`
	Notes          string    `json:"notes,omitempty"`
	Timestamp      time.Time `json:"timestamp"`
}

// Actions.
const (
	ActionCheckIn  = "CheckIn"
	ActionCheckOut = "CheckOut"
)

// ValidAction reports whether action is a known ledger action.
func ValidAction(action string) bool {
	return action == ActionCheckIn || action == ActionCheckOut
}

// TargetStatus returns the item status an action moves the item into.
func TargetStatus(action string) string {
	if action == ActionCheckOut {
		return StatusOutside
	}
	return StatusInside
}

// TransactionFilter narrows ledger queries. Zero values match everything.
type TransactionFilter struct {
	Action string
	ItemID int64
	Start  *time.Time
	End    *time.Time
	Limit  int
}

// DashboardStats is the aggregate view shown on the dashboard.
type DashboardStats struct {
	TotalItems         int            `json:"totalItems"`
	InsideCount        int            `json:"insideCount"`
	OutsideCount       int            `json:"outsideCount"`
	RecentTransactions []Transaction  `json:"recentTransactions"`
	CategoryBreakdown  map[string]int `json:"categoryBreakdown"`
}
