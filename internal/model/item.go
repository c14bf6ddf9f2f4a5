package model

import (
	"strings"
	"time"
)

// Item is a single trackable physical asset.
type Item struct {
	ID             int64     `json:"id"`
	Code           string    `json:"code"`
	Name           string    `json:"name"`
	Category       string    `json:"category"`
	Description    string    `json:"description,omitempty"`
	ImageRef       string    `json:"imageRef,omitempty"`
	Status         string    `json:"status"`
	CheckoutPerson string    `json:"checkoutPerson,omitempty"`
	ProjectName    string    `json:"projectName,omitempty"`
	Version        int64     `json:"-"`
	CreatedAt      time.Time `json:"createdAt"`
	LastUpdated    time.Time `json:"lastUpdated"`
}

// Item statuses.
const (
	StatusInside  = "Inside"
	StatusOutside = "Outside"
)

// ItemFilter narrows item listings. Empty fields match everything.
type ItemFilter struct {
	Status   string
	Category string
	Search   string
}

// NormalizeCode returns the canonical form of an item code.
func NormalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// Matches reports whether the item satisfies the filter. Search is
// case-insensitive over name, code, checkout person and project.
func (f ItemFilter) Matches(item Item) bool {
	if f.Status != "" && item.Status != f.Status {
		return false
	}
	if f.Category != "" && item.Category != f.Category {
		return false
	}
	if f.Search == "" {
		return true
	}
	q := strings.ToLower(strings.TrimSpace(f.Search))
	for _, field := range []string{item.Name, item.Code, item.CheckoutPerson, item.ProjectName} {
		if strings.Contains(strings.ToLower(field), q) {
			return true
		}
	}
	return false
}
