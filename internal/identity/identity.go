// Package identity models who is placing or acting on an order.
package identity

import "strings"

// Identity is either a Guest or a Member. The unexported method closes the set.
type Identity interface {
	isIdentity()
	// Contact returns the name, phone and email recorded on the order.
	Contact() (name, phone, email string)
}

// Guest checks out with contact details only.
type Guest struct {
	Name  string
	Phone string
	Email string
}

// Member is an authenticated account.
type Member struct {
	UserID int64
	Role   string
	Name   string
	Phone  string
	Email  string
}

func (Guest) isIdentity()  {}
func (Member) isIdentity() {}

func (g Guest) Contact() (string, string, string) {
	return strings.TrimSpace(g.Name), strings.TrimSpace(g.Phone), strings.TrimSpace(g.Email)
}

func (m Member) Contact() (string, string, string) {
	return strings.TrimSpace(m.Name), strings.TrimSpace(m.Phone), strings.TrimSpace(m.Email)
}

// UserID returns the member id, or false for guests and nil identities.
func UserID(id Identity) (int64, bool) {
	if m, ok := id.(Member); ok && m.UserID > 0 {
		return m.UserID, true
	}
	return 0, false
}
