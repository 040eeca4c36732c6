// Package role holds the account role model.
package role

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Role is one of the three actor classes. An account holds at most one
// selected role; admin-set membership is tracked separately.
type Role uint8

const (
	None Role = iota
	Admin
	Supplier
	Customer
)

// String returns the canonical role name.
func (r Role) String() string {
	switch r {
	case None:
		return "none"
	case Admin:
		return "admin"
	case Supplier:
		return "supplier"
	case Customer:
		return "customer"
	default:
		return fmt.Sprintf("role(%d)", uint8(r))
	}
}

// Valid reports whether r is one of Admin, Supplier or Customer.
func (r Role) Valid() bool {
	return r == Admin || r == Supplier || r == Customer
}

// Parse converts a name into a Role. Unknown names yield None and false.
func Parse(s string) (Role, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "admin":
		return Admin, true
	case "supplier":
		return Supplier, true
	case "customer":
		return Customer, true
	default:
		return None, false
	}
}

// MarshalJSON implements json.Marshaler.
func (r Role) MarshalJSON() ([]byte, error) {
	return json.Marshal(r.String())
}

// UnmarshalJSON implements json.Unmarshaler.
func (r *Role) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	parsed, ok := Parse(s)
	if !ok && strings.TrimSpace(s) != "" && !strings.EqualFold(s, "none") {
		return fmt.Errorf("unknown role %q", s)
	}
	*r = parsed
	return nil
}

// Set is a bitset of role flags. Normal operation keeps at most one flag set
// besides Admin; the set form lets reads apply precedence if that ever breaks.
type Set uint8

func bit(r Role) Set {
	if !r.Valid() {
		return 0
	}
	return 1 << (uint8(r) - 1)
}

// Has reports whether r is in the set.
func (s Set) Has(r Role) bool { return r.Valid() && s&bit(r) != 0 }

// With returns s with r added.
func (s Set) With(r Role) Set { return s | bit(r) }

// Without returns s with r removed.
func (s Set) Without(r Role) Set { return s &^ bit(r) }

// Empty reports whether no flag is set.
func (s Set) Empty() bool { return s == 0 }

// Primary applies the precedence Admin > Supplier > Customer.
func (s Set) Primary() Role {
	for _, r := range []Role{Admin, Supplier, Customer} {
		if s.Has(r) {
			return r
		}
	}
	return None
}

// Assignment is the persisted role state for one account.
type Assignment struct {
	Account  string `json:"account"`
	Flags    Set    `json:"flags"`
	Selected bool   `json:"selected"`
}

// Role returns the effective single role.
func (a Assignment) Role() Role { return a.Flags.Primary() }
