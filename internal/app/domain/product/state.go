package product

import (
	"encoding/json"
	"fmt"
	"strings"
)

// State is the lifecycle phase of a product.
type State uint8

const (
	// StateUnknown is never stored; it marks a failed parse.
	StateUnknown State = iota
	StateCreated
	StatePacked
	StateShippedToSupplier
	StateShippedToCustomer
	StateReceivedBySupplier
	StateDeliveredToCustomer
	StateReturned
	StateExpired
)

// AllStates lists every storable state in declaration order.
var AllStates = []State{
	StateCreated,
	StatePacked,
	StateShippedToSupplier,
	StateShippedToCustomer,
	StateReceivedBySupplier,
	StateDeliveredToCustomer,
	StateReturned,
	StateExpired,
}

// String returns the status label mirrored on the product record.
func (s State) String() string {
	switch s {
	case StateCreated:
		return "Created"
	case StatePacked:
		return "Packed"
	case StateShippedToSupplier:
		return "ShippedToSupplier"
	case StateShippedToCustomer:
		return "ShippedToCustomer"
	case StateReceivedBySupplier:
		return "ReceivedBySupplier"
	case StateDeliveredToCustomer:
		return "DeliveredToCustomer"
	case StateReturned:
		return "Returned"
	case StateExpired:
		return "Expired"
	default:
		return fmt.Sprintf("state(%d)", uint8(s))
	}
}

// Valid reports whether s is a storable state.
func (s State) Valid() bool {
	return s >= StateCreated && s <= StateExpired
}

// Settles reports whether entering s moves escrowed funds.
func (s State) Settles() bool {
	return s == StateReceivedBySupplier || s == StateDeliveredToCustomer
}

// InTransit reports whether funds of the owner are earmarked while the
// product sits in s.
func (s State) InTransit() bool {
	return s == StateShippedToCustomer || s == StateShippedToSupplier
}

// ParseState converts a status label into a State. Matching ignores case,
// spaces, underscores and hyphens, so "Shipped to supplier" and
// "shipped_to_supplier" both resolve.
func ParseState(label string) (State, bool) {
	key := normalize(label)
	for _, s := range AllStates {
		if normalize(s.String()) == key {
			return s, true
		}
	}
	return StateUnknown, false
}

func normalize(s string) string {
	return strings.Map(func(r rune) rune {
		switch r {
		case ' ', '_', '-', '\t':
			return -1
		}
		return r
	}, strings.ToLower(strings.TrimSpace(s)))
}

// MarshalJSON implements json.Marshaler.
func (s State) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

// UnmarshalJSON implements json.Unmarshaler.
func (s *State) UnmarshalJSON(data []byte) error {
	var str string
	if err := json.Unmarshal(data, &str); err != nil {
		return err
	}
	parsed, ok := ParseState(str)
	if !ok {
		return fmt.Errorf("unknown lifecycle state %q", str)
	}
	*s = parsed
	return nil
}
