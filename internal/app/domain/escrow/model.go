// Package escrow holds escrow balance movements.
package escrow

import "time"

// MovementType classifies a balance change.
type MovementType string

const (
	MovementDeposit          MovementType = "deposit"
	MovementWithdrawal       MovementType = "withdrawal"
	MovementSettlementDebit  MovementType = "settlement_debit"
	MovementSettlementCredit MovementType = "settlement_credit"
)

// Movement is an immutable journal entry for one balance change. Amount is
// signed: credits positive, debits negative.
type Movement struct {
	ID           string       `json:"id"`
	Account      string       `json:"account"`
	Type         MovementType `json:"type"`
	Amount       int64        `json:"amount"`
	BalanceAfter int64        `json:"balance_after"`
	ProductID    int64        `json:"product_id,omitempty"`
	Counterparty string       `json:"counterparty,omitempty"`
	CreatedAt    time.Time    `json:"created_at"`
}

// Balance is a read projection of an account's escrow position.
type Balance struct {
	Account      string `json:"account"`
	Balance      int64  `json:"balance"`
	Earmarked    int64  `json:"earmarked"`
	Withdrawable int64  `json:"withdrawable"`
}
