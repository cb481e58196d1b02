package models

import (
	"time"
)

// Account holds the funds of one approved client, or of a designated
// entity (the bank treasury), identified by a unique alias and a unique
// routing number.
type Account struct {
	UID           string    `json:"uid" db:"uid"`
	Alias         string    `json:"alias" db:"alias"`
	RoutingNumber string    `json:"routing_number" db:"routing_number"`
	Balance       int64     `json:"balance" db:"balance"` // minor currency units
	Version       int       `json:"-" db:"version"`       // for optimistic locking
	IsEntity      bool      `json:"is_entity" db:"is_entity"`
	CompanyName   string    `json:"company_name" db:"company_name"`
	CreatedAt     time.Time `json:"created_at" db:"created_at"`
	UpdatedAt     time.Time `json:"updated_at" db:"updated_at"`
}

// Movement is one leg of a double-entry transaction. Exactly one of
// Debit/Credit is set, and exactly two movements share a TxID. Rows are
// never updated after insert.
type Movement struct {
	ID                int64     `json:"id" db:"id"`
	TxID              string    `json:"tx_id" db:"tx_id"`
	UID               string    `json:"uid" db:"uid"`
	Date              time.Time `json:"date" db:"date"`
	Concept           string    `json:"concept" db:"concept"`
	Detail            string    `json:"detail" db:"detail"`
	Debit             *int64    `json:"debit" db:"debit"`
	Credit            *int64    `json:"credit" db:"credit"`
	BalanceAfter      int64     `json:"balance_after" db:"balance_after"`
	PeerCompany       string    `json:"peer_company" db:"peer_company"`
	PeerAlias         string    `json:"peer_alias" db:"peer_alias"`
	PeerRoutingNumber string    `json:"peer_routing_number" db:"peer_routing_number"`
}

// Amount returns the signed value of the leg: negative for debits,
// positive for credits.
func (m *Movement) Amount() int64 {
	if m.Debit != nil {
		return -*m.Debit
	}
	if m.Credit != nil {
		return *m.Credit
	}
	return 0
}
