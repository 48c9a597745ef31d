// Package models defines the core domain models for the SACCO ledger.
//
// # Directory
//
// The organisational hierarchy payments are routed to:
//   - Cooperative: the tenant (a savings and credit cooperative)
//   - Group: a member savings circle inside one cooperative
//   - Member: a person belonging to one group
//
// # Money movement
//
//   - Payment: one mobile-money transaction as ingested, with its resolution status
//   - Account: a ledger account keyed by (owner type, owner id, currency)
//   - LedgerEntry: one immutable double-entry record between two accounts
//
// # Design Principles
//
//  1. Amounts are integer minor units (int64); there is no floating point money.
//  2. Relationships are ID strings, never pointers; an empty string means "not linked".
//  3. Ledger entries and idempotency records are insert-only.
//  4. PaymentStatus is a closed enumeration; unknown values are rejected when read from storage.
package models
