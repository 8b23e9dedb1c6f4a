// Package domain holds the core entities of the evvo finance data layer:
// wallets, transactions, savings goals, debts and the user profile, plus the
// typed errors shared across services and adapters.
package domain

import "time"

// WalletIcon is the display icon associated with a wallet.
type WalletIcon string

const (
	IconCash    WalletIcon = "cash"
	IconBank    WalletIcon = "bank"
	IconEWallet WalletIcon = "ewallet"
)

// TransactionType discriminates income from expense entries.
type TransactionType string

const (
	TypeIncome  TransactionType = "income"
	TypeExpense TransactionType = "expense"
)

// DebtType discriminates money owed by the user from money owed to the user.
type DebtType string

const (
	DebtPayable    DebtType = "payable"
	DebtReceivable DebtType = "receivable"
)

// DebtStatus is the settlement state of a debt.
type DebtStatus string

const (
	DebtUnpaid DebtStatus = "unpaid"
	DebtPaid   DebtStatus = "paid"
)

// Wallet is a spending account owned by one identity. Order defines the
// display/priority position and stays dense and unique within one owner's
// wallet set after any reorder.
type Wallet struct {
	ID      string     `json:"id"`
	Name    string     `json:"name"`
	Balance float64    `json:"balance"`
	Icon    WalletIcon `json:"icon"`
	Order   int        `json:"order"`
}

// Transaction is a single income or expense entry against a wallet.
// WalletName is a copy of the wallet's name at write time; it is not kept in
// sync with later renames.
type Transaction struct {
	ID          string          `json:"id"`
	Type        TransactionType `json:"type"`
	Amount      float64         `json:"amount"`
	Category    string          `json:"category"`
	Date        time.Time       `json:"date"`
	WalletID    string          `json:"walletId"`
	WalletName  string          `json:"walletName"`
	Description string          `json:"description,omitempty"`
}

// Goal is a savings target. CurrentAmount starts at zero and no operation
// decreases it.
type Goal struct {
	ID            string  `json:"id"`
	Name          string  `json:"name"`
	TargetAmount  float64 `json:"targetAmount"`
	CurrentAmount float64 `json:"currentAmount"`
}

// Debt is a payable or receivable amount against a named person.
type Debt struct {
	ID      string     `json:"id"`
	Type    DebtType   `json:"type"`
	Person  string     `json:"person"`
	Amount  float64    `json:"amount"`
	DueDate *time.Time `json:"dueDate,omitempty"`
	Status  DebtStatus `json:"status"`
}

// UserProfile is the per-identity profile document. The username rename
// counters back the rolling-window rate limit on display-name changes.
type UserProfile struct {
	UID                 string    `json:"uid"`
	Name                string    `json:"name"`
	Email               string    `json:"email"`
	CreatedAt           time.Time `json:"createdAt"`
	PhotoURL            string    `json:"photoURL,omitempty"`
	UsernameUpdateCount int       `json:"usernameUpdateCount"`
	LastUsernameUpdate  time.Time `json:"lastUsernameUpdate"`
}

// ProfileUpdate carries the user-editable profile fields. Empty fields are
// left untouched.
type ProfileUpdate struct {
	Name     string `json:"name,omitempty"`
	PhotoURL string `json:"photoURL,omitempty"`
}
