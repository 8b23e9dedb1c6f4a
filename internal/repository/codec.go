// Package repository implements the per-entity repositories: CRUD plus the
// invariant checks of the finance data layer (balance-adjusting transaction
// writes, dense wallet ordering, cascading deletes). All of them write
// through an injected port.Store.
package repository

import (
	"time"

	"github.com/evvofinance/evvo-sync-go/internal/domain"
	"github.com/evvofinance/evvo-sync-go/internal/port"
)

// Collection names under one identity's namespace.
const (
	CollectionWallets      = "wallets"
	CollectionTransactions = "transactions"
	CollectionGoals        = "goals"
	CollectionDebts        = "debts"
	CollectionProfiles     = "profiles"
)

// Field accessors tolerant of adapter representation differences: the memory
// and mongo adapters keep native Go values, the PostgREST adapter yields
// decoded JSON (float64 numbers, RFC3339 strings for timestamps).

func docString(d map[string]any, key string) string {
	if s, ok := d[key].(string); ok {
		return s
	}
	return ""
}

func docFloat(d map[string]any, key string) float64 {
	switch n := d[key].(type) {
	case float64:
		return n
	case float32:
		return float64(n)
	case int:
		return float64(n)
	case int64:
		return float64(n)
	case int32:
		return float64(n)
	}
	return 0
}

func docInt(d map[string]any, key string) int {
	return int(docFloat(d, key))
}

func docTime(d map[string]any, key string) time.Time {
	switch v := d[key].(type) {
	case time.Time:
		return v
	case string:
		if t, err := time.Parse(time.RFC3339Nano, v); err == nil {
			return t
		}
		if t, err := time.Parse(time.RFC3339, v); err == nil {
			return t
		}
	}
	return time.Time{}
}

func docTimePtr(d map[string]any, key string) *time.Time {
	if _, ok := d[key]; !ok {
		return nil
	}
	t := docTime(d, key)
	if t.IsZero() {
		return nil
	}
	return &t
}

// DecodeWallet maps a stored document to a domain.Wallet.
func DecodeWallet(doc port.Document) domain.Wallet {
	return domain.Wallet{
		ID:      doc.ID,
		Name:    docString(doc.Data, "name"),
		Balance: docFloat(doc.Data, "balance"),
		Icon:    domain.WalletIcon(docString(doc.Data, "icon")),
		Order:   docInt(doc.Data, "order"),
	}
}

// DecodeTransaction maps a stored document to a domain.Transaction.
func DecodeTransaction(doc port.Document) domain.Transaction {
	return domain.Transaction{
		ID:          doc.ID,
		Type:        domain.TransactionType(docString(doc.Data, "type")),
		Amount:      docFloat(doc.Data, "amount"),
		Category:    docString(doc.Data, "category"),
		Date:        docTime(doc.Data, "date"),
		WalletID:    docString(doc.Data, "walletId"),
		WalletName:  docString(doc.Data, "walletName"),
		Description: docString(doc.Data, "description"),
	}
}

// DecodeGoal maps a stored document to a domain.Goal.
func DecodeGoal(doc port.Document) domain.Goal {
	return domain.Goal{
		ID:            doc.ID,
		Name:          docString(doc.Data, "name"),
		TargetAmount:  docFloat(doc.Data, "targetAmount"),
		CurrentAmount: docFloat(doc.Data, "currentAmount"),
	}
}

// DecodeDebt maps a stored document to a domain.Debt.
func DecodeDebt(doc port.Document) domain.Debt {
	return domain.Debt{
		ID:      doc.ID,
		Type:    domain.DebtType(docString(doc.Data, "type")),
		Person:  docString(doc.Data, "person"),
		Amount:  docFloat(doc.Data, "amount"),
		DueDate: docTimePtr(doc.Data, "dueDate"),
		Status:  domain.DebtStatus(docString(doc.Data, "status")),
	}
}

// DecodeProfile maps a stored document to a domain.UserProfile.
func DecodeProfile(doc port.Document) domain.UserProfile {
	return domain.UserProfile{
		UID:                 docString(doc.Data, "uid"),
		Name:                docString(doc.Data, "name"),
		Email:               docString(doc.Data, "email"),
		CreatedAt:           docTime(doc.Data, "createdAt"),
		PhotoURL:            docString(doc.Data, "photoURL"),
		UsernameUpdateCount: docInt(doc.Data, "usernameUpdateCount"),
		LastUsernameUpdate:  docTime(doc.Data, "lastUsernameUpdate"),
	}
}
