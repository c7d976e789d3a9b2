// Package normalize shapes raw provider records into the canonical model.
// The pipeline is a pure function of its input: re-running it on identical
// input yields an identical result, which is what makes re-syncs and dedup
// safe.
package normalize

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/bankline-io/bankline-worker/internal/models"
	"github.com/bankline-io/bankline-worker/internal/provider"
)

// ValidationError marks a malformed provider record. The record is skipped
// and the rest of the batch continues.
type ValidationError struct {
	ExternalID string
	Reason     string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid record %q: %s", e.ExternalID, e.Reason)
}

// Key derives the idempotency key for a transaction from the owning account id
// and the provider-assigned external id. Deterministic, never random.
func Key(accountID, externalID string) string {
	h := sha256.Sum256([]byte(accountID + "\x00" + externalID))
	return hex.EncodeToString(h[:])
}

// Transaction normalizes one raw provider transaction into the canonical
// model. Steps, in order: sign normalization, amount parsing into fixed-point,
// category assignment (rule table first, amount-sign heuristic second, nil
// last), idempotency-key derivation. The row ID is left empty; the persistence
// layer assigns it on first insert only.
func Transaction(raw provider.RawTransaction, accountID, tenantID string) (models.Transaction, error) {
	if raw.ExternalID == "" {
		return models.Transaction{}, &ValidationError{Reason: "missing external id"}
	}
	if raw.Date.IsZero() {
		return models.Transaction{}, &ValidationError{ExternalID: raw.ExternalID, Reason: "missing or unparseable date"}
	}
	if raw.Currency == "" {
		return models.Transaction{}, &ValidationError{ExternalID: raw.ExternalID, Reason: "missing currency"}
	}

	amount, err := parseAmount(raw)
	if err != nil {
		return models.Transaction{}, err
	}

	if signInverted[raw.Provider] {
		amount = amount.Neg()
	}

	txn := models.Transaction{
		AccountID:      accountID,
		TenantID:       tenantID,
		IdempotencyKey: Key(accountID, raw.ExternalID),
		Amount:         amount,
		Currency:       raw.Currency,
		Date:           raw.Date.UTC(),
		Description:    raw.Description,
		Status:         models.TransactionPosted,
		Metadata: models.JSONB{
			"provider":    string(raw.Provider),
			"external_id": raw.ExternalID,
		},
	}
	if raw.Pending {
		txn.Status = models.TransactionPending
	}

	category, source := categorize(raw, amount)
	if category != "" {
		txn.Category = &category
		txn.CategorySource = &source
	}

	return txn, nil
}

// Account normalizes one raw provider account into the canonical model
func Account(raw provider.RawAccount, connectionID, tenantID string) (models.Account, error) {
	if raw.ExternalID == "" {
		return models.Account{}, &ValidationError{Reason: "missing external account id"}
	}

	balance := decimal.Zero
	switch {
	case raw.BalanceMinor != nil:
		balance = decimal.New(*raw.BalanceMinor, minorUnitExponent)
	case raw.Balance != "":
		var err error
		balance, err = decimal.NewFromString(raw.Balance)
		if err != nil {
			return models.Account{}, &ValidationError{ExternalID: raw.ExternalID, Reason: fmt.Sprintf("unparseable balance %q", raw.Balance)}
		}
	}

	return models.Account{
		ConnectionID: connectionID,
		TenantID:     tenantID,
		ExternalID:   raw.ExternalID,
		Name:         raw.Name,
		Currency:     raw.Currency,
		Type:         accountType(raw.Type),
		Balance:      balance,
	}, nil
}

// parseAmount parses the raw amount into a fixed-point decimal
func parseAmount(raw provider.RawTransaction) (decimal.Decimal, error) {
	if raw.AmountMinor != nil {
		return decimal.New(*raw.AmountMinor, minorUnitExponent), nil
	}
	if raw.Amount == "" {
		return decimal.Zero, &ValidationError{ExternalID: raw.ExternalID, Reason: "missing amount"}
	}
	amount, err := decimal.NewFromString(raw.Amount)
	if err != nil {
		return decimal.Zero, &ValidationError{ExternalID: raw.ExternalID, Reason: fmt.Sprintf("unparseable amount %q", raw.Amount)}
	}
	return amount, nil
}

// categorize assigns a category and its provenance. Explicit provider rule
// mappings are strictly higher priority than the amount-sign heuristic. When
// neither applies the category stays empty: an unclassified transaction is a
// valid outcome, deferred to user classification.
func categorize(raw provider.RawTransaction, canonicalAmount decimal.Decimal) (string, models.CategorySource) {
	if raw.CategoryCode != "" {
		if category, ok := categoryRules[raw.Provider][raw.CategoryCode]; ok {
			return category, models.CategoryByRule
		}
	}
	if canonicalAmount.IsPositive() {
		return heuristicCategory, models.CategoryByHeuristic
	}
	return "", ""
}

// accountType maps provider-native account types to the canonical set
func accountType(t string) string {
	switch t {
	case "checking", "savings", "depository", "current":
		return "depository"
	case "credit", "credit_card", "card":
		return "credit"
	case "loan", "mortgage":
		return "loan"
	default:
		return "other"
	}
}
