package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/warp/leave-engine/generic"
)

// =============================================================================
// TRANSACTION STORE (generic.Store interface)
// =============================================================================

const transactionColumns = `id, tenant_id, entity_id, resource_id, year, tx_type, delta_value, delta_unit,
	effective_at, reference_id, reason, idempotency_key, metadata_json, created_by, created_at`

// Append adds a transaction to the ledger.
func (s *Store) Append(ctx context.Context, tx generic.Transaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.appendTx(ctx, s.db, tx)
}

func (s *Store) appendTx(ctx context.Context, db execer, tx generic.Transaction) error {
	metadataJSON, err := json.Marshal(tx.Metadata)
	if err != nil {
		return fmt.Errorf("failed to encode metadata: %w", err)
	}
	createdAt := tx.CreatedAt
	if createdAt.IsZero() {
		createdAt = generic.Today()
	}

	query := `INSERT INTO transactions (` + transactionColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	_, err = db.ExecContext(ctx, query,
		string(tx.ID),
		tx.Key.TenantID,
		string(tx.Key.EntityID),
		tx.Key.ResourceID,
		tx.Key.Year,
		string(tx.Type),
		tx.Delta.Value.String(),
		string(tx.Delta.Unit),
		formatDate(tx.EffectiveAt),
		nullString(tx.ReferenceID),
		nullString(tx.Reason),
		nullString(tx.IdempotencyKey),
		string(metadataJSON),
		nullString(tx.CreatedBy),
		formatTime(createdAt.Time),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return generic.ErrDuplicateIdempotencyKey
		}
		return fmt.Errorf("failed to append transaction: %w", err)
	}
	return nil
}

// AppendBatch adds multiple transactions atomically.
func (s *Store) AppendBatch(ctx context.Context, txs []generic.Transaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	seen := make(map[string]bool)
	for _, tx := range txs {
		if tx.IdempotencyKey == "" {
			continue
		}
		if seen[tx.IdempotencyKey] {
			return generic.ErrDuplicateIdempotencyKey
		}
		seen[tx.IdempotencyKey] = true
	}

	return s.withTx(ctx, func(sqlTx *sql.Tx) error {
		for _, tx := range txs {
			if err := s.appendTx(ctx, sqlTx, tx); err != nil {
				return err
			}
		}
		return nil
	})
}

// Load returns the transactions of one balance row in append order.
func (s *Store) Load(ctx context.Context, key generic.BalanceKey) ([]generic.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.load(ctx, s.db, key)
}

func (s *Store) load(ctx context.Context, db querier, key generic.BalanceKey) ([]generic.Transaction, error) {
	query := `SELECT ` + transactionColumns + `
		FROM transactions
		WHERE tenant_id = ? AND entity_id = ? AND resource_id = ? AND year = ?
		ORDER BY seq ASC`

	return queryTransactions(ctx, db, query, key.TenantID, string(key.EntityID), key.ResourceID, key.Year)
}

// Keys returns every balance row of a tenant and year.
func (s *Store) Keys(ctx context.Context, tenantID string, year int) ([]generic.BalanceKey, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.keys(ctx, s.db, tenantID, year)
}

func (s *Store) keys(ctx context.Context, db querier, tenantID string, year int) ([]generic.BalanceKey, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT DISTINCT entity_id, resource_id
		FROM transactions
		WHERE tenant_id = ? AND year = ?
		ORDER BY entity_id, resource_id`, tenantID, year)
	if err != nil {
		return nil, fmt.Errorf("failed to query balance keys: %w", err)
	}
	defer rows.Close()

	var keys []generic.BalanceKey
	for rows.Next() {
		var entityID, resourceID string
		if err := rows.Scan(&entityID, &resourceID); err != nil {
			return nil, fmt.Errorf("failed to scan balance key: %w", err)
		}
		keys = append(keys, generic.BalanceKey{
			TenantID:   tenantID,
			EntityID:   generic.EntityID(entityID),
			ResourceID: resourceID,
			Year:       year,
		})
	}
	return keys, rows.Err()
}

// Exists checks if an idempotency key exists.
func (s *Store) Exists(ctx context.Context, idempotencyKey string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.exists(ctx, s.db, idempotencyKey)
}

func (s *Store) exists(ctx context.Context, db querier, idempotencyKey string) (bool, error) {
	var count int
	err := db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM transactions WHERE idempotency_key = ?",
		idempotencyKey,
	).Scan(&count)

	return count > 0, err
}

func queryTransactions(ctx context.Context, db querier, query string, args ...any) ([]generic.Transaction, error) {
	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query transactions: %w", err)
	}
	defer rows.Close()

	var transactions []generic.Transaction
	for rows.Next() {
		tx, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		transactions = append(transactions, tx)
	}
	return transactions, rows.Err()
}

func scanTransaction(rows *sql.Rows) (generic.Transaction, error) {
	var (
		tx             generic.Transaction
		id             string
		entityID       string
		txType         string
		deltaValue     string
		deltaUnit      string
		effectiveAt    string
		referenceID    sql.NullString
		reason         sql.NullString
		idempotencyKey sql.NullString
		metadataJSON   sql.NullString
		createdBy      sql.NullString
		createdAt      string
	)

	err := rows.Scan(
		&id, &tx.Key.TenantID, &entityID, &tx.Key.ResourceID, &tx.Key.Year,
		&txType, &deltaValue, &deltaUnit, &effectiveAt,
		&referenceID, &reason, &idempotencyKey, &metadataJSON, &createdBy, &createdAt,
	)
	if err != nil {
		return tx, fmt.Errorf("failed to scan transaction: %w", err)
	}

	tx.ID = generic.TransactionID(id)
	tx.Key.EntityID = generic.EntityID(entityID)
	tx.Type = generic.TransactionType(txType)
	tx.Delta = generic.NewAmountFromDecimal(generic.MustParseDecimal(deltaValue), generic.Unit(deltaUnit))
	tx.EffectiveAt = parseDate(effectiveAt)
	tx.ReferenceID = referenceID.String
	tx.Reason = reason.String
	tx.IdempotencyKey = idempotencyKey.String
	tx.CreatedBy = createdBy.String
	tx.CreatedAt = generic.TimePoint{Time: parseTime(createdAt)}

	if metadataJSON.Valid && metadataJSON.String != "" && metadataJSON.String != "null" {
		if err := json.Unmarshal([]byte(metadataJSON.String), &tx.Metadata); err != nil {
			return tx, fmt.Errorf("failed to decode metadata of %s: %w", id, err)
		}
	}
	return tx, nil
}
