package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// CreateCheckpoint copies all mutable state into the checkpoint tables and
// returns the new checkpoint id. Ids increase monotonically and are never
// reused.
func (s *Store) CreateCheckpoint(ctx context.Context) (int64, error) {
	var id int64
	err := s.WithTx(ctx, func(tx *Tx) error {
		block, err := tx.BlockNumber(ctx)
		if err != nil {
			return err
		}

		res, err := tx.q.ExecContext(ctx,
			`INSERT INTO checkpoints (block_number) VALUES (?)`, int64(block))
		if err != nil {
			return fmt.Errorf("insert checkpoint: %w", err)
		}
		id, err = res.LastInsertId()
		if err != nil {
			return fmt.Errorf("checkpoint id: %w", err)
		}

		copies := []string{
			`INSERT INTO checkpoint_accounts (checkpoint_id, address, balance, nonce)
			 SELECT ?, address, balance, nonce FROM accounts`,
			`INSERT INTO checkpoint_slots (checkpoint_id, contract, slot, value)
			 SELECT ?, contract, slot, value FROM storage_slots`,
			`INSERT INTO checkpoint_impersonations (checkpoint_id, address, token)
			 SELECT ?, address, token FROM impersonations`,
		}
		for _, q := range copies {
			if _, err := tx.q.ExecContext(ctx, q, id); err != nil {
				return fmt.Errorf("copy checkpoint state: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("create checkpoint: %w", err)
	}
	return id, nil
}

// RestoreCheckpoint replaces all mutable state with the copy taken by
// checkpoint id, then discards that checkpoint and every later one.
// Returns ErrNotFound if id is unknown or was already discarded.
func (s *Store) RestoreCheckpoint(ctx context.Context, id int64) error {
	err := s.WithTx(ctx, func(tx *Tx) error {
		var block int64
		err := tx.q.QueryRowContext(ctx,
			`SELECT block_number FROM checkpoints WHERE id = ?`, id,
		).Scan(&block)
		if errors.Is(err, sql.ErrNoRows) {
			return ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("read checkpoint: %w", err)
		}

		stmts := []struct {
			query string
			args  []any
		}{
			{`DELETE FROM accounts`, nil},
			{`INSERT INTO accounts (address, balance, nonce)
			  SELECT address, balance, nonce FROM checkpoint_accounts WHERE checkpoint_id = ?`, []any{id}},
			{`DELETE FROM storage_slots`, nil},
			{`INSERT INTO storage_slots (contract, slot, value)
			  SELECT contract, slot, value FROM checkpoint_slots WHERE checkpoint_id = ?`, []any{id}},
			{`DELETE FROM impersonations`, nil},
			{`INSERT INTO impersonations (address, token)
			  SELECT address, token FROM checkpoint_impersonations WHERE checkpoint_id = ?`, []any{id}},
			{`INSERT INTO chain_meta (key, value) VALUES (?, ?)
			  ON CONFLICT(key) DO UPDATE SET value = excluded.value`, []any{metaBlockNumber, block}},
			// Copy tables are cleared explicitly so discarding does not
			// depend on the foreign_keys pragma of the connection.
			{`DELETE FROM checkpoint_accounts WHERE checkpoint_id >= ?`, []any{id}},
			{`DELETE FROM checkpoint_slots WHERE checkpoint_id >= ?`, []any{id}},
			{`DELETE FROM checkpoint_impersonations WHERE checkpoint_id >= ?`, []any{id}},
			{`DELETE FROM checkpoints WHERE id >= ?`, []any{id}},
		}
		for _, st := range stmts {
			if _, err := tx.q.ExecContext(ctx, st.query, st.args...); err != nil {
				return fmt.Errorf("restore checkpoint: %w", err)
			}
		}
		return nil
	})
	if errors.Is(err, ErrNotFound) {
		return ErrNotFound
	}
	return err
}

// CheckpointIDs returns the live checkpoint ids in ascending order.
func (s *Store) CheckpointIDs(ctx context.Context) ([]int64, error) {
	rows, err := s.q.QueryContext(ctx, `SELECT id FROM checkpoints ORDER BY id ASC`)
	if err != nil {
		return nil, fmt.Errorf("list checkpoints: %w", err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("list checkpoints: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
