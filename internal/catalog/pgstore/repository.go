package pgstore

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/FoilMiser/dataset-collector/internal/catalog"
)

// UpsertCatalogRun mirrors a completed run's catalog document, replacing
// any prior row for the same run_id.
func (s *Store) UpsertCatalogRun(ctx context.Context, cat catalog.Catalog) error {
	stages, err := json.Marshal(cat.Stages)
	if err != nil {
		return fmt.Errorf("pgstore: marshal stages: %w", err)
	}
	pools, err := json.Marshal(cat.Pools)
	if err != nil {
		return fmt.Errorf("pgstore: marshal pools: %w", err)
	}
	ledgers, err := json.Marshal(cat.Ledgers)
	if err != nil {
		return fmt.Errorf("pgstore: marshal ledgers: %w", err)
	}
	failedTargets, err := json.Marshal(cat.FailedTargets)
	if err != nil {
		return fmt.Errorf("pgstore: marshal failed_targets: %w", err)
	}

	const query = `
		INSERT INTO catalog_runs (
			run_id, written_at_utc, tool_version, policy_snapshot_hash,
			stages, pools, ledgers, failed_targets
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (run_id) DO UPDATE SET
			written_at_utc = EXCLUDED.written_at_utc,
			tool_version = EXCLUDED.tool_version,
			policy_snapshot_hash = EXCLUDED.policy_snapshot_hash,
			stages = EXCLUDED.stages,
			pools = EXCLUDED.pools,
			ledgers = EXCLUDED.ledgers,
			failed_targets = EXCLUDED.failed_targets`

	if _, err := s.pool.Exec(ctx, query,
		cat.RunID, cat.WrittenAtUTC, cat.ToolVersion, cat.PolicySnapshotHash,
		stages, pools, ledgers, failedTargets,
	); err != nil {
		return fmt.Errorf("pgstore: upsert catalog_runs: %w", err)
	}
	return nil
}

// GetCatalogRun fetches one mirrored run by run_id.
func (s *Store) GetCatalogRun(ctx context.Context, runID string) (catalog.Catalog, error) {
	const query = `
		SELECT run_id, written_at_utc, tool_version, policy_snapshot_hash, stages, pools, ledgers, failed_targets
		FROM catalog_runs WHERE run_id = $1`

	var (
		cat                                    catalog.Catalog
		stages, pools, ledgers, failedTargets []byte
	)
	err := s.pool.QueryRow(ctx, query, runID).Scan(
		&cat.RunID, &cat.WrittenAtUTC, &cat.ToolVersion, &cat.PolicySnapshotHash,
		&stages, &pools, &ledgers, &failedTargets,
	)
	if err != nil {
		if err == pgx.ErrNoRows {
			return catalog.Catalog{}, fmt.Errorf("pgstore: catalog run %q not found", runID)
		}
		return catalog.Catalog{}, fmt.Errorf("pgstore: get catalog_runs: %w", err)
	}

	if err := json.Unmarshal(stages, &cat.Stages); err != nil {
		return catalog.Catalog{}, fmt.Errorf("pgstore: unmarshal stages: %w", err)
	}
	if err := json.Unmarshal(pools, &cat.Pools); err != nil {
		return catalog.Catalog{}, fmt.Errorf("pgstore: unmarshal pools: %w", err)
	}
	if err := json.Unmarshal(ledgers, &cat.Ledgers); err != nil {
		return catalog.Catalog{}, fmt.Errorf("pgstore: unmarshal ledgers: %w", err)
	}
	if err := json.Unmarshal(failedTargets, &cat.FailedTargets); err != nil {
		return catalog.Catalog{}, fmt.Errorf("pgstore: unmarshal failed_targets: %w", err)
	}
	return cat, nil
}

// LedgerRow is one auditable ledger entry mirrored alongside a run.
type LedgerRow struct {
	TargetID string
	Reason   string
	Row      json.RawMessage
}

// ReplaceLedgerRows mirrors a batch of ledger rows for runID/ledgerName,
// replacing any rows previously mirrored for that pair so a rerun over
// the same inputs doesn't accumulate duplicates.
func (s *Store) ReplaceLedgerRows(ctx context.Context, runID, ledgerName string, rows []LedgerRow) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("pgstore: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `DELETE FROM ledger_rows WHERE run_id = $1 AND ledger_name = $2`, runID, ledgerName); err != nil {
		return fmt.Errorf("pgstore: clear prior ledger_rows: %w", err)
	}

	const insert = `
		INSERT INTO ledger_rows (run_id, ledger_name, target_id, reason, row)
		VALUES ($1, $2, $3, $4, $5)`
	for _, row := range rows {
		if _, err := tx.Exec(ctx, insert, runID, ledgerName, row.TargetID, row.Reason, row.Row); err != nil {
			return fmt.Errorf("pgstore: insert ledger_rows: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("pgstore: commit tx: %w", err)
	}
	return nil
}
