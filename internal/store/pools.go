package store

import (
	"database/sql"
	"encoding/json"
)

// RecordSeenPool inserts a dedup row for a detected pool. Never reprocessed
// once recorded; callers check HasSeenPool first.
func (s *Store) RecordSeenPool(p *SeenPool) error {
	_, err := s.db.Exec(`
		INSERT OR IGNORE INTO seen_pools (pool_id, token_mint, first_seen, action_taken, filter_reason)
		VALUES (?, ?, ?, ?, ?)`,
		p.PoolID, p.TokenMint, p.FirstSeen, p.ActionTaken, p.FilterReason)
	return err
}

// HasSeenPool reports whether pool_id already has a seen_pools row.
func (s *Store) HasSeenPool(poolID string) (bool, error) {
	var exists int
	err := s.db.QueryRow(`SELECT 1 FROM seen_pools WHERE pool_id = ?`, poolID).Scan(&exists)
	if err == sql.ErrNoRows {
		return false, nil
	}
	return err == nil, err
}

// InsertBlacklistEntry adds an address to the blacklist table.
func (s *Store) InsertBlacklistEntry(e *BlacklistEntry) error {
	_, err := s.db.Exec(`
		INSERT OR REPLACE INTO blacklist (address, type, reason, added_ts)
		VALUES (?, ?, ?, ?)`,
		e.Address, e.Type, e.Reason, e.AddedTS)
	return err
}

// GetAllBlacklistEntries loads the full blacklist, used to populate the
// in-memory mirror at startup.
func (s *Store) GetAllBlacklistEntries() ([]*BlacklistEntry, error) {
	rows, err := s.db.Query(`SELECT address, type, reason, added_ts FROM blacklist`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []*BlacklistEntry
	for rows.Next() {
		var e BlacklistEntry
		if err := rows.Scan(&e.Address, &e.Type, &e.Reason, &e.AddedTS); err != nil {
			return nil, err
		}
		entries = append(entries, &e)
	}
	return entries, rows.Err()
}

// InsertPoolDetection records one pipeline detection-log row.
func (s *Store) InsertPoolDetection(d *PoolDetection) (int64, error) {
	res, err := s.db.Exec(`
		INSERT INTO pool_detections
		(pool_id, token_mint, detected_at, action, filter_results, risk_check_passed, risk_check_reason, pool_quote_reserve, summary)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		d.PoolID, d.TokenMint, d.DetectedAt, d.Action, string(d.FilterResults), d.RiskCheckPassed, d.RiskCheckReason, d.PoolQuoteReserve, d.Summary)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

// GetPoolDetections returns detections filtered by action (empty = any) and
// time range, most recent first, bounded by limit/offset for pagination.
func (s *Store) GetPoolDetections(action string, sinceMS, untilMS int64, limit, offset int) ([]*PoolDetection, error) {
	query := `
		SELECT id, pool_id, token_mint, detected_at, action, filter_results, risk_check_passed, risk_check_reason, pool_quote_reserve, summary
		FROM pool_detections WHERE detected_at >= ? AND detected_at <= ?`
	args := []interface{}{sinceMS, untilMS}
	if action != "" {
		query += " AND action = ?"
		args = append(args, action)
	}
	query += " ORDER BY detected_at DESC LIMIT ? OFFSET ?"
	args = append(args, limit, offset)

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var detections []*PoolDetection
	for rows.Next() {
		var d PoolDetection
		var filterResults string
		if err := rows.Scan(&d.ID, &d.PoolID, &d.TokenMint, &d.DetectedAt, &d.Action, &filterResults,
			&d.RiskCheckPassed, &d.RiskCheckReason, &d.PoolQuoteReserve, &d.Summary); err != nil {
			return nil, err
		}
		d.FilterResults = json.RawMessage(filterResults)
		detections = append(detections, &d)
	}
	return detections, rows.Err()
}
