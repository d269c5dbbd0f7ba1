package store

import (
	"database/sql"
	"fmt"
)

// RecordTradeIntent inserts a new trade with status='pending'. Returns the
// trade id. A later call to ConfirmTrade with the same id promotes it;
// attempting to record a second intent for the same (position_id, side,
// intent_ts) combination that is still pending is rejected by the caller
// before this is reached (the pipeline enforces at-most-one-pending-buy).
func (s *Store) RecordTradeIntent(t *Trade) (int64, error) {
	res, err := s.db.Exec(`
		INSERT INTO trades
		(position_id, side, token_mint, amount_sol, amount_token, price, ts, status, pool_id, intent_ts)
		VALUES (?, ?, ?, ?, ?, ?, ?, 'pending', ?, ?)`,
		t.PositionID, t.Side, t.TokenMint, t.AmountSOL, t.AmountToken, t.Price, t.TS, t.PoolID, t.IntentTS)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

// ConfirmTrade promotes a pending trade to confirmed, recording its final
// amounts, signature, and confirmation time. Replaying against an already
// non-pending trade is rejected.
func (s *Store) ConfirmTrade(id int64, amountSOL float64, amountToken uint64, price float64, txSignature string, confirmedTS int64) error {
	res, err := s.db.Exec(`
		UPDATE trades SET status = 'confirmed', amount_sol = ?, amount_token = ?, price = ?,
		                   tx_signature = ?, confirmed_ts = ?
		WHERE id = ? AND status = 'pending'`,
		amountSOL, amountToken, price, txSignature, confirmedTS, id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("trade %d is not pending, cannot confirm", id)
	}
	return nil
}

// FailTrade marks a pending trade as failed with an error message.
func (s *Store) FailTrade(id int64, errMsg string) error {
	_, err := s.db.Exec(`UPDATE trades SET status = 'failed', error_message = ? WHERE id = ? AND status = 'pending'`, errMsg, id)
	return err
}

// GetTrade fetches a trade by id.
func (s *Store) GetTrade(id int64) (*Trade, error) {
	row := s.db.QueryRow(`
		SELECT id, position_id, side, token_mint, amount_sol, amount_token, price, ts,
		       tx_signature, status, pool_id, intent_ts, confirmed_ts, error_message
		FROM trades WHERE id = ?`, id)
	return scanTrade(row)
}

// GetRecentTrades returns the most recent trades, newest first.
func (s *Store) GetRecentTrades(limit int) ([]*Trade, error) {
	rows, err := s.db.Query(`
		SELECT id, position_id, side, token_mint, amount_sol, amount_token, price, ts,
		       tx_signature, status, pool_id, intent_ts, confirmed_ts, error_message
		FROM trades ORDER BY ts DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var trades []*Trade
	for rows.Next() {
		t, err := scanTradeRows(rows)
		if err != nil {
			return nil, err
		}
		trades = append(trades, t)
	}
	return trades, rows.Err()
}

func scanTrade(row *sql.Row) (*Trade, error) {
	t, err := scanTradeRows(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return t, err
}

func scanTradeRows(row rowScanner) (*Trade, error) {
	var t Trade
	if err := row.Scan(
		&t.ID, &t.PositionID, &t.Side, &t.TokenMint, &t.AmountSOL, &t.AmountToken, &t.Price, &t.TS,
		&t.TxSignature, &t.Status, &t.PoolID, &t.IntentTS, &t.ConfirmedTS, &t.ErrorMessage,
	); err != nil {
		return nil, err
	}
	return &t, nil
}
