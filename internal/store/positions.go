package store

import "database/sql"

// InsertPosition inserts a new open position and returns its id.
func (s *Store) InsertPosition(p *Position) (int64, error) {
	res, err := s.db.Exec(`
		INSERT INTO positions
		(token_mint, bonding_curve_pda, associated_curve, creator, intended_sol, entry_price, amount_token, amount_sol, entry_ts, pool_id, status, take_profit_sol, stop_loss_sol)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 'open', ?, ?)`,
		p.TokenMint, p.BondingCurvePDA, p.AssociatedCurve, p.Creator, p.IntendedSOL, p.EntryPrice, p.AmountToken, p.AmountSOL, p.EntryTS, p.PoolID, p.TakeProfitSOL, p.StopLossSOL)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

const positionColumns = `id, token_mint, bonding_curve_pda, associated_curve, creator, intended_sol, entry_price, amount_token, amount_sol, entry_ts, pool_id, status,
	       closed_ts, closed_reason, realized_sol, take_profit_sol, stop_loss_sol, last_price_sol, last_check_ts`

// GetOpenPosition returns the open position for a mint, or nil if none.
func (s *Store) GetOpenPosition(tokenMint string) (*Position, error) {
	row := s.db.QueryRow(`SELECT `+positionColumns+`
		FROM positions WHERE token_mint = ? AND status = 'open'`, tokenMint)
	return scanPosition(row)
}

// GetAllOpenPositions returns every position with status='open'.
func (s *Store) GetAllOpenPositions() ([]*Position, error) {
	rows, err := s.db.Query(`SELECT ` + positionColumns + `
		FROM positions WHERE status = 'open'`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var positions []*Position
	for rows.Next() {
		p, err := scanPositionRows(rows)
		if err != nil {
			return nil, err
		}
		positions = append(positions, p)
	}
	return positions, rows.Err()
}

// UpdatePositionMonitorState updates the last observed price/check time.
func (s *Store) UpdatePositionMonitorState(id int64, lastPriceSOL float64, lastCheckTS int64) error {
	_, err := s.db.Exec(`UPDATE positions SET last_price_sol = ?, last_check_ts = ? WHERE id = ?`,
		lastPriceSOL, lastCheckTS, id)
	return err
}

// ClosePosition marks a position closed with a reason, timestamp, and the
// realized SOL proceeds (0 for triggers that close without a sell, e.g.
// sell_abandoned).
func (s *Store) ClosePosition(id int64, closedTS int64, reason string, realizedSOL float64) error {
	_, err := s.db.Exec(`UPDATE positions SET status = 'closed', closed_ts = ?, closed_reason = ?, realized_sol = ? WHERE id = ?`,
		closedTS, reason, realizedSOL, id)
	return err
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanPosition(row *sql.Row) (*Position, error) {
	p, err := scanPositionRows(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return p, err
}

func scanPositionRows(row rowScanner) (*Position, error) {
	var p Position
	if err := row.Scan(
		&p.ID, &p.TokenMint, &p.BondingCurvePDA, &p.AssociatedCurve, &p.Creator, &p.IntendedSOL, &p.EntryPrice, &p.AmountToken, &p.AmountSOL, &p.EntryTS, &p.PoolID, &p.Status,
		&p.ClosedTS, &p.ClosedReason, &p.RealizedSOL, &p.TakeProfitSOL, &p.StopLossSOL, &p.LastPriceSOL, &p.LastCheckTS,
	); err != nil {
		return nil, err
	}
	return &p, nil
}
