package storage

import (
	"context"
	"database/sql"
	"encoding/json"

	"github.com/google/uuid"
	"github.com/papertrader-engine/internal/domain"
)

// GetSignal fetches one signal by id.
func (s *Store) GetSignal(ctx context.Context, id uuid.UUID) (*domain.Signal, error) {
	if s.db == nil {
		return nil, sql.ErrNoRows
	}
	row := s.db.QueryRowContext(ctx, `
		SELECT id, bot_id, strategy_id, symbol, exchange, type, composite_score, gates,
		       rationale, status, entry_price, position_size, outcome_tag,
		       created_at, executed_at, closed_at, expires_at
		FROM signals WHERE id = $1`, id)
	return scanSignal(row)
}

// ListSignals returns signals newest-first, optionally filtered by status,
// paged with limit/offset.
func (s *Store) ListSignals(ctx context.Context, status domain.SignalStatus, limit, offset int) ([]*domain.Signal, error) {
	if s.db == nil {
		return nil, nil
	}
	if limit <= 0 {
		limit = 50
	}

	var rows *sql.Rows
	var err error
	if status == "" {
		rows, err = s.db.QueryContext(ctx, `
			SELECT id, bot_id, strategy_id, symbol, exchange, type, composite_score, gates,
			       rationale, status, entry_price, position_size, outcome_tag,
			       created_at, executed_at, closed_at, expires_at
			FROM signals ORDER BY created_at DESC LIMIT $1 OFFSET $2`, limit, offset)
	} else {
		rows, err = s.db.QueryContext(ctx, `
			SELECT id, bot_id, strategy_id, symbol, exchange, type, composite_score, gates,
			       rationale, status, entry_price, position_size, outcome_tag,
			       created_at, executed_at, closed_at, expires_at
			FROM signals WHERE status = $1 ORDER BY created_at DESC LIMIT $2 OFFSET $3`, string(status), limit, offset)
	}
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*domain.Signal
	for rows.Next() {
		sig, err := scanSignal(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, sig)
	}
	return out, rows.Err()
}

// UpdateSignalStatus transitions a signal's status, used by the execute
// and reject HTTP handlers. Returns sql.ErrNoRows if the signal does not
// exist or is not currently PENDING.
func (s *Store) UpdateSignalStatus(ctx context.Context, id uuid.UUID, from, to domain.SignalStatus) error {
	if s.db == nil {
		return sql.ErrNoRows
	}
	res, err := s.db.ExecWithMetrics(ctx, `
		UPDATE signals SET status = $1 WHERE id = $2 AND status = $3`,
		string(to), id, string(from),
	)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// ListBotMessages returns a bot's audit trail, newest first, paged.
func (s *Store) ListBotMessages(ctx context.Context, botID uuid.UUID, limit, offset int) ([]*domain.BotMessage, error) {
	if s.db == nil {
		return nil, nil
	}
	if limit <= 0 {
		limit = 50
	}

	var rows *sql.Rows
	var err error
	if botID == uuid.Nil {
		rows, err = s.db.QueryContext(ctx, `
			SELECT id, bot_id, type, text, metadata, created_at
			FROM bot_messages ORDER BY created_at DESC LIMIT $1 OFFSET $2`, limit, offset)
	} else {
		rows, err = s.db.QueryContext(ctx, `
			SELECT id, bot_id, type, text, metadata, created_at
			FROM bot_messages WHERE bot_id = $1 ORDER BY created_at DESC LIMIT $2 OFFSET $3`, botID, limit, offset)
	}
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*domain.BotMessage
	for rows.Next() {
		var (
			m        domain.BotMessage
			msgType  string
			metadata []byte
		)
		if err := rows.Scan(&m.ID, &m.BotID, &msgType, &m.Text, &metadata, &m.CreatedAt); err != nil {
			return nil, err
		}
		m.Type = domain.BotMessageType(msgType)
		if len(metadata) > 0 {
			_ = json.Unmarshal(metadata, &m.Metadata)
		}
		out = append(out, &m)
	}
	return out, rows.Err()
}
