package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/papertrader-engine/internal/domain"
	"github.com/shopspring/decimal"
)

// CreateBot inserts a new bot row.
func (s *Store) CreateBot(ctx context.Context, b *domain.Bot) error {
	if s.db == nil {
		return fmt.Errorf("storage: no database configured")
	}
	_, err := s.db.ExecWithMetrics(ctx, `
		INSERT INTO bots (id, name, role, symbols, status, strategy_id, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7)`,
		b.ID, b.Name, string(b.Role), pq.Array(b.Symbols), string(b.Status), b.StrategyID, b.CreatedAt,
	)
	return err
}

// UpdateBot overwrites a bot's mutable fields (name, role, symbols, strategy).
func (s *Store) UpdateBot(ctx context.Context, b *domain.Bot) error {
	if s.db == nil {
		return fmt.Errorf("storage: no database configured")
	}
	res, err := s.db.ExecWithMetrics(ctx, `
		UPDATE bots SET name = $1, role = $2, symbols = $3, strategy_id = $4 WHERE id = $5`,
		b.Name, string(b.Role), pq.Array(b.Symbols), b.StrategyID, b.ID,
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

// DeleteBot removes a bot row.
func (s *Store) DeleteBot(ctx context.Context, id uuid.UUID) error {
	if s.db == nil {
		return fmt.Errorf("storage: no database configured")
	}
	_, err := s.db.ExecWithMetrics(ctx, `DELETE FROM bots WHERE id = $1`, id)
	return err
}

const botColumns = `id, name, role, symbols, status, last_error, last_action, last_action_at,
	last_run_at, strategy_id, total_trades, total_pnl, win_rate, used_capital, created_at`

// GetBot fetches a single bot by id.
func (s *Store) GetBot(ctx context.Context, id uuid.UUID) (*domain.Bot, error) {
	if s.db == nil {
		return nil, sql.ErrNoRows
	}
	row := s.db.QueryRowContext(ctx, `SELECT `+botColumns+` FROM bots WHERE id = $1`, id)
	return scanBot(row)
}

// ListBots returns every registered bot, oldest first.
func (s *Store) ListBots(ctx context.Context) ([]*domain.Bot, error) {
	if s.db == nil {
		return nil, nil
	}
	rows, err := s.db.QueryContext(ctx, `SELECT `+botColumns+` FROM bots ORDER BY created_at ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*domain.Bot
	for rows.Next() {
		bot, err := scanBot(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, bot)
	}
	return out, rows.Err()
}

// rowScanner is satisfied by both *sql.Row and *sql.Rows, letting the
// scan helpers in this package serve single-row and list queries alike.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanBot(row rowScanner) (*domain.Bot, error) {
	var (
		bot                             domain.Bot
		role, status                    string
		lastError, lastAction           sql.NullString
		lastActionAt, lastRunAt         sql.NullTime
		symbols                         []string
		totalPnL, winRate, usedCapital  string
	)
	if err := row.Scan(
		&bot.ID, &bot.Name, &role, pq.Array(&symbols), &status, &lastError, &lastAction, &lastActionAt,
		&lastRunAt, &bot.StrategyID, &bot.TotalTrades, &totalPnL, &winRate, &usedCapital, &bot.CreatedAt,
	); err != nil {
		return nil, err
	}
	bot.Role = domain.Role(role)
	bot.Status = domain.BotStatus(status)
	bot.LastError = lastError.String
	bot.LastAction = lastAction.String
	if lastActionAt.Valid {
		bot.LastActionAt = lastActionAt.Time
	}
	if lastRunAt.Valid {
		bot.LastRunAt = lastRunAt.Time
	}
	bot.Symbols = symbols
	bot.TotalPnL = parseDecimal(totalPnL)
	bot.WinRate = parseDecimal(winRate)
	bot.UsedCapital = parseDecimal(usedCapital)
	return &bot, nil
}

// UpdateBotStats adds a trade-count and pnl delta onto the bot row. No
// code path in this module calls it; executing a signal does not update
// the bot's totals.
func (s *Store) UpdateBotStats(ctx context.Context, botID uuid.UUID, tradeDelta int, pnlDelta decimal.Decimal) error {
	if s.db == nil {
		return nil
	}
	_, err := s.db.ExecWithMetrics(ctx, `
		UPDATE bots SET total_trades = total_trades + $1, total_pnl = total_pnl + $2, last_action_at = $3
		WHERE id = $4`,
		tradeDelta, pnlDelta.String(), time.Now(), botID,
	)
	return err
}
