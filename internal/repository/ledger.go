package repository

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
)

// ledgerEntry описывает одну запись журнала движения средств.
// Записи только добавляются и никогда не изменяются; вставка выполняется
// в той же транзакции, что и мутация баланса, которую она документирует,
// поэтому откат согласованно отбрасывает обе.
type ledgerEntry struct {
	UserID  int64
	Field   string
	Delta   int64
	Before  int64
	After   int64
	Memo    string
	BizType string
	BizID   string
}

func insertMoneyLog(ctx context.Context, tx pgx.Tx, e ledgerEntry) error {
	if e.After != e.Before+e.Delta {
		// Журнал — аудиторский след, а не кэш: нарушенный инвариант
		// означает ошибку вызывающего кода и откатывает транзакцию.
		return fmt.Errorf("money log invariant violated: %d != %d + %d", e.After, e.Before, e.Delta)
	}

	_, err := tx.Exec(ctx,
		`INSERT INTO money_logs (user_id, field, delta, before_amount, after_amount, memo, biz_type, biz_id)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		e.UserID, e.Field, e.Delta, e.Before, e.After, e.Memo, e.BizType, e.BizID,
	)
	if err != nil {
		return fmt.Errorf("insert money log: %w", err)
	}
	return nil
}

func insertActivityLog(ctx context.Context, tx pgx.Tx, userID int64, action, before, after string, extra []byte) error {
	_, err := tx.Exec(ctx,
		`INSERT INTO activity_logs (user_id, action, before_value, after_value, extra)
		 VALUES ($1, $2, $3, $4, $5)`,
		userID, action, before, after, extra,
	)
	if err != nil {
		return fmt.Errorf("insert activity log: %w", err)
	}
	return nil
}
