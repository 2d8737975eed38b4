package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/mmeshcher/paygate-system/internal/model"
	"github.com/mmeshcher/paygate-system/internal/settle"
)

// SettlePurchase выполняет атомарный расчёт заказа на покупку.
//
// Вся последовательность «прочитать — проверить — изменить — записать в
// журнал» выполняется в одной транзакции под эксклюзивной блокировкой
// строки заказа: конкурентные попытки расчёта одной и той же ссылки
// сериализуются, и переход выполняет только первая. Возвращает
// already = true для уже рассчитанного заказа (идемпотентный no-op).
func (r *PostgresRepository) SettlePurchase(ctx context.Context, orderNo string) (already bool, err error) {
	err = r.withRetry(ctx, func() error {
		a, txErr := r.settlePurchaseTx(ctx, orderNo)
		already = a
		return txErr
	})
	return already, err
}

func (r *PostgresRepository) settlePurchaseTx(ctx context.Context, orderNo string) (bool, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return false, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	var (
		orderID int64
		userID  int64
		status  model.OrderStatus
	)
	err = tx.QueryRow(ctx,
		`SELECT id, user_id, status FROM orders WHERE order_no = $1 FOR UPDATE`,
		orderNo,
	).Scan(&orderID, &userID, &status)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return false, ErrOrderNotFound
		}
		return false, fmt.Errorf("lock order: %w", err)
	}

	var fsm settle.PurchaseMachine
	decision, err := fsm.Guard(status)
	if err != nil {
		return false, err
	}
	if decision == settle.AlreadySettled {
		return true, nil
	}

	items, err := loadOrderItems(ctx, tx, orderID)
	if err != nil {
		return false, err
	}

	// Товары блокируются в порядке возрастания идентификатора, чтобы
	// конкурентные расчёты по пересекающимся заказам не взаимоблокировались.
	products := make([]model.Product, 0, len(items))
	for _, it := range items {
		var p model.Product
		err = tx.QueryRow(ctx,
			`SELECT id, name, stock, sales, is_physical, is_card, status
			 FROM products WHERE id = $1 FOR UPDATE`,
			it.ProductID,
		).Scan(&p.ID, &p.Name, &p.Stock, &p.Sales, &p.IsPhysical, &p.IsCard, &p.Status)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return false, fmt.Errorf("%w: product %d", ErrOrderNotFound, it.ProductID)
			}
			return false, fmt.Errorf("lock product: %w", err)
		}

		if p.Stock < it.Quantity {
			return false, fmt.Errorf("%w: product %d stock %d < %d", ErrInsufficientStock, p.ID, p.Stock, it.Quantity)
		}

		newStock := p.Stock - it.Quantity
		newStatus := p.Status
		if newStock <= 0 {
			// Распроданный товар снимается с витрины в той же транзакции.
			newStatus = model.ProductStatusDelisted
		}

		_, err = tx.Exec(ctx,
			`UPDATE products SET stock = $2, sales = sales + $3, status = $4 WHERE id = $1`,
			p.ID, newStock, it.Quantity, string(newStatus),
		)
		if err != nil {
			return false, fmt.Errorf("update product: %w", err)
		}

		products = append(products, p)
	}

	final := fsm.Final(products)
	if final == model.OrderStatusCompleted {
		_, err = tx.Exec(ctx,
			`UPDATE orders SET status = $2, paid_at = now(), completed_at = now() WHERE id = $1`,
			orderID, string(final),
		)
	} else {
		_, err = tx.Exec(ctx,
			`UPDATE orders SET status = $2, paid_at = now() WHERE id = $1`,
			orderID, string(final),
		)
	}
	if err != nil {
		return false, fmt.Errorf("update order: %w", err)
	}

	extra, err := json.Marshal(map[string]any{
		"order_no": orderNo,
		"items":    items,
	})
	if err != nil {
		return false, fmt.Errorf("marshal activity extra: %w", err)
	}

	if err := insertActivityLog(ctx, tx, userID, "order_settled", string(status), string(final), extra); err != nil {
		return false, err
	}

	if err := tx.Commit(ctx); err != nil {
		return false, fmt.Errorf("commit tx: %w", err)
	}

	return false, nil
}

func loadOrderItems(ctx context.Context, tx pgx.Tx, orderID int64) ([]model.OrderItem, error) {
	rows, err := tx.Query(ctx,
		`SELECT id, order_id, product_id, name, quantity, price
		 FROM order_items WHERE order_id = $1 ORDER BY product_id`,
		orderID,
	)
	if err != nil {
		return nil, fmt.Errorf("select order items: %w", err)
	}
	defer rows.Close()

	var items []model.OrderItem
	for rows.Next() {
		var it model.OrderItem
		if err := rows.Scan(&it.ID, &it.OrderID, &it.ProductID, &it.Name, &it.Quantity, &it.PriceCents); err != nil {
			return nil, fmt.Errorf("scan order item: %w", err)
		}
		items = append(items, it)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return items, nil
}

// SettleRecharge выполняет атомарный расчёт заказа на пополнение:
// зачисляет сумму на кошелёк, начисляет бонус по ставке bonusRate
// (в процентах) и пишет журнальные записи для каждой мутации.
func (r *PostgresRepository) SettleRecharge(ctx context.Context, orderNo string, bonusRate float64) (already bool, err error) {
	err = r.withRetry(ctx, func() error {
		a, txErr := r.settleRechargeTx(ctx, orderNo, bonusRate)
		already = a
		return txErr
	})
	return already, err
}

func (r *PostgresRepository) settleRechargeTx(ctx context.Context, orderNo string, bonusRate float64) (bool, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return false, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	var (
		rechargeID int64
		userID     int64
		amount     int64
		status     int
	)
	err = tx.QueryRow(ctx,
		`SELECT id, user_id, amount, status FROM recharge_orders WHERE order_no = $1 FOR UPDATE`,
		orderNo,
	).Scan(&rechargeID, &userID, &amount, &status)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return false, ErrOrderNotFound
		}
		return false, fmt.Errorf("lock recharge order: %w", err)
	}

	var fsm settle.RechargeMachine
	decision, err := fsm.Guard(model.RechargeStatus(status))
	if err != nil {
		return false, err
	}
	if decision == settle.AlreadySettled {
		return true, nil
	}

	// Блокируем строку пользователя: зачисления по одному кошельку
	// сериализуются так же, как и сами расчёты по заказу.
	var balance, money, greenPower int64
	err = tx.QueryRow(ctx,
		`SELECT balance_available, money, green_power FROM users WHERE id = $1 FOR UPDATE`,
		userID,
	).Scan(&balance, &money, &greenPower)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return false, ErrUserNotFound
		}
		return false, fmt.Errorf("lock user: %w", err)
	}

	bonus := settle.BonusCents(amount, bonusRate)

	_, err = tx.Exec(ctx,
		`UPDATE users
		 SET balance_available = balance_available + $2,
		     money = money + $2,
		     green_power = green_power + $3
		 WHERE id = $1`,
		userID, amount, bonus,
	)
	if err != nil {
		return false, fmt.Errorf("update wallet: %w", err)
	}

	principal := ledgerEntry{
		UserID:  userID,
		Field:   model.WalletFieldBalance,
		Delta:   amount,
		Before:  balance,
		After:   balance + amount,
		Memo:    "пополнение кошелька",
		BizType: string(model.OrderTypeRecharge),
		BizID:   orderNo,
	}
	if err := insertMoneyLog(ctx, tx, principal); err != nil {
		return false, err
	}

	principalExtra, err := json.Marshal(map[string]any{"order_no": orderNo, "amount": amount})
	if err != nil {
		return false, fmt.Errorf("marshal activity extra: %w", err)
	}
	if err := insertActivityLog(ctx, tx, userID, "recharge_settled",
		fmt.Sprintf("%d", balance), fmt.Sprintf("%d", balance+amount), principalExtra); err != nil {
		return false, err
	}

	if bonus > 0 {
		// Бонус учитывается отдельной записью, не смешиваясь с основной суммой.
		entry := ledgerEntry{
			UserID:  userID,
			Field:   model.WalletFieldGreenPower,
			Delta:   bonus,
			Before:  greenPower,
			After:   greenPower + bonus,
			Memo:    "бонус за пополнение",
			BizType: "recharge_bonus",
			BizID:   orderNo,
		}
		if err := insertMoneyLog(ctx, tx, entry); err != nil {
			return false, err
		}

		bonusExtra, err := json.Marshal(map[string]any{"order_no": orderNo, "bonus": bonus, "rate": bonusRate})
		if err != nil {
			return false, fmt.Errorf("marshal activity extra: %w", err)
		}
		if err := insertActivityLog(ctx, tx, userID, "recharge_bonus",
			fmt.Sprintf("%d", greenPower), fmt.Sprintf("%d", greenPower+bonus), bonusExtra); err != nil {
			return false, err
		}
	}

	_, err = tx.Exec(ctx,
		`UPDATE recharge_orders SET status = $2, paid_at = now() WHERE id = $1`,
		rechargeID, int(model.RechargeStatusApproved),
	)
	if err != nil {
		return false, fmt.Errorf("update recharge order: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return false, fmt.Errorf("commit tx: %w", err)
	}

	return false, nil
}
