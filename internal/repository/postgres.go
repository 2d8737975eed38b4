// Package repository содержит реализацию доступа к данным в PostgreSQL.
package repository

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"

	"github.com/mmeshcher/paygate-system/internal/model"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// ErrAccountNotFound возвращается, если платёжный аккаунт не найден.
var (
	ErrAccountNotFound = errors.New("payment account not found")
	// ErrAccountDisabled возвращается для выключенного платёжного аккаунта.
	ErrAccountDisabled = errors.New("payment account is disabled")
	// ErrOrderNotFound возвращается, если заказ не найден по бизнес-ключу.
	ErrOrderNotFound = errors.New("order not found")
	// ErrUserNotFound возвращается, если пользователь не найден.
	ErrUserNotFound = errors.New("user not found")
	// ErrInsufficientStock возвращается при нехватке остатка хотя бы по
	// одной позиции заказа: списание выполняется только целиком.
	ErrInsufficientStock = errors.New("insufficient product stock")
	// ErrRechargeExists возвращается при конфликте номера пополнения.
	ErrRechargeExists = errors.New("recharge order already exists")
)

// PostgresRepository предоставляет доступ к хранилищу данных в PostgreSQL.
type PostgresRepository struct {
	pool *pgxpool.Pool
}

// NewPostgresRepository создаёт новый репозиторий и инициализирует схему БД через миграции.
func NewPostgresRepository(dsn string) (*PostgresRepository, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse pool config: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	r := &PostgresRepository{pool: pool}

	if err := r.runMigrations(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	return r, nil
}

func (r *PostgresRepository) runMigrations(ctx context.Context) error {
	db := stdlib.OpenDBFromPool(r.pool)
	defer db.Close()

	goose.SetBaseFS(migrationsFS)

	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("set dialect: %w", err)
	}

	if err := goose.UpContext(ctx, db, "migrations"); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}

	return nil
}

// withRetry повторяет транзакцию при deadlock и serialization failure:
// конкурентные расчёты по пересекающимся товарам сериализуются
// блокировками и изредка разрешаются конфликтом.
func (r *PostgresRepository) withRetry(ctx context.Context, fn func() error) error {
	var err error
	delays := []time.Duration{1 * time.Second, 3 * time.Second, 5 * time.Second}

	for i := 0; i <= len(delays); i++ {
		err = fn()
		if err == nil {
			return nil
		}

		// Если ошибка контекста — выходим сразу
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return err
		}

		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) {
			if pgErr.Code == pgerrcode.SerializationFailure || pgErr.Code == pgerrcode.DeadlockDetected {
				if i < len(delays) {
					time.Sleep(delays[i])
					continue
				}
			}
		}

		// Если это не pg-ошибка, но сетевая
		if isConnectionError(err) {
			if i < len(delays) {
				time.Sleep(delays[i])
				continue
			}
		}

		break
	}
	return err
}

func isConnectionError(err error) bool {
	// Упрощенная проверка на ошибки соединения
	return strings.Contains(err.Error(), "connection refused") ||
		strings.Contains(err.Error(), "broken pipe") ||
		strings.Contains(err.Error(), "connection reset by peer")
}

// Close закрывает пул соединений с БД.
func (r *PostgresRepository) Close() error {
	r.pool.Close()
	return nil
}

// GetPaymentAccount возвращает платёжный аккаунт по идентификатору.
func (r *PostgresRepository) GetPaymentAccount(ctx context.Context, id int64) (*model.PaymentAccount, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT id, provider, name, channel_code, secret, gateway, enabled, created_at
		 FROM payment_accounts WHERE id = $1`,
		id,
	)
	return scanAccount(row)
}

// GetEnabledAccountByProvider возвращает включённый аккаунт провайдера.
// Используется при обработке уведомления, когда известен только провайдер.
func (r *PostgresRepository) GetEnabledAccountByProvider(ctx context.Context, provider string) (*model.PaymentAccount, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT id, provider, name, channel_code, secret, gateway, enabled, created_at
		 FROM payment_accounts
		 WHERE provider = $1 AND enabled
		 ORDER BY id
		 LIMIT 1`,
		provider,
	)
	return scanAccount(row)
}

func scanAccount(row pgx.Row) (*model.PaymentAccount, error) {
	var a model.PaymentAccount
	err := row.Scan(&a.ID, &a.Provider, &a.Name, &a.ChannelCode, &a.Secret, &a.Gateway, &a.Enabled, &a.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrAccountNotFound
		}
		return nil, fmt.Errorf("get payment account: %w", err)
	}
	return &a, nil
}

// GetOrderByNo возвращает заказ на покупку с позициями по бизнес-ключу.
func (r *PostgresRepository) GetOrderByNo(ctx context.Context, orderNo string) (*model.Order, error) {
	var o model.Order
	err := r.pool.QueryRow(ctx,
		`SELECT id, order_no, user_id, amount, status, paid_at, completed_at, created_at
		 FROM orders WHERE order_no = $1`,
		orderNo,
	).Scan(&o.ID, &o.OrderNo, &o.UserID, &o.AmountCents, &o.Status, &o.PaidAt, &o.CompletedAt, &o.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrOrderNotFound
		}
		return nil, fmt.Errorf("get order: %w", err)
	}

	rows, err := r.pool.Query(ctx,
		`SELECT id, order_id, product_id, name, quantity, price
		 FROM order_items WHERE order_id = $1 ORDER BY id`,
		o.ID,
	)
	if err != nil {
		return nil, fmt.Errorf("select order items: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var it model.OrderItem
		if err := rows.Scan(&it.ID, &it.OrderID, &it.ProductID, &it.Name, &it.Quantity, &it.PriceCents); err != nil {
			return nil, fmt.Errorf("scan order item: %w", err)
		}
		o.Items = append(o.Items, it)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return &o, nil
}

// GetRechargeByNo возвращает заказ на пополнение по бизнес-ключу.
func (r *PostgresRepository) GetRechargeByNo(ctx context.Context, orderNo string) (*model.RechargeOrder, error) {
	var ro model.RechargeOrder
	err := r.pool.QueryRow(ctx,
		`SELECT id, order_no, user_id, amount, status, paid_at, created_at
		 FROM recharge_orders WHERE order_no = $1`,
		orderNo,
	).Scan(&ro.ID, &ro.OrderNo, &ro.UserID, &ro.AmountCents, &ro.Status, &ro.PaidAt, &ro.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrOrderNotFound
		}
		return nil, fmt.Errorf("get recharge order: %w", err)
	}
	return &ro, nil
}

// CreateRecharge создаёт ожидающий оплаты заказ на пополнение.
func (r *PostgresRepository) CreateRecharge(ctx context.Context, userID int64, orderNo string, amountCents int64) error {
	var exists int
	err := r.pool.QueryRow(ctx, `SELECT 1 FROM users WHERE id = $1`, userID).Scan(&exists)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrUserNotFound
		}
		return fmt.Errorf("check user: %w", err)
	}

	_, err = r.pool.Exec(ctx,
		`INSERT INTO recharge_orders (order_no, user_id, amount, status) VALUES ($1, $2, $3, $4)`,
		orderNo, userID, amountCents, int(model.RechargeStatusPending),
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation {
			return fmt.Errorf("%w: %s", ErrRechargeExists, orderNo)
		}
		return fmt.Errorf("insert recharge order: %w", err)
	}
	return nil
}
