// Package repository содержит реализацию хранилища заказов и платёжных транзакций в PostgreSQL.
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
	"github.com/shopspring/decimal"

	"github.com/mmeshcher/paygate/internal/model"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

var (
	// ErrOrderNotFound возвращается, если заказ не найден.
	ErrOrderNotFound = errors.New("order not found")
	// ErrVendorNotFound возвращается, если продавец не найден.
	ErrVendorNotFound = errors.New("vendor not found")
	// ErrSessionNotFound возвращается, если сессия оплаты не найдена.
	ErrSessionNotFound = errors.New("checkout session not found")
	// ErrTransactionNotFound возвращается, если транзакция не найдена.
	ErrTransactionNotFound = errors.New("transaction not found")
	// ErrTransactionExists возвращается при повторной записи транзакции с тем же идентификатором.
	ErrTransactionExists = errors.New("transaction already recorded")
	// ErrStaleOrder возвращается, если заказ изменился после чтения (проверка версии).
	ErrStaleOrder = errors.New("order was modified concurrently")
	// ErrReferenceAlreadySet возвращается, если у заказа уже есть ссылка на платёж провайдера.
	ErrReferenceAlreadySet = errors.New("payment reference already set")
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

func (r *PostgresRepository) withRetry(ctx context.Context, fn func() error) error {
	var err error
	delays := []time.Duration{100 * time.Millisecond, 300 * time.Millisecond, 500 * time.Millisecond}

	for i := 0; i <= len(delays); i++ {
		err = fn()
		if err == nil {
			return nil
		}

		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return err
		}

		if !isRetryable(err) || i == len(delays) {
			break
		}

		timer := time.NewTimer(delays[i])
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
	return err
}

func isRetryable(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgerrcode.SerializationFailure || pgErr.Code == pgerrcode.DeadlockDetected
	}
	return isConnectionError(err)
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

const orderColumns = `id, currency, amount::text, description, status,
	total_authorized_amount::text, total_captured_amount::text, total_refunded_amount::text,
	customer_email, COALESCE(vendor_id, ''), COALESCE(payment_reference, ''), payment_url,
	needs_review, version, updated_at`

func scanOrder(row pgx.Row) (*model.Order, error) {
	var o model.Order
	var status string
	var amount, authorized, captured, refunded string

	err := row.Scan(&o.ID, &o.Currency, &amount, &o.Description, &status,
		&authorized, &captured, &refunded,
		&o.CustomerEmail, &o.VendorID, &o.PaymentReference, &o.PaymentURL,
		&o.NeedsReview, &o.Version, &o.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrOrderNotFound
		}
		return nil, fmt.Errorf("scan order: %w", err)
	}

	o.Status = model.OrderStatus(status)
	for _, f := range []struct {
		dst *decimal.Decimal
		src string
	}{
		{&o.Amount, amount},
		{&o.TotalAuthorizedAmount, authorized},
		{&o.TotalCapturedAmount, captured},
		{&o.TotalRefundedAmount, refunded},
	} {
		d, err := decimal.NewFromString(f.src)
		if err != nil {
			return nil, fmt.Errorf("parse amount %q: %w", f.src, err)
		}
		*f.dst = d
	}

	return &o, nil
}

// GetOrder возвращает заказ по идентификатору.
func (r *PostgresRepository) GetOrder(ctx context.Context, orderID string) (*model.Order, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+orderColumns+` FROM orders WHERE id = $1`, orderID)
	return scanOrder(row)
}

// GetOrderByPaymentReference возвращает заказ по ссылке на платёж провайдера сплит-платежей.
func (r *PostgresRepository) GetOrderByPaymentReference(ctx context.Context, reference string) (*model.Order, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+orderColumns+` FROM orders WHERE payment_reference = $1`, reference)
	return scanOrder(row)
}

// UpdateOrderStatus сохраняет статус и суммы заказа с проверкой версии.
func (r *PostgresRepository) UpdateOrderStatus(ctx context.Context, order *model.Order) error {
	return r.withRetry(ctx, func() error {
		return r.updateOrder(ctx, r.pool, order)
	})
}

type execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

func (r *PostgresRepository) updateOrder(ctx context.Context, db execer, order *model.Order) error {
	tag, err := db.Exec(ctx,
		`UPDATE orders
		 SET status = $3,
		     total_authorized_amount = $4::numeric,
		     total_captured_amount = $5::numeric,
		     total_refunded_amount = $6::numeric,
		     version = version + 1,
		     updated_at = now()
		 WHERE id = $1 AND version = $2`,
		order.ID, order.Version, string(order.Status),
		order.TotalAuthorizedAmount.String(),
		order.TotalCapturedAmount.String(),
		order.TotalRefundedAmount.String(),
	)
	if err != nil {
		return fmt.Errorf("update order: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrStaleOrder
	}
	order.Version++
	return nil
}

// ApplyTransaction в одной транзакции БД записывает платёжную транзакцию и обновлённые суммы заказа.
func (r *PostgresRepository) ApplyTransaction(ctx context.Context, order *model.Order, txn model.Transaction) error {
	version := order.Version

	err := r.withRetry(ctx, func() error {
		order.Version = version

		tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
		if err != nil {
			return fmt.Errorf("begin tx: %w", err)
		}
		defer tx.Rollback(ctx)

		tag, err := tx.Exec(ctx,
			`INSERT INTO transactions (order_id, id, type, amount, currency, result, gateway_code, target_transaction_id)
			 VALUES ($1, $2, $3, $4::numeric, $5, $6, $7, $8)
			 ON CONFLICT (order_id, id) DO NOTHING`,
			order.ID, txn.ID, string(txn.Type), txn.Amount.String(), txn.Currency,
			string(txn.Result), txn.GatewayCode, txn.TargetTransactionID,
		)
		if err != nil {
			return fmt.Errorf("insert transaction: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return ErrTransactionExists
		}

		if err := r.updateOrder(ctx, tx, order); err != nil {
			return err
		}

		if err := tx.Commit(ctx); err != nil {
			return fmt.Errorf("commit tx: %w", err)
		}
		return nil
	})
	if err != nil {
		order.Version = version
	}
	return err
}

// GetTransaction возвращает транзакцию заказа.
func (r *PostgresRepository) GetTransaction(ctx context.Context, orderID, transactionID string) (*model.Transaction, error) {
	var t model.Transaction
	var typ, result, amount string

	err := r.pool.QueryRow(ctx,
		`SELECT order_id, id, type, amount::text, currency, result, gateway_code, target_transaction_id, created_at
		 FROM transactions
		 WHERE order_id = $1 AND id = $2`,
		orderID, transactionID,
	).Scan(&t.OrderID, &t.ID, &typ, &amount, &t.Currency, &result, &t.GatewayCode, &t.TargetTransactionID, &t.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrTransactionNotFound
		}
		return nil, fmt.Errorf("get transaction: %w", err)
	}

	t.Type = model.TransactionType(typ)
	t.Result = model.TransactionResult(result)
	if t.Amount, err = decimal.NewFromString(amount); err != nil {
		return nil, fmt.Errorf("parse amount %q: %w", amount, err)
	}

	return &t, nil
}

// SaveCheckoutSession сохраняет сессию оплаты для последующей сверки результата.
func (r *PostgresRepository) SaveCheckoutSession(ctx context.Context, s model.CheckoutSession) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO checkout_sessions (id, order_id, update_status, version, success_indicator, operation)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 ON CONFLICT (id) DO UPDATE
		 SET update_status = EXCLUDED.update_status,
		     version = EXCLUDED.version,
		     success_indicator = EXCLUDED.success_indicator,
		     operation = EXCLUDED.operation`,
		s.ID, s.OrderID, s.UpdateStatus, s.Version, s.SuccessIndicator, string(s.Operation),
	)
	if err != nil {
		return fmt.Errorf("save checkout session: %w", err)
	}
	return nil
}

const sessionColumns = `id, order_id, update_status, version, success_indicator, operation, created_at`

func scanSession(row pgx.Row) (*model.CheckoutSession, error) {
	var (
		s  model.CheckoutSession
		op string
	)
	if err := row.Scan(&s.ID, &s.OrderID, &s.UpdateStatus, &s.Version, &s.SuccessIndicator, &op, &s.CreatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrSessionNotFound
		}
		return nil, fmt.Errorf("scan checkout session: %w", err)
	}
	s.Operation = model.Operation(op)
	return &s, nil
}

// GetCheckoutSession возвращает сессию оплаты по идентификатору.
func (r *PostgresRepository) GetCheckoutSession(ctx context.Context, sessionID string) (*model.CheckoutSession, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+sessionColumns+` FROM checkout_sessions WHERE id = $1`, sessionID)
	return scanSession(row)
}

// GetLatestCheckoutSession возвращает последнюю сессию оплаты заказа.
func (r *PostgresRepository) GetLatestCheckoutSession(ctx context.Context, orderID string) (*model.CheckoutSession, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT `+sessionColumns+` FROM checkout_sessions WHERE order_id = $1 ORDER BY created_at DESC LIMIT 1`,
		orderID,
	)
	return scanSession(row)
}

// GetVendor возвращает продавца по идентификатору.
func (r *PostgresRepository) GetVendor(ctx context.Context, vendorID string) (*model.Vendor, error) {
	var v model.Vendor
	err := r.pool.QueryRow(ctx,
		`SELECT id, name, email, subaccount_code FROM vendors WHERE id = $1`,
		vendorID,
	).Scan(&v.ID, &v.Name, &v.Email, &v.SubaccountCode)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrVendorNotFound
		}
		return nil, fmt.Errorf("get vendor: %w", err)
	}
	return &v, nil
}

// SetVendorSubaccount сохраняет код субаккаунта продавца. Уже сохранённый код не перезаписывается,
// в этом случае возвращается существующий.
func (r *PostgresRepository) SetVendorSubaccount(ctx context.Context, vendorID, code string) (string, error) {
	var stored string
	err := r.pool.QueryRow(ctx,
		`UPDATE vendors SET subaccount_code = COALESCE(subaccount_code, $2)
		 WHERE id = $1
		 RETURNING subaccount_code`,
		vendorID, code,
	).Scan(&stored)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", ErrVendorNotFound
		}
		return "", fmt.Errorf("set vendor subaccount: %w", err)
	}
	return stored, nil
}

// SetPaymentReference привязывает к заказу ссылку на платёж провайдера и адрес страницы оплаты.
func (r *PostgresRepository) SetPaymentReference(ctx context.Context, orderID, reference, paymentURL string) error {
	tag, err := r.pool.Exec(ctx,
		`UPDATE orders SET payment_reference = $2, payment_url = $3, version = version + 1, updated_at = now()
		 WHERE id = $1 AND payment_reference IS NULL`,
		orderID, reference, paymentURL,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation {
			return fmt.Errorf("%w: %s", ErrReferenceAlreadySet, reference)
		}
		return fmt.Errorf("set payment reference: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrReferenceAlreadySet
	}
	return nil
}

// FlagForReview помечает заказ для ручной сверки.
func (r *PostgresRepository) FlagForReview(ctx context.Context, orderID, reason string) error {
	_, err := r.pool.Exec(ctx,
		`UPDATE orders SET needs_review = TRUE, review_reason = $2, updated_at = now() WHERE id = $1`,
		orderID, reason,
	)
	if err != nil {
		return fmt.Errorf("flag order for review: %w", err)
	}
	return nil
}

// WebhookProcessed сообщает, было ли уведомление уже обработано.
func (r *PostgresRepository) WebhookProcessed(ctx context.Context, provider, key string) (bool, error) {
	var exists bool
	err := r.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM webhook_events WHERE provider = $1 AND event_key = $2)`,
		provider, key,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check webhook event: %w", err)
	}
	return exists, nil
}

// MarkWebhookProcessed фиксирует успешную обработку уведомления.
func (r *PostgresRepository) MarkWebhookProcessed(ctx context.Context, provider, key, eventType string) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO webhook_events (provider, event_key, event_type) VALUES ($1, $2, $3)
		 ON CONFLICT (provider, event_key) DO NOTHING`,
		provider, key, eventType,
	)
	if err != nil {
		return fmt.Errorf("mark webhook event: %w", err)
	}
	return nil
}
