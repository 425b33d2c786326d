package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"

	"github.com/go-sql-driver/mysql"

	"storefront-service/models"
)

var (
	ErrNotFound          = errors.New("not found")
	ErrInsufficientStock = errors.New("insufficient stock")
	// ErrLockConflict marks InnoDB deadlocks and lock wait timeouts.
	ErrLockConflict = errors.New("lock conflict")
	// ErrUserNotFound is returned when a row references a user that does
	// not exist.
	ErrUserNotFound = errors.New("user not found")
)

const (
	mysqlErrLockWaitTimeout = 1205
	mysqlErrDeadlock        = 1213
	mysqlErrNoReferencedRow = 1452
)

// Tx is the set of operations available inside a transaction started by
// Store.InTx.
type Tx interface {
	ReadCartWithProductInfo(ctx context.Context, userID int64) ([]models.CartProductLine, error)
	DeleteAllCartLines(ctx context.Context, userID int64) error
	FindCartLine(ctx context.Context, userID, productID int64) (*models.CartLine, error)
	InsertCartLine(ctx context.Context, line *models.CartLine) error
	UpdateCartLine(ctx context.Context, userID, lineID int64, quantity int) error

	LockProduct(ctx context.Context, productID int64) (*models.Product, error)
	DecrementStock(ctx context.Context, productID int64, amount int) error

	InsertOrder(ctx context.Context, order *models.Order) error
	InsertOrderItems(ctx context.Context, items []models.OrderItem) error
	LockOrder(ctx context.Context, orderID int64) (*models.Order, error)
	UpdateOrderStatus(ctx context.Context, orderID int64, status models.OrderStatus) error
}

type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// queries holds every statement; it runs against either the pool or a
// transaction.
type queries struct {
	q querier
}

type Store struct {
	queries
	db *sql.DB
}

func New(db *sql.DB) *Store {
	return &Store{queries: queries{q: db}, db: db}
}

// InTx runs fn inside a REPEATABLE READ transaction. Rows read with
// FOR UPDATE stay locked until fn returns. The transaction commits only
// when fn returns nil.
func (s *Store) InTx(ctx context.Context, fn func(tx Tx) error) error {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelRepeatableRead})
	if err != nil {
		return wrapMySQL(fmt.Errorf("begin transaction: %w", err))
	}

	if err := fn(&queries{q: tx}); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
			log.Printf("Failed to roll back transaction: %v", rbErr)
		}
		return wrapMySQL(err)
	}

	if err := tx.Commit(); err != nil {
		return wrapMySQL(fmt.Errorf("commit transaction: %w", err))
	}
	return nil
}

func wrapMySQL(err error) error {
	var myErr *mysql.MySQLError
	if errors.As(err, &myErr) {
		switch myErr.Number {
		case mysqlErrDeadlock, mysqlErrLockWaitTimeout:
			return fmt.Errorf("%w: %w", ErrLockConflict, err)
		}
	}
	return err
}

func isMySQLError(err error, number uint16) bool {
	var myErr *mysql.MySQLError
	return errors.As(err, &myErr) && myErr.Number == number
}

func expectOneRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
