package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/shopspring/decimal"

	"github.com/gentlecorp/shopping-cart/internal/core/domain"
)

const mysqlDuplicateEntry = 1062

var schema = []string{
	`CREATE TABLE IF NOT EXISTS carts (
		id           CHAR(36)      NOT NULL PRIMARY KEY,
		version      INT           NOT NULL DEFAULT 0,
		customer_id  VARCHAR(64)   NOT NULL,
		total_amount DECIMAL(12,2) NOT NULL DEFAULT 0,
		created_at   DATETIME(6)   NOT NULL,
		updated_at   DATETIME(6)   NOT NULL,
		INDEX idx_carts_customer (customer_id)
	)`,
	`CREATE TABLE IF NOT EXISTS cart_items (
		id           CHAR(36)    NOT NULL PRIMARY KEY,
		version      INT         NOT NULL DEFAULT 0,
		cart_id      CHAR(36)    NOT NULL,
		inventory_id VARCHAR(64) NOT NULL,
		quantity     INT         NOT NULL,
		created_at   DATETIME(6) NOT NULL,
		updated_at   DATETIME(6) NOT NULL,
		UNIQUE KEY uq_cart_items_inventory (cart_id, inventory_id),
		CONSTRAINT fk_cart_items_cart FOREIGN KEY (cart_id) REFERENCES carts (id)
	)`,
}

type MySQLAdapter struct {
	db *sql.DB
}

func NewMySQLAdapter(db *sql.DB) *MySQLAdapter {
	return &MySQLAdapter{db: db}
}

// EnsureSchema creates the cart tables when they are missing.
func (m *MySQLAdapter) EnsureSchema(ctx context.Context) error {
	for _, stmt := range schema {
		if _, err := m.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("apply schema: %w", err)
		}
	}
	return nil
}

func (m *MySQLAdapter) Ping(ctx context.Context) error {
	return m.db.PingContext(ctx)
}

func (m *MySQLAdapter) FindByID(ctx context.Context, id string, withItems bool) (*domain.Cart, error) {
	if !withItems {
		var (
			cart      domain.Cart
			itemCount int
		)
		err := m.db.QueryRowContext(ctx, findByIDQuery(false), id).Scan(
			&cart.ID, &cart.Version, &cart.CustomerID, &cart.TotalAmount,
			&cart.CreatedAt, &cart.UpdatedAt, &itemCount,
		)
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		if err != nil {
			return nil, fmt.Errorf("query cart: %w", err)
		}
		cart.Items = []domain.CartItem{}
		cart.IsComplete = itemCount == 0
		return &cart, nil
	}

	rows, err := m.db.QueryContext(ctx, findByIDQuery(true), id)
	if err != nil {
		return nil, fmt.Errorf("query cart: %w", err)
	}
	defer rows.Close()

	var cart *domain.Cart
	for rows.Next() {
		var (
			c         domain.Cart
			itemID    sql.NullString
			version   sql.NullInt64
			inventory sql.NullString
			quantity  sql.NullInt64
			created   sql.NullTime
			updated   sql.NullTime
		)
		if err := rows.Scan(
			&c.ID, &c.Version, &c.CustomerID, &c.TotalAmount, &c.CreatedAt, &c.UpdatedAt,
			&itemID, &version, &inventory, &quantity, &created, &updated,
		); err != nil {
			return nil, fmt.Errorf("scan cart: %w", err)
		}
		if cart == nil {
			c.Items = []domain.CartItem{}
			cart = &c
		}
		if itemID.Valid {
			cart.Items = append(cart.Items, domain.CartItem{
				ID:          itemID.String,
				Version:     int(version.Int64),
				InventoryID: inventory.String,
				Quantity:    int(quantity.Int64),
				CreatedAt:   created.Time,
				UpdatedAt:   updated.Time,
			})
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate cart: %w", err)
	}
	if cart == nil {
		return nil, nil
	}

	cart.IsComplete = domain.Complete(cart.Items)
	return cart, nil
}

func (m *MySQLAdapter) Find(ctx context.Context, criteria domain.SearchCriteria, withItems bool) ([]domain.Cart, error) {
	q, args, err := findQuery(criteria)
	if err != nil {
		return nil, err
	}

	rows, err := m.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("query carts: %w", err)
	}
	defer rows.Close()

	carts := []domain.Cart{}
	index := make(map[string]int)
	for rows.Next() {
		var (
			c         domain.Cart
			itemCount int
		)
		if err := rows.Scan(&c.ID, &c.Version, &c.CustomerID, &c.TotalAmount, &c.CreatedAt, &c.UpdatedAt, &itemCount); err != nil {
			return nil, fmt.Errorf("scan cart: %w", err)
		}
		c.Items = []domain.CartItem{}
		c.IsComplete = itemCount == 0
		index[c.ID] = len(carts)
		carts = append(carts, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate carts: %w", err)
	}

	if !withItems || len(carts) == 0 {
		return carts, nil
	}

	ids := make([]any, len(carts))
	for i, c := range carts {
		ids[i] = c.ID
	}

	itemRows, err := m.db.QueryContext(ctx, itemsQuery(len(ids)), ids...)
	if err != nil {
		return nil, fmt.Errorf("query cart items: %w", err)
	}
	defer itemRows.Close()

	for itemRows.Next() {
		var (
			cartID string
			item   domain.CartItem
		)
		if err := itemRows.Scan(&cartID, &item.ID, &item.Version, &item.InventoryID, &item.Quantity, &item.CreatedAt, &item.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan cart item: %w", err)
		}
		i := index[cartID]
		carts[i].Items = append(carts[i].Items, item)
	}
	if err := itemRows.Err(); err != nil {
		return nil, fmt.Errorf("iterate cart items: %w", err)
	}

	return carts, nil
}

func (m *MySQLAdapter) CreateCart(ctx context.Context, cart domain.Cart) error {
	_, err := m.db.ExecContext(ctx, `
		INSERT INTO carts (id, version, customer_id, total_amount, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		cart.ID, cart.Version, cart.CustomerID, cart.TotalAmount, cart.CreatedAt, cart.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert cart: %w", err)
	}
	return nil
}

func (m *MySQLAdapter) InsertItem(ctx context.Context, cartID string, expectedVersion int, item domain.CartItem) error {
	return m.withCartVersion(ctx, cartID, expectedVersion, item.CreatedAt, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO cart_items (id, version, cart_id, inventory_id, quantity, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?)`,
			item.ID, item.Version, cartID, item.InventoryID, item.Quantity, item.CreatedAt, item.UpdatedAt,
		)
		if isDuplicateEntry(err) {
			return domain.ErrVersionConflict
		}
		if err != nil {
			return fmt.Errorf("insert cart item: %w", err)
		}
		return nil
	})
}

func (m *MySQLAdapter) UpdateItemQuantity(ctx context.Context, cartID string, expectedVersion int, itemID string, quantity int, now time.Time) (int, error) {
	var itemVersion int
	err := m.withCartVersion(ctx, cartID, expectedVersion, now, func(tx *sql.Tx) error {
		result, err := tx.ExecContext(ctx, `
			UPDATE cart_items
			SET quantity = ?, version = version + 1, updated_at = ?
			WHERE id = ? AND cart_id = ?`,
			quantity, now, itemID, cartID,
		)
		if err != nil {
			return fmt.Errorf("update cart item: %w", err)
		}
		if rows, _ := result.RowsAffected(); rows == 0 {
			return fmt.Errorf("cart item %s: %w", itemID, domain.ErrNotFound)
		}

		err = tx.QueryRowContext(ctx, `SELECT version FROM cart_items WHERE id = ?`, itemID).Scan(&itemVersion)
		if err != nil {
			return fmt.Errorf("read cart item version: %w", err)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return itemVersion, nil
}

func (m *MySQLAdapter) RemoveItem(ctx context.Context, cartID string, expectedVersion int, itemID string, now time.Time) error {
	return m.withCartVersion(ctx, cartID, expectedVersion, now, func(tx *sql.Tx) error {
		result, err := tx.ExecContext(ctx, `DELETE FROM cart_items WHERE id = ? AND cart_id = ?`, itemID, cartID)
		if err != nil {
			return fmt.Errorf("delete cart item: %w", err)
		}
		if rows, _ := result.RowsAffected(); rows == 0 {
			return fmt.Errorf("cart item %s: %w", itemID, domain.ErrNotFound)
		}
		return nil
	})
}

func (m *MySQLAdapter) DeleteCart(ctx context.Context, cart domain.Cart) (bool, error) {
	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	for _, item := range cart.Items {
		if _, err := tx.ExecContext(ctx, `DELETE FROM cart_items WHERE id = ?`, item.ID); err != nil {
			return false, fmt.Errorf("delete cart item %s: %w", item.ID, err)
		}
	}

	result, err := tx.ExecContext(ctx, `DELETE FROM carts WHERE id = ? AND version = ?`, cart.ID, cart.Version)
	if err != nil {
		return false, fmt.Errorf("delete cart: %w", err)
	}

	rows, _ := result.RowsAffected()
	if rows != 1 {
		return false, nil
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("commit: %w", err)
	}
	return true, nil
}

func (m *MySQLAdapter) SaveTotalSnapshot(ctx context.Context, cartID string, total decimal.Decimal) error {
	_, err := m.db.ExecContext(ctx, `UPDATE carts SET total_amount = ? WHERE id = ?`, total, cartID)
	if err != nil {
		return fmt.Errorf("save total snapshot: %w", err)
	}
	return nil
}

// withCartVersion runs fn in a transaction that first moves the cart from
// expectedVersion to expectedVersion+1. Nothing is written when the version
// does not match.
func (m *MySQLAdapter) withCartVersion(ctx context.Context, cartID string, expectedVersion int, now time.Time, fn func(tx *sql.Tx) error) error {
	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	result, err := tx.ExecContext(ctx, `
		UPDATE carts
		SET version = version + 1, updated_at = ?
		WHERE id = ? AND version = ?`,
		now, cartID, expectedVersion,
	)
	if err != nil {
		return fmt.Errorf("update cart version: %w", err)
	}

	rows, _ := result.RowsAffected()
	if rows == 0 {
		return domain.ErrVersionConflict
	}

	if err := fn(tx); err != nil {
		return err
	}

	return tx.Commit()
}

func isDuplicateEntry(err error) bool {
	var mysqlErr *mysql.MySQLError
	return errors.As(err, &mysqlErr) && mysqlErr.Number == mysqlDuplicateEntry
}
