package receipt

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresConfig configures the connection pool
type PostgresConfig struct {
	DSN             string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
	MaxConnIdleTime time.Duration
	DialTimeout     time.Duration
}

// PostgresRepository implements Repository on PostgreSQL via pgx
type PostgresRepository struct {
	pool *pgxpool.Pool
}

const schemaSQL = `
CREATE TABLE IF NOT EXISTS receipts (
	id                  TEXT PRIMARY KEY,
	store               TEXT NOT NULL,
	date                TEXT NOT NULL,
	total               INTEGER NOT NULL,
	address             TEXT NOT NULL DEFAULT '',
	tel                 TEXT NOT NULL DEFAULT '',
	payment_method      TEXT NOT NULL DEFAULT '',
	registration_number TEXT NOT NULL DEFAULT '',
	credit_account      TEXT NOT NULL DEFAULT '',
	original_file_name  TEXT NOT NULL DEFAULT '',
	source_job_id       TEXT NOT NULL DEFAULT '',
	created_at          TIMESTAMPTZ NOT NULL,
	updated_at          TIMESTAMPTZ NOT NULL
);
CREATE TABLE IF NOT EXISTS line_items (
	id            TEXT PRIMARY KEY,
	receipt_id    TEXT NOT NULL REFERENCES receipts(id) ON DELETE CASCADE,
	position      INTEGER NOT NULL,
	name          TEXT NOT NULL,
	amount        INTEGER NOT NULL,
	is_tax_return BOOLEAN NOT NULL DEFAULT FALSE,
	category      TEXT NOT NULL DEFAULT '',
	ai_category   TEXT NOT NULL DEFAULT '',
	ai_risk       TEXT NOT NULL DEFAULT 'Low',
	memo          TEXT NOT NULL DEFAULT '',
	tax_type      TEXT NOT NULL DEFAULT '',
	account_title TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS line_items_receipt_id_idx ON line_items (receipt_id, position);
`

const receiptColumns = `id, store, date, total, address, tel, payment_method, registration_number,
	credit_account, original_file_name, source_job_id, created_at, updated_at`

const itemColumns = `id, name, amount, is_tax_return, category, ai_category, ai_risk, memo, tax_type, account_title`

// NewPostgresRepository connects a pool and applies the schema
func NewPostgresRepository(ctx context.Context, cfg PostgresConfig, logger *slog.Logger) (*PostgresRepository, error) {
	pc, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parsing postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		pc.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		pc.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		pc.MaxConnLifetime = cfg.MaxConnLifetime
	}
	if cfg.MaxConnIdleTime > 0 {
		pc.MaxConnIdleTime = cfg.MaxConnIdleTime
	}
	pc.ConnConfig.RuntimeParams["application_name"] = "receiptfly"

	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = 5 * time.Second
	}
	dialCtx, cancel := context.WithTimeout(ctx, cfg.DialTimeout)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(dialCtx, pc)
	if err != nil {
		return nil, fmt.Errorf("connecting to postgres: %w", err)
	}
	if err := pool.Ping(dialCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pinging postgres: %w", err)
	}
	if _, err := pool.Exec(ctx, schemaSQL); err != nil {
		pool.Close()
		return nil, fmt.Errorf("applying schema: %w", err)
	}

	logger.Info("Connected to postgres", "max_conns", pc.MaxConns)
	return &PostgresRepository{pool: pool}, nil
}

// Create inserts a receipt and its items in one transaction
func (p *PostgresRepository) Create(ctx context.Context, r *Receipt) (*Receipt, error) {
	err := pgx.BeginFunc(ctx, p.pool, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, `INSERT INTO receipts (`+receiptColumns+`)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
			r.ID, r.Store, r.Date, r.Total, r.Address, r.Tel, r.PaymentMethod, r.RegistrationNumber,
			r.CreditAccount, r.OriginalFileName, r.SourceJobID, r.CreatedAt, r.UpdatedAt)
		if err != nil {
			return fmt.Errorf("inserting receipt: %w", err)
		}
		return insertItems(ctx, tx, r)
	})
	if err != nil {
		return nil, err
	}
	return r, nil
}

// GetByID retrieves a receipt by ID
func (p *PostgresRepository) GetByID(ctx context.Context, id string) (*Receipt, error) {
	row := p.pool.QueryRow(ctx, `SELECT `+receiptColumns+` FROM receipts WHERE id = $1`, id)
	r, err := scanReceipt(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("querying receipt: %w", err)
	}

	rows, err := p.pool.Query(ctx, `SELECT `+itemColumns+` FROM line_items WHERE receipt_id = $1 ORDER BY position`, id)
	if err != nil {
		return nil, fmt.Errorf("querying line items: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, err
		}
		r.Items = append(r.Items, item)
	}
	return r, rows.Err()
}

// List returns all receipts, newest first
func (p *PostgresRepository) List(ctx context.Context) ([]*Receipt, error) {
	rows, err := p.pool.Query(ctx, `SELECT `+receiptColumns+` FROM receipts ORDER BY created_at DESC, id`)
	if err != nil {
		return nil, fmt.Errorf("querying receipts: %w", err)
	}
	receipts := make([]*Receipt, 0)
	byID := map[string]*Receipt{}
	for rows.Next() {
		r, err := scanReceipt(rows)
		if err != nil {
			rows.Close()
			return nil, fmt.Errorf("scanning receipt: %w", err)
		}
		receipts = append(receipts, r)
		byID[r.ID] = r
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	itemRows, err := p.pool.Query(ctx, `SELECT receipt_id, `+itemColumns+` FROM line_items ORDER BY receipt_id, position`)
	if err != nil {
		return nil, fmt.Errorf("querying line items: %w", err)
	}
	defer itemRows.Close()
	for itemRows.Next() {
		var receiptID string
		var item LineItem
		if err := itemRows.Scan(&receiptID, &item.ID, &item.Name, &item.Amount, &item.IsTaxReturn, &item.Category,
			&item.AICategory, &item.AIRisk, &item.Memo, &item.TaxType, &item.AccountTitle); err != nil {
			return nil, fmt.Errorf("scanning line item: %w", err)
		}
		if r, ok := byID[receiptID]; ok {
			r.Items = append(r.Items, item)
		}
	}
	return receipts, itemRows.Err()
}

// Update replaces a receipt and its items
func (p *PostgresRepository) Update(ctx context.Context, r *Receipt) (*Receipt, error) {
	err := pgx.BeginFunc(ctx, p.pool, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `UPDATE receipts SET store = $2, date = $3, total = $4, address = $5, tel = $6,
			payment_method = $7, registration_number = $8, credit_account = $9, original_file_name = $10,
			source_job_id = $11, updated_at = $12 WHERE id = $1`,
			r.ID, r.Store, r.Date, r.Total, r.Address, r.Tel, r.PaymentMethod, r.RegistrationNumber,
			r.CreditAccount, r.OriginalFileName, r.SourceJobID, r.UpdatedAt)
		if err != nil {
			return fmt.Errorf("updating receipt: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return fmt.Errorf("%w: %s", ErrNotFound, r.ID)
		}
		if _, err := tx.Exec(ctx, `DELETE FROM line_items WHERE receipt_id = $1`, r.ID); err != nil {
			return fmt.Errorf("deleting line items: %w", err)
		}
		return insertItems(ctx, tx, r)
	})
	if err != nil {
		return nil, err
	}
	return r, nil
}

// Delete removes a receipt; items cascade
func (p *PostgresRepository) Delete(ctx context.Context, id string) error {
	tag, err := p.pool.Exec(ctx, `DELETE FROM receipts WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("deleting receipt: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return nil
}

// Close closes the pool
func (p *PostgresRepository) Close() error {
	p.pool.Close()
	return nil
}

func insertItems(ctx context.Context, tx pgx.Tx, r *Receipt) error {
	batch := &pgx.Batch{}
	for i, item := range r.Items {
		batch.Queue(`INSERT INTO line_items (receipt_id, position, `+itemColumns+`)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
			r.ID, i, item.ID, item.Name, item.Amount, item.IsTaxReturn, item.Category, item.AICategory,
			item.AIRisk, item.Memo, item.TaxType, item.AccountTitle)
	}
	if batch.Len() == 0 {
		return nil
	}
	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("inserting line items: %w", err)
	}
	return nil
}

func scanReceipt(row pgx.Row) (*Receipt, error) {
	var r Receipt
	err := row.Scan(&r.ID, &r.Store, &r.Date, &r.Total, &r.Address, &r.Tel, &r.PaymentMethod,
		&r.RegistrationNumber, &r.CreditAccount, &r.OriginalFileName, &r.SourceJobID, &r.CreatedAt, &r.UpdatedAt)
	if err != nil {
		return nil, err
	}
	r.Items = []LineItem{}
	return &r, nil
}

func scanItem(rows pgx.Rows) (LineItem, error) {
	var item LineItem
	if err := rows.Scan(&item.ID, &item.Name, &item.Amount, &item.IsTaxReturn, &item.Category,
		&item.AICategory, &item.AIRisk, &item.Memo, &item.TaxType, &item.AccountTitle); err != nil {
		return LineItem{}, fmt.Errorf("scanning line item: %w", err)
	}
	return item, nil
}
