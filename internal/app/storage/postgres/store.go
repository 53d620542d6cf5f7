// Package postgres implements the OrderStore backed by PostgreSQL.
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/dappfactory/orderflow/internal/app/domain/order"
	"github.com/dappfactory/orderflow/internal/app/storage"
)

// Store persists orders in a single table. Mutate takes a row lock
// (SELECT ... FOR UPDATE) for the duration of the transition, which gives
// the per-order exclusion the OrderStore contract requires.
type Store struct {
	db *sqlx.DB
}

var _ storage.OrderStore = (*Store)(nil)

// New creates a Store using the provided database handle.
func New(db *sqlx.DB) *Store {
	return &Store{db: db}
}

// row mirrors the orders table. JSONB columns carry the nested documents.
type row struct {
	ID               string         `db:"id"`
	PayerRef         string         `db:"payer_ref"`
	Spec             []byte         `db:"spec"`
	Payment          []byte         `db:"payment"`
	LifecycleStatus  string         `db:"lifecycle_status"`
	PaymentStatus    string         `db:"payment_status"`
	Artifact         []byte         `db:"artifact"`
	Compliance       []byte         `db:"compliance"`
	Download         []byte         `db:"download"`
	DownloadToken    sql.NullString `db:"download_token"`
	DownloadLocation sql.NullString `db:"download_location"`
	Timestamps       []byte         `db:"timestamps"`
	Audit            []byte         `db:"audit"`
	CreatedAt        time.Time      `db:"created_at"`
	UpdatedAt        time.Time      `db:"updated_at"`
}

func encodeRow(o order.Order) (row, error) {
	r := row{
		ID:              o.ID,
		PayerRef:        o.PayerRef,
		LifecycleStatus: string(o.Status),
		PaymentStatus:   string(o.Payment.Status),
		CreatedAt:       o.CreatedAt,
		UpdatedAt:       o.UpdatedAt,
	}

	var err error
	if r.Spec, err = json.Marshal(o.Spec); err != nil {
		return row{}, fmt.Errorf("encode spec: %w", err)
	}
	if r.Payment, err = json.Marshal(o.Payment); err != nil {
		return row{}, fmt.Errorf("encode payment: %w", err)
	}
	if o.Artifact != nil {
		if r.Artifact, err = json.Marshal(o.Artifact); err != nil {
			return row{}, fmt.Errorf("encode artifact: %w", err)
		}
	}
	if r.Compliance, err = json.Marshal(o.Compliance); err != nil {
		return row{}, fmt.Errorf("encode compliance: %w", err)
	}
	if o.Download != nil {
		if r.Download, err = json.Marshal(o.Download); err != nil {
			return row{}, fmt.Errorf("encode download: %w", err)
		}
		r.DownloadToken = sql.NullString{String: o.Download.Token, Valid: o.Download.Token != ""}
		r.DownloadLocation = sql.NullString{String: o.Download.Location, Valid: o.Download.Location != ""}
	}
	if r.Timestamps, err = json.Marshal(o.Timestamps); err != nil {
		return row{}, fmt.Errorf("encode timestamps: %w", err)
	}
	audit := o.Audit
	if audit == nil {
		audit = []order.AuditEntry{}
	}
	if r.Audit, err = json.Marshal(audit); err != nil {
		return row{}, fmt.Errorf("encode audit: %w", err)
	}
	return r, nil
}

func decodeRow(r row) (order.Order, error) {
	o := order.Order{
		ID:        r.ID,
		PayerRef:  r.PayerRef,
		Status:    order.LifecycleStatus(r.LifecycleStatus),
		CreatedAt: r.CreatedAt,
		UpdatedAt: r.UpdatedAt,
	}

	if err := json.Unmarshal(r.Spec, &o.Spec); err != nil {
		return order.Order{}, fmt.Errorf("decode spec: %w", err)
	}
	if err := json.Unmarshal(r.Payment, &o.Payment); err != nil {
		return order.Order{}, fmt.Errorf("decode payment: %w", err)
	}
	if len(r.Artifact) > 0 {
		o.Artifact = &order.Artifact{}
		if err := json.Unmarshal(r.Artifact, o.Artifact); err != nil {
			return order.Order{}, fmt.Errorf("decode artifact: %w", err)
		}
	}
	if len(r.Compliance) > 0 {
		if err := json.Unmarshal(r.Compliance, &o.Compliance); err != nil {
			return order.Order{}, fmt.Errorf("decode compliance: %w", err)
		}
	}
	if len(r.Download) > 0 {
		o.Download = &order.Download{}
		if err := json.Unmarshal(r.Download, o.Download); err != nil {
			return order.Order{}, fmt.Errorf("decode download: %w", err)
		}
		// Location is excluded from JSON on purpose; restore from its column.
		o.Download.Location = r.DownloadLocation.String
	}
	if len(r.Timestamps) > 0 {
		if err := json.Unmarshal(r.Timestamps, &o.Timestamps); err != nil {
			return order.Order{}, fmt.Errorf("decode timestamps: %w", err)
		}
	}
	if len(r.Audit) > 0 {
		if err := json.Unmarshal(r.Audit, &o.Audit); err != nil {
			return order.Order{}, fmt.Errorf("decode audit: %w", err)
		}
	}
	return o, nil
}

const selectColumns = `id, payer_ref, spec, payment, lifecycle_status, payment_status,
	artifact, compliance, download, download_token, download_location,
	timestamps, audit, created_at, updated_at`

func (s *Store) CreateOrder(ctx context.Context, o order.Order) (order.Order, error) {
	if o.ID == "" {
		o.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	o.CreatedAt = now
	o.UpdatedAt = now

	r, err := encodeRow(o)
	if err != nil {
		return order.Order{}, err
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO orders (id, payer_ref, spec, payment, lifecycle_status, payment_status,
			artifact, compliance, download, download_token, download_location,
			timestamps, audit, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
	`, r.ID, r.PayerRef, r.Spec, r.Payment, r.LifecycleStatus, r.PaymentStatus,
		r.Artifact, r.Compliance, r.Download, r.DownloadToken, r.DownloadLocation,
		r.Timestamps, r.Audit, r.CreatedAt, r.UpdatedAt)
	if err != nil {
		return order.Order{}, err
	}
	return o, nil
}

func (s *Store) GetOrder(ctx context.Context, id string) (order.Order, error) {
	var r row
	err := s.db.GetContext(ctx, &r, `SELECT `+selectColumns+` FROM orders WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return order.Order{}, order.ErrNotFound
	}
	if err != nil {
		return order.Order{}, err
	}
	return decodeRow(r)
}

func (s *Store) GetOrderByToken(ctx context.Context, token string) (order.Order, error) {
	var r row
	err := s.db.GetContext(ctx, &r, `SELECT `+selectColumns+` FROM orders WHERE download_token = $1`, token)
	if errors.Is(err, sql.ErrNoRows) {
		return order.Order{}, order.ErrNotFound
	}
	if err != nil {
		return order.Order{}, err
	}
	return decodeRow(r)
}

func (s *Store) ListOrders(ctx context.Context, filter storage.ListFilter) ([]order.Order, error) {
	query := `SELECT ` + selectColumns + ` FROM orders`
	var (
		clauses []string
		args    []any
	)
	if filter.Status != "" {
		args = append(args, string(filter.Status))
		clauses = append(clauses, fmt.Sprintf("lifecycle_status = $%d", len(args)))
	}
	if filter.PayerRef != "" {
		args = append(args, filter.PayerRef)
		clauses = append(clauses, fmt.Sprintf("payer_ref = $%d", len(args)))
	}
	for i, clause := range clauses {
		if i == 0 {
			query += " WHERE " + clause
		} else {
			query += " AND " + clause
		}
	}
	query += " ORDER BY created_at DESC"
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}

	var rows []row
	if err := s.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, err
	}
	return decodeRows(rows)
}

func (s *Store) ListRefundCandidates(ctx context.Context, createdBefore time.Time) ([]order.Order, error) {
	var rows []row
	err := s.db.SelectContext(ctx, &rows, `
		SELECT `+selectColumns+` FROM orders
		WHERE lifecycle_status = $1 AND payment_status = $2 AND created_at < $3
		ORDER BY created_at
	`, string(order.StatusFailed), string(order.PaymentConfirmed), createdBefore)
	if err != nil {
		return nil, err
	}
	return decodeRows(rows)
}

func (s *Store) Mutate(ctx context.Context, id string, fn func(*order.Order) error) (order.Order, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return order.Order{}, err
	}
	defer tx.Rollback()

	var r row
	err = tx.GetContext(ctx, &r, `SELECT `+selectColumns+` FROM orders WHERE id = $1 FOR UPDATE`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return order.Order{}, order.ErrNotFound
	}
	if err != nil {
		return order.Order{}, err
	}

	o, err := decodeRow(r)
	if err != nil {
		return order.Order{}, err
	}

	if err := fn(&o); err != nil {
		return order.Order{}, err
	}

	o.ID = id
	o.CreatedAt = r.CreatedAt
	o.UpdatedAt = time.Now().UTC()

	updated, err := encodeRow(o)
	if err != nil {
		return order.Order{}, err
	}

	result, err := tx.ExecContext(ctx, `
		UPDATE orders
		SET payment = $2, lifecycle_status = $3, payment_status = $4,
			artifact = $5, compliance = $6, download = $7,
			download_token = $8, download_location = $9,
			timestamps = $10, audit = $11, updated_at = $12
		WHERE id = $1
	`, updated.ID, updated.Payment, updated.LifecycleStatus, updated.PaymentStatus,
		updated.Artifact, updated.Compliance, updated.Download,
		updated.DownloadToken, updated.DownloadLocation,
		updated.Timestamps, updated.Audit, updated.UpdatedAt)
	if err != nil {
		return order.Order{}, err
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return order.Order{}, order.ErrNotFound
	}

	if err := tx.Commit(); err != nil {
		return order.Order{}, err
	}
	return o, nil
}

func decodeRows(rows []row) ([]order.Order, error) {
	result := make([]order.Order, 0, len(rows))
	for _, r := range rows {
		o, err := decodeRow(r)
		if err != nil {
			return nil, err
		}
		result = append(result, o)
	}
	return result, nil
}
