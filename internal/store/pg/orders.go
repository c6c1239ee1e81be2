package pg

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"villaops.org/internal/orders"
)

const orderColumns = `id, status, priority, department, items, coalesce(notes,''),
	requested_by, coalesce(requested_by_name,''), created_at, updated_at,
	coalesce(manager_approved_by,''), manager_approved_at,
	coalesce(admin_approved_by,''), admin_approved_at,
	coalesce(rejected_by,''), rejected_at, coalesce(rejection_reason,''), sent_at`

func (s *Store) Create(ctx context.Context, o orders.Order) error {
	if s.db == nil {
		return errNoDB
	}
	items, err := json.Marshal(o.Items)
	if err != nil {
		return fmt.Errorf("marshal items: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		insert into orders (id, status, priority, department, items, notes, requested_by, requested_by_name, created_at, updated_at)
		values ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`, o.ID, string(o.Status), string(o.Priority), o.Department, items, nullIfEmpty(o.Notes),
		o.RequestedBy, nullIfEmpty(o.RequestedByName), o.CreatedAt.UTC(), o.UpdatedAt.UTC())
	if err != nil {
		if isUniqueViolation(err) {
			return orders.ErrConflict
		}
		return err
	}
	return nil
}

func (s *Store) Get(ctx context.Context, id string) (orders.Order, error) {
	if s.db == nil {
		return orders.Order{}, errNoDB
	}
	row := s.db.QueryRowContext(ctx, `select `+orderColumns+` from orders where id = $1`, id)
	o, err := scanOrder(row)
	if errors.Is(err, sql.ErrNoRows) {
		return orders.Order{}, orders.ErrNotFound
	}
	return o, err
}

// List returns matching orders, newest first.
func (s *Store) List(ctx context.Context, f orders.Filter) ([]orders.Order, error) {
	if s.db == nil {
		return nil, errNoDB
	}
	var (
		where []string
		args  []any
	)
	add := func(col, val string) {
		if val == "" {
			return
		}
		args = append(args, val)
		where = append(where, fmt.Sprintf("%s = $%d", col, len(args)))
	}
	add("status", string(f.Status))
	add("department", f.Department)
	add("requested_by", f.RequestedBy)
	if !f.CreatedUntil.IsZero() {
		args = append(args, f.CreatedUntil.UTC())
		where = append(where, fmt.Sprintf("created_at <= $%d", len(args)))
	}
	order := "desc"
	if f.OldestFirst {
		order = "asc"
	}

	limit := f.Limit
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	query := `select ` + orderColumns + ` from orders`
	if len(where) > 0 {
		query += ` where ` + strings.Join(where, " and ")
	}
	args = append(args, limit)
	query += fmt.Sprintf(` order by created_at %s, id %s limit $%d`, order, order, len(args))

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []orders.Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, o)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return res, nil
}

// Update writes o only while the stored status still equals prev.
func (s *Store) Update(ctx context.Context, o orders.Order, prev orders.Status) error {
	if s.db == nil {
		return errNoDB
	}
	items, err := json.Marshal(o.Items)
	if err != nil {
		return fmt.Errorf("marshal items: %w", err)
	}
	res, err := s.db.ExecContext(ctx, `
		update orders set
			status = $3, priority = $4, department = $5, items = $6, notes = $7, updated_at = $8,
			manager_approved_by = $9, manager_approved_at = $10,
			admin_approved_by = $11, admin_approved_at = $12,
			rejected_by = $13, rejected_at = $14, rejection_reason = $15, sent_at = $16
		where id = $1 and status = $2
	`, o.ID, string(prev), string(o.Status), string(o.Priority), o.Department, items, nullIfEmpty(o.Notes), o.UpdatedAt.UTC(),
		nullIfEmpty(o.ManagerApprovedBy), nullTime(o.ManagerApprovedAt),
		nullIfEmpty(o.AdminApprovedBy), nullTime(o.AdminApprovedAt),
		nullIfEmpty(o.RejectedBy), nullTime(o.RejectedAt), nullIfEmpty(o.RejectionReason), nullTime(o.SentAt))
	if err != nil {
		return err
	}
	aff, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if aff > 0 {
		return nil
	}
	var exists int
	err = s.db.QueryRowContext(ctx, `select 1 from orders where id = $1`, o.ID).Scan(&exists)
	if errors.Is(err, sql.ErrNoRows) {
		return orders.ErrNotFound
	}
	if err != nil {
		return err
	}
	return orders.ErrConflict
}

func scanOrder(row rowScanner) (orders.Order, error) {
	var (
		o                                  orders.Order
		status, priority                   string
		rawItems                           []byte
		mgrAt, adminAt, rejectedAt, sentAt sql.NullTime
	)
	if err := row.Scan(&o.ID, &status, &priority, &o.Department, &rawItems, &o.Notes,
		&o.RequestedBy, &o.RequestedByName, &o.CreatedAt, &o.UpdatedAt,
		&o.ManagerApprovedBy, &mgrAt, &o.AdminApprovedBy, &adminAt,
		&o.RejectedBy, &rejectedAt, &o.RejectionReason, &sentAt); err != nil {
		return orders.Order{}, err
	}
	o.Status = orders.Status(status)
	o.Priority = orders.Priority(priority)
	o.CreatedAt = o.CreatedAt.UTC()
	o.UpdatedAt = o.UpdatedAt.UTC()
	if len(rawItems) > 0 {
		if err := json.Unmarshal(rawItems, &o.Items); err != nil {
			return orders.Order{}, fmt.Errorf("decode items: %w", err)
		}
	}
	o.ManagerApprovedAt = timePtr(mgrAt)
	o.AdminApprovedAt = timePtr(adminAt)
	o.RejectedAt = timePtr(rejectedAt)
	o.SentAt = timePtr(sentAt)
	return o, nil
}
