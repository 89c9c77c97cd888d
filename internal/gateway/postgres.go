package gateway

import (
	"bytes"
	"context"
	"database/sql"
	"database/sql/driver"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"strings"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
)

// Postgres stores documents as JSONB rows in the "documents" table
// (see database.EnsureSchema). Batches run inside one transaction.
type Postgres struct {
	db *sqlx.DB
}

func NewPostgres(db *sqlx.DB) *Postgres {
	return &Postgres{db: db}
}

type docRow struct {
	ID     string `db:"id"`
	Fields []byte `db:"fields"`
}

// execer is satisfied by both *sqlx.DB and *sqlx.Tx.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	GetContext(ctx context.Context, dest any, query string, args ...any) error
}

func (p *Postgres) Get(ctx context.Context, collection, id string) (Document, error) {
	var row docRow
	err := p.db.GetContext(ctx, &row,
		`SELECT id, fields FROM documents WHERE collection = $1 AND id = $2`, collection, id)
	if err != nil {
		return Document{}, fmt.Errorf("get %s/%s: %w", collection, id, translatePQ(err))
	}
	return decodeRow(row)
}

func (p *Postgres) Query(ctx context.Context, q Query) (Page, error) {
	args := &argList{}
	where := []string{"collection = " + args.add(q.Collection)}
	conds, err := filterSQL(q.Filters, args)
	if err != nil {
		return Page{}, err
	}
	where = append(where, conds...)

	orderExpr := "to_jsonb(id)"
	if q.OrderBy != "" {
		orderExpr = "fields->" + args.add(q.OrderBy)
	}
	cmp, dir := "<", "DESC"
	if q.Direction == Ascending {
		cmp, dir = ">", "ASC"
	}

	if q.Cursor != "" {
		cursorValue, err := p.cursorValue(ctx, q)
		if err != nil {
			return Page{}, fmt.Errorf("query %s: cursor %s: %w", q.Collection, q.Cursor, translatePQ(err))
		}
		where = append(where, fmt.Sprintf("(COALESCE(%s, 'null'::jsonb), id) %s (%s::jsonb, %s)",
			orderExpr, cmp, args.add(string(cursorValue)), args.add(q.Cursor)))
	}

	selectFields := "fields"
	if q.IDsOnly {
		selectFields = "'{}'::jsonb AS fields"
	}
	stmt := fmt.Sprintf(`SELECT id, %s FROM documents WHERE %s ORDER BY COALESCE(%s, 'null'::jsonb) %s, id %s`,
		selectFields, strings.Join(where, " AND "), orderExpr, dir, dir)
	if q.Limit > 0 {
		stmt += " LIMIT " + args.add(q.Limit)
	}

	var rows []docRow
	if err := p.db.SelectContext(ctx, &rows, stmt, args.values...); err != nil {
		return Page{}, fmt.Errorf("query %s: %w", q.Collection, translatePQ(err))
	}

	page := Page{Items: make([]Document, 0, len(rows))}
	for _, r := range rows {
		doc, err := decodeRow(r)
		if err != nil {
			return Page{}, err
		}
		page.Items = append(page.Items, doc)
	}
	if len(page.Items) > 0 {
		page.Cursor = page.Items[len(page.Items)-1].ID
	}
	return page, nil
}

// cursorValue reads the sort key of the cursor document so the page can
// resume strictly after it.
func (p *Postgres) cursorValue(ctx context.Context, q Query) ([]byte, error) {
	var raw []byte
	if q.OrderBy == "" {
		err := p.db.GetContext(ctx, &raw,
			`SELECT to_jsonb(id) FROM documents WHERE collection = $1 AND id = $2`, q.Collection, q.Cursor)
		return raw, err
	}
	err := p.db.GetContext(ctx, &raw,
		`SELECT COALESCE(fields->$3, 'null'::jsonb) FROM documents WHERE collection = $1 AND id = $2`,
		q.Collection, q.Cursor, q.OrderBy)
	return raw, err
}

func (p *Postgres) Count(ctx context.Context, collection string, filters []Filter) (int64, error) {
	args := &argList{}
	where := []string{"collection = " + args.add(collection)}
	conds, err := filterSQL(filters, args)
	if err != nil {
		return 0, err
	}
	where = append(where, conds...)

	var n int64
	if err := p.db.GetContext(ctx, &n,
		`SELECT COUNT(*) FROM documents WHERE `+strings.Join(where, " AND "), args.values...); err != nil {
		return 0, fmt.Errorf("count %s: %w", collection, translatePQ(err))
	}
	return n, nil
}

func (p *Postgres) Set(ctx context.Context, collection, id string, fields map[string]any) error {
	return execSet(ctx, p.db, collection, id, fields)
}

func (p *Postgres) Update(ctx context.Context, collection, id string, fields map[string]any) error {
	return execUpdate(ctx, p.db, collection, id, fields)
}

func (p *Postgres) Delete(ctx context.Context, collection, id string) error {
	_, err := p.db.ExecContext(ctx, `DELETE FROM documents WHERE collection = $1 AND id = $2`, collection, id)
	if err != nil {
		return fmt.Errorf("delete %s/%s: %w", collection, id, translatePQ(err))
	}
	return nil
}

func (p *Postgres) Increment(ctx context.Context, collection, id, field string, delta int64) error {
	return execIncrement(ctx, p.db, collection, id, field, delta)
}

func (p *Postgres) ArrayUnion(ctx context.Context, collection, id, field string, values ...any) error {
	return p.mutateArray(ctx, collection, id, field, func(list []any) []any {
		for _, v := range values {
			if !containsValue(list, v) {
				list = append(list, v)
			}
		}
		return list
	})
}

func (p *Postgres) ArrayRemove(ctx context.Context, collection, id, field string, values ...any) error {
	return p.mutateArray(ctx, collection, id, field, func(list []any) []any {
		kept := make([]any, 0, len(list))
		for _, v := range list {
			if !containsValue(values, v) {
				kept = append(kept, v)
			}
		}
		return kept
	})
}

// mutateArray locks the row, applies fn to the array field and writes it back
// in the same transaction.
func (p *Postgres) mutateArray(ctx context.Context, collection, id, field string, fn func([]any) []any) error {
	tx, err := p.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", translatePQ(err))
	}
	defer tx.Rollback()

	var raw []byte
	err = tx.GetContext(ctx, &raw,
		`SELECT COALESCE(fields->$3, '[]'::jsonb) FROM documents WHERE collection = $1 AND id = $2 FOR UPDATE`,
		collection, id, field)
	if err != nil {
		return fmt.Errorf("array %s/%s: %w", collection, id, translatePQ(err))
	}
	var list []any
	if err := unmarshalJSON(raw, &list); err != nil {
		return fmt.Errorf("array %s/%s: decode %s: %w", collection, id, field, err)
	}

	encoded, err := json.Marshal(fn(list))
	if err != nil {
		return fmt.Errorf("array %s/%s: encode: %w", collection, id, err)
	}
	_, err = tx.ExecContext(ctx,
		`UPDATE documents SET fields = jsonb_set(fields, ARRAY[$3::text], $4::jsonb) WHERE collection = $1 AND id = $2`,
		collection, id, field, string(encoded))
	if err != nil {
		return fmt.Errorf("array %s/%s: %w", collection, id, translatePQ(err))
	}
	return translatePQ(tx.Commit())
}

func (p *Postgres) Batch() Batch {
	return &postgresBatch{db: p.db}
}

type postgresBatch struct {
	opQueue
	db *sqlx.DB
}

func (b *postgresBatch) Commit(ctx context.Context) error {
	tx, err := b.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", translatePQ(err))
	}
	defer tx.Rollback()

	for _, op := range b.ops {
		var err error
		switch op.kind {
		case opSet:
			err = execSet(ctx, tx, op.collection, op.id, op.fields)
		case opUpdate:
			err = execUpdate(ctx, tx, op.collection, op.id, op.fields)
		case opIncrement:
			err = execIncrement(ctx, tx, op.collection, op.id, op.field, op.delta)
		case opCreate:
			err = execCreate(ctx, tx, op.collection, op.id, op.fields)
		case opDelete:
			_, err = tx.ExecContext(ctx, `DELETE FROM documents WHERE collection = $1 AND id = $2`, op.collection, op.id)
			err = translatePQ(err)
		case opDeleteExisting:
			err = execDeleteExisting(ctx, tx, op.collection, op.id)
		}
		if err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", translatePQ(err))
	}
	return nil
}

func execSet(ctx context.Context, db execer, collection, id string, fields map[string]any) error {
	encoded, err := json.Marshal(fields)
	if err != nil {
		return fmt.Errorf("set %s/%s: encode: %w", collection, id, err)
	}
	_, err = db.ExecContext(ctx, `
		INSERT INTO documents (collection, id, fields) VALUES ($1, $2, $3::jsonb)
		ON CONFLICT (collection, id) DO UPDATE SET fields = EXCLUDED.fields`,
		collection, id, string(encoded))
	if err != nil {
		return fmt.Errorf("set %s/%s: %w", collection, id, translatePQ(err))
	}
	return nil
}

func execCreate(ctx context.Context, db execer, collection, id string, fields map[string]any) error {
	encoded, err := json.Marshal(fields)
	if err != nil {
		return fmt.Errorf("create %s/%s: encode: %w", collection, id, err)
	}
	res, err := db.ExecContext(ctx, `
		INSERT INTO documents (collection, id, fields) VALUES ($1, $2, $3::jsonb)
		ON CONFLICT (collection, id) DO NOTHING`,
		collection, id, string(encoded))
	return checkAffected(res, err, "create", collection, id, ErrAlreadyExists)
}

func execUpdate(ctx context.Context, db execer, collection, id string, fields map[string]any) error {
	encoded, err := json.Marshal(fields)
	if err != nil {
		return fmt.Errorf("update %s/%s: encode: %w", collection, id, err)
	}
	res, err := db.ExecContext(ctx,
		`UPDATE documents SET fields = fields || $3::jsonb WHERE collection = $1 AND id = $2`,
		collection, id, string(encoded))
	return checkAffected(res, err, "update", collection, id, ErrNotFound)
}

// execIncrement applies delta in SQL and clamps the result at zero, so
// concurrent increments never read-modify-write from Go.
func execIncrement(ctx context.Context, db execer, collection, id, field string, delta int64) error {
	res, err := db.ExecContext(ctx, `
		UPDATE documents
		SET fields = jsonb_set(fields, ARRAY[$3::text],
			to_jsonb(GREATEST(COALESCE((fields->>$3)::bigint, 0) + $4, 0)))
		WHERE collection = $1 AND id = $2`,
		collection, id, field, delta)
	return checkAffected(res, err, "increment", collection, id, ErrNotFound)
}

func execDeleteExisting(ctx context.Context, db execer, collection, id string) error {
	res, err := db.ExecContext(ctx, `DELETE FROM documents WHERE collection = $1 AND id = $2`, collection, id)
	return checkAffected(res, err, "delete", collection, id, ErrNotFound)
}

func checkAffected(res sql.Result, err error, op, collection, id string, zeroErr error) error {
	if err != nil {
		return fmt.Errorf("%s %s/%s: %w", op, collection, id, translatePQ(err))
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s %s/%s: rows affected: %w", op, collection, id, err)
	}
	if n == 0 {
		return fmt.Errorf("%s %s/%s: %w", op, collection, id, zeroErr)
	}
	return nil
}

// argList numbers positional parameters as they are added.
type argList struct {
	values []any
}

func (a *argList) add(v any) string {
	a.values = append(a.values, v)
	return fmt.Sprintf("$%d", len(a.values))
}

func filterSQL(filters []Filter, args *argList) ([]string, error) {
	out := make([]string, 0, len(filters))
	for _, f := range filters {
		switch f.Op {
		case OpEqual, OpLess, OpGreater:
			encoded, err := json.Marshal(f.Value)
			if err != nil {
				return nil, fmt.Errorf("filter %s: encode: %w", f.Field, err)
			}
			op := string(f.Op)
			if f.Op == OpEqual {
				op = "="
			}
			out = append(out, fmt.Sprintf("fields->%s %s %s::jsonb", args.add(f.Field), op, args.add(string(encoded))))
		case OpContains:
			encoded, err := json.Marshal([]any{f.Value})
			if err != nil {
				return nil, fmt.Errorf("filter %s: encode: %w", f.Field, err)
			}
			out = append(out, fmt.Sprintf("fields->%s @> %s::jsonb", args.add(f.Field), args.add(string(encoded))))
		default:
			return nil, fmt.Errorf("filter %s: unsupported operator %q", f.Field, f.Op)
		}
	}
	return out, nil
}

func decodeRow(r docRow) (Document, error) {
	fields := map[string]any{}
	if len(r.Fields) > 0 {
		if err := unmarshalJSON(r.Fields, &fields); err != nil {
			return Document{}, fmt.Errorf("decode %s: %w", r.ID, err)
		}
	}
	return Document{ID: r.ID, Fields: fields}, nil
}

// unmarshalJSON keeps integers exact; Int64 understands json.Number.
func unmarshalJSON(raw []byte, v any) error {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	return dec.Decode(v)
}

func translatePQ(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch pqErr.Code {
		case "23505":
			return fmt.Errorf("%w: %s", ErrAlreadyExists, pqErr.Message)
		case "42501":
			return fmt.Errorf("%w: %s", ErrPermissionDenied, pqErr.Message)
		case "57P01", "08000", "08003", "08006":
			return fmt.Errorf("%w: %s", ErrUnavailable, pqErr.Message)
		}
		return err
	}
	var netErr net.Error
	if errors.Is(err, driver.ErrBadConn) || errors.As(err, &netErr) {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return err
}
