package store

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"
)

// ErrNotFound is returned when a document id does not exist.
var ErrNotFound = errors.New("store: document not found")

var fieldPathRe = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*(\.[A-Za-z_][A-Za-z0-9_]*)*$`)

// Collection is a set of JSON documents keyed by id, stored in one table.
type Collection struct {
	db    *sql.DB
	table string
	now   func() time.Time
}

// Doc is a raw document as stored.
type Doc struct {
	ID   string
	Data json.RawMessage
}

// Cond is an equality condition on a (possibly dotted) document field.
type Cond struct {
	Field string
	Value any
}

// Query selects documents by field equality with optional ordering.
// Documents missing the order field sort last.
type Query struct {
	Where   []Cond
	OrderBy string
	Desc    bool
	Limit   int
}

// Get loads document id into dst.
func (c *Collection) Get(ctx context.Context, id string, dst any) error {
	var data string
	err := c.db.QueryRowContext(ctx, `SELECT doc FROM `+c.table+` WHERE id = ?`, id).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("store: get %s/%s: %w", c.table, id, err)
	}
	if err := json.Unmarshal([]byte(data), dst); err != nil {
		return fmt.Errorf("store: decode %s/%s: %w", c.table, id, err)
	}
	return nil
}

// Set writes doc under id, replacing any existing document.
func (c *Collection) Set(ctx context.Context, id string, doc any) error {
	data, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("store: encode %s/%s: %w", c.table, id, err)
	}
	return c.setRaw(ctx, c.db, id, data)
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func (c *Collection) setRaw(ctx context.Context, ex execer, id string, data []byte) error {
	_, err := ex.ExecContext(ctx,
		`INSERT INTO `+c.table+` (id, doc, updated_at) VALUES (?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET doc = excluded.doc, updated_at = excluded.updated_at`,
		id, string(data), c.now().UnixMilli())
	if err != nil {
		return fmt.Errorf("store: set %s/%s: %w", c.table, id, err)
	}
	return nil
}

// Delete removes id. Deleting a missing id is not an error.
func (c *Collection) Delete(ctx context.Context, id string) error {
	if _, err := c.db.ExecContext(ctx, `DELETE FROM `+c.table+` WHERE id = ?`, id); err != nil {
		return fmt.Errorf("store: delete %s/%s: %w", c.table, id, err)
	}
	return nil
}

// Find runs q and returns matching raw documents.
func (c *Collection) Find(ctx context.Context, q Query) ([]Doc, error) {
	var (
		sb   strings.Builder
		args []any
	)
	sb.WriteString(`SELECT id, doc FROM ` + c.table)
	for i, cond := range q.Where {
		if !fieldPathRe.MatchString(cond.Field) {
			return nil, fmt.Errorf("store: invalid field %q", cond.Field)
		}
		if i == 0 {
			sb.WriteString(` WHERE `)
		} else {
			sb.WriteString(` AND `)
		}
		sb.WriteString(`json_extract(doc, '$.` + cond.Field + `') = ?`)
		args = append(args, sqlValue(cond.Value))
	}
	if q.OrderBy != "" {
		if !fieldPathRe.MatchString(q.OrderBy) {
			return nil, fmt.Errorf("store: invalid order field %q", q.OrderBy)
		}
		expr := `json_extract(doc, '$.` + q.OrderBy + `')`
		dir := "ASC"
		if q.Desc {
			dir = "DESC"
		}
		sb.WriteString(` ORDER BY ` + expr + ` IS NULL, ` + expr + ` ` + dir + `, id`)
	} else {
		sb.WriteString(` ORDER BY id`)
	}
	if q.Limit > 0 {
		sb.WriteString(` LIMIT ?`)
		args = append(args, q.Limit)
	}

	rows, err := c.db.QueryContext(ctx, sb.String(), args...)
	if err != nil {
		return nil, fmt.Errorf("store: query %s: %w", c.table, err)
	}
	defer rows.Close()

	var out []Doc
	for rows.Next() {
		var id, data string
		if err := rows.Scan(&id, &data); err != nil {
			return nil, fmt.Errorf("store: scan %s: %w", c.table, err)
		}
		out = append(out, Doc{ID: id, Data: json.RawMessage(data)})
	}
	return out, rows.Err()
}

// sqlValue maps Go values to what json_extract yields for them.
func sqlValue(v any) any {
	switch x := v.(type) {
	case bool:
		if x {
			return 1
		}
		return 0
	case time.Time:
		return x.UTC().Format(time.RFC3339Nano)
	default:
		return v
	}
}

// Update ops. Values of an Update map are either plain values (set) or one
// of these.
type arrayUnion struct{ values []any }
type arrayRemove struct{ values []any }
type serverTimestamp struct{}

// ArrayUnion adds each value to an array field unless already present.
func ArrayUnion(values ...any) any { return arrayUnion{values: values} }

// ArrayRemove removes every occurrence of each value from an array field.
func ArrayRemove(values ...any) any { return arrayRemove{values: values} }

// ServerTimestamp sets a field to the store's current time.
func ServerTimestamp() any { return serverTimestamp{} }

// Update maps dotted field paths to new values or ops.
type Update map[string]any

// Update applies upd to an existing document atomically. Missing documents
// yield ErrNotFound.
func (c *Collection) Update(ctx context.Context, id string, upd Update) error {
	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("store: begin %s/%s: %w", c.table, id, err)
	}
	defer tx.Rollback()

	var data string
	err = tx.QueryRowContext(ctx, `SELECT doc FROM `+c.table+` WHERE id = ?`, id).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("store: get %s/%s: %w", c.table, id, err)
	}

	doc := map[string]any{}
	if err := json.Unmarshal([]byte(data), &doc); err != nil {
		return fmt.Errorf("store: decode %s/%s: %w", c.table, id, err)
	}
	if err := applyUpdate(doc, upd, c.now()); err != nil {
		return err
	}
	out, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("store: encode %s/%s: %w", c.table, id, err)
	}
	if err := c.setRaw(ctx, tx, id, out); err != nil {
		return err
	}
	return tx.Commit()
}

func applyUpdate(doc map[string]any, upd Update, now time.Time) error {
	for path, v := range upd {
		if !fieldPathRe.MatchString(path) {
			return fmt.Errorf("store: invalid field %q", path)
		}
		parent, key := walk(doc, path)
		switch op := v.(type) {
		case arrayUnion:
			arr := asArray(parent[key])
			for _, val := range op.values {
				if indexOf(arr, val) < 0 {
					arr = append(arr, val)
				}
			}
			parent[key] = arr
		case arrayRemove:
			arr := asArray(parent[key])
			kept := make([]any, 0, len(arr))
			for _, el := range arr {
				if indexOf(op.values, el) < 0 {
					kept = append(kept, el)
				}
			}
			parent[key] = kept
		case serverTimestamp:
			parent[key] = now.UTC().Format(time.RFC3339Nano)
		default:
			parent[key] = v
		}
	}
	return nil
}

// walk returns the map holding the last path segment, creating
// intermediate maps as needed.
func walk(doc map[string]any, path string) (map[string]any, string) {
	parts := strings.Split(path, ".")
	cur := doc
	for _, p := range parts[:len(parts)-1] {
		next, ok := cur[p].(map[string]any)
		if !ok {
			next = map[string]any{}
			cur[p] = next
		}
		cur = next
	}
	return cur, parts[len(parts)-1]
}

func asArray(v any) []any {
	switch arr := v.(type) {
	case []any:
		return arr
	case []string:
		out := make([]any, len(arr))
		for i, s := range arr {
			out[i] = s
		}
		return out
	default:
		return []any{}
	}
}

// indexOf compares by JSON encoding so decoded documents and Go values
// (e.g. float64 vs int) compare consistently.
func indexOf(arr []any, v any) int {
	want, err := json.Marshal(v)
	if err != nil {
		return -1
	}
	for i, el := range arr {
		got, err := json.Marshal(el)
		if err == nil && bytes.Equal(got, want) {
			return i
		}
	}
	return -1
}
