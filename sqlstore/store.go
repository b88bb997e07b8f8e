// Package sqlstore implements persist.Adapter over database/sql for SQLite
// databases (modernc.org/sqlite).
//
// Each resource maps to the table its descriptor names, one column per
// attribute. Columns declared with type JSON hold array and object values
// (the key arrays of many_to_many associations) encoded as JSON text.
// INTEGER PRIMARY KEY tables get their keys from SQLite; other tables get a
// UUID unless the payload supplies one.
//
// NOT NULL and UNIQUE constraint failures are reported as field errors
// ("can't be blank", "has already been taken"), so a nested write collects
// them like any other validation failure.
//
// Transaction opens a database transaction and carries it in the context;
// every adapter call made with that context runs inside it.
package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/ohler55/ojg/oj"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/jacentio/arbor/record"
	"github.com/jacentio/arbor/resource"
)

// querier is the statement interface shared by *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

// Config holds configuration for the Store.
type Config struct {
	// Validators run before every save.
	Validators record.Validators

	// Logger receives statement-level debug logs. Default: slog.Default().
	Logger *slog.Logger
}

// DefaultConfig returns the default Store configuration.
func DefaultConfig() Config {
	return Config{}
}

// Store is a SQL-backed persist.Adapter.
type Store struct {
	db       *sql.DB
	registry *resource.Registry
	config   Config
	logger   *slog.Logger

	mu     sync.Mutex
	tables map[string]*tableInfo
}

// New creates a Store on an open database. The registry is used to resolve
// association targets and may still be unsealed.
func New(db *sql.DB, registry *resource.Registry, config Config) *Store {
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{
		db:       db,
		registry: registry,
		config:   config,
		logger:   logger,
		tables:   make(map[string]*tableInfo),
	}
}

// Open opens the SQLite database at path (":memory:" for a private
// in-memory database) with foreign keys enforced. The pool is limited to
// one connection so every statement sees the same database.
func Open(ctx context.Context, path string, registry *resource.Registry, config Config) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(ctx, "PRAGMA foreign_keys = ON"); err != nil {
		_ = db.Close()
		return nil, err
	}
	return New(db, registry, config), nil
}

// DB returns the underlying database.
func (s *Store) DB() *sql.DB {
	return s.db
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// txKey carries the open transaction of one Store.
type txKey struct{ store *Store }

func (s *Store) querier(ctx context.Context) querier {
	if tx, ok := ctx.Value(txKey{s}).(*sql.Tx); ok {
		return tx
	}
	return s.db
}

func (s *Store) exec(ctx context.Context, q querier, query string, args ...any) (sql.Result, error) {
	s.logger.Debug("exec", "sql", query, "args", len(args))
	return q.ExecContext(ctx, query, args...)
}

func quote(ident string) string {
	return `"` + strings.ReplaceAll(ident, `"`, `""`) + `"`
}

// encodeValue converts arrays and objects to JSON text.
func encodeValue(v any) any {
	switch k := v.(type) {
	case []string:
		arr := make([]any, len(k))
		for i, e := range k {
			arr[i] = e
		}
		return oj.JSON(arr)
	case []any, map[string]any:
		return oj.JSON(k)
	}
	return v
}

func decodeValue(c column, v any) (any, error) {
	if b, ok := v.([]byte); ok && !strings.EqualFold(c.typ, "BLOB") {
		v = string(b)
	}
	if text, ok := v.(string); ok && c.json() {
		parsed, err := oj.ParseString(text)
		if err != nil {
			return nil, fmt.Errorf("decode %s: %w", c.name, err)
		}
		return parsed, nil
	}
	return v, nil
}

// scan reads every row into a record of d's type.
func (s *Store) scan(d *resource.Descriptor, t *tableInfo, rows *sql.Rows) ([]*record.Record, error) {
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, err
	}

	var out []*record.Record
	for rows.Next() {
		vals := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range vals {
			ptrs[i] = &vals[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, fmt.Errorf("scan %s: %w", d.Type, err)
		}

		rec := record.New(d.Type)
		for i, name := range cols {
			v, err := decodeValue(t.columns[name], vals[i])
			if err != nil {
				return nil, fmt.Errorf("%s: %w", d.Type, err)
			}
			rec.Set(name, v)
		}
		rec.ID = record.KeyString(rec.Get(d.PrimaryKey))
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (s *Store) query(ctx context.Context, d *resource.Descriptor, query string, args ...any) ([]*record.Record, error) {
	q := s.querier(ctx)
	t, err := s.layout(ctx, q, d.Table)
	if err != nil {
		return nil, err
	}
	s.logger.Debug("query", "sql", query)
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query %s: %w", d.Table, err)
	}
	return s.scan(d, t, rows)
}

// Load implements persist.Adapter.
func (s *Store) Load(ctx context.Context, d *resource.Descriptor, id string) (*record.Record, error) {
	recs, err := s.query(ctx, d,
		fmt.Sprintf("SELECT * FROM %s WHERE %s = ?", quote(d.Table), quote(d.PrimaryKey)), id)
	if err != nil {
		return nil, err
	}
	if len(recs) == 0 {
		return nil, record.ErrNotFound
	}
	return recs[0], nil
}

// Save implements persist.Adapter.
func (s *Store) Save(ctx context.Context, d *resource.Descriptor, rec *record.Record, attrs map[string]any) (record.FieldErrors, error) {
	q := s.querier(ctx)
	t, err := s.layout(ctx, q, d.Table)
	if err != nil {
		return nil, err
	}

	persisted := rec.Persisted()
	changed := make([]string, 0, len(attrs))
	for k, v := range attrs {
		if k == d.PrimaryKey && persisted {
			continue
		}
		rec.Set(k, v)
		changed = append(changed, k)
	}
	sort.Strings(changed)

	written := changed
	if !persisted {
		written = make([]string, 0, len(rec.Attributes))
		for k := range rec.Attributes {
			written = append(written, k)
		}
		sort.Strings(written)
	}

	fe := s.config.Validators.Validate(rec)
	for _, k := range written {
		if _, ok := t.columns[k]; !ok {
			if fe == nil {
				fe = record.FieldErrors{}
			}
			fe.Add(k, MsgUnknownColumn)
		}
	}
	if len(fe) > 0 {
		return fe, nil
	}

	if !persisted {
		return s.insert(ctx, q, d, t, rec, written)
	}
	return s.update(ctx, q, d, rec, changed)
}

func (s *Store) insert(ctx context.Context, q querier, d *resource.Descriptor, t *tableInfo, rec *record.Record, cols []string) (record.FieldErrors, error) {
	id := record.KeyString(rec.Get(d.PrimaryKey))
	generated := id == "" && t.columns[d.PrimaryKey].rowid()
	if id == "" && !generated {
		id = uuid.NewString()
	}

	names := make([]string, 0, len(cols)+1)
	args := make([]any, 0, len(cols)+1)
	for _, c := range cols {
		if c == d.PrimaryKey {
			continue
		}
		names = append(names, quote(c))
		args = append(args, encodeValue(rec.Get(c)))
	}
	if !generated {
		names = append(names, quote(d.PrimaryKey))
		args = append(args, id)
	}

	query := fmt.Sprintf("INSERT INTO %s DEFAULT VALUES", quote(d.Table))
	if len(names) > 0 {
		query = fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
			quote(d.Table), strings.Join(names, ", "), strings.TrimSuffix(strings.Repeat("?, ", len(names)), ", "))
	}

	res, err := s.exec(ctx, q, query, args...)
	if err != nil {
		return constraintErrors(err, fmt.Sprintf("insert %s", d.Type))
	}

	if generated {
		n, err := res.LastInsertId()
		if err != nil {
			return nil, fmt.Errorf("insert %s: %w", d.Type, err)
		}
		id = strconv.FormatInt(n, 10)
		rec.Set(d.PrimaryKey, n)
	} else {
		rec.Set(d.PrimaryKey, id)
	}
	rec.ID = id
	rec.Version = 1
	return nil, nil
}

func (s *Store) update(ctx context.Context, q querier, d *resource.Descriptor, rec *record.Record, cols []string) (record.FieldErrors, error) {
	if len(cols) > 0 {
		sets := make([]string, len(cols))
		args := make([]any, 0, len(cols)+1)
		for i, c := range cols {
			sets[i] = quote(c) + " = ?"
			args = append(args, encodeValue(rec.Get(c)))
		}
		args = append(args, rec.ID)

		res, err := s.exec(ctx, q, fmt.Sprintf("UPDATE %s SET %s WHERE %s = ?",
			quote(d.Table), strings.Join(sets, ", "), quote(d.PrimaryKey)), args...)
		if err != nil {
			return constraintErrors(err, fmt.Sprintf("update %s", rec.Ref()))
		}
		if n, err := res.RowsAffected(); err == nil && n == 0 {
			return nil, fmt.Errorf("update %s: %w", rec.Ref(), record.ErrNotFound)
		}
	}
	rec.Version++
	return nil, nil
}

var constraintColumns = regexp.MustCompile(`(NOT NULL|UNIQUE) constraint failed: ([^\s,()]+(?:, [^\s,()]+)*)`)

// constraintErrors maps NOT NULL and UNIQUE constraint failures to field
// errors on the failing columns. Other errors are wrapped with op.
func constraintErrors(err error, op string) (record.FieldErrors, error) {
	var se *sqlite.Error
	if !errors.As(err, &se) || se.Code()&0xff != sqlite3.SQLITE_CONSTRAINT {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	m := constraintColumns.FindStringSubmatch(se.Error())
	if m == nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	msg := record.MsgTaken
	if m[1] == "NOT NULL" {
		msg = record.MsgBlank
	}
	fe := record.FieldErrors{}
	for _, col := range strings.Split(m[2], ", ") {
		if i := strings.LastIndexByte(col, '.'); i >= 0 {
			col = col[i+1:]
		}
		fe.Add(col, msg)
	}
	return fe, nil
}

// Delete implements persist.Adapter.
func (s *Store) Delete(ctx context.Context, d *resource.Descriptor, id string) error {
	res, err := s.exec(ctx, s.querier(ctx),
		fmt.Sprintf("DELETE FROM %s WHERE %s = ?", quote(d.Table), quote(d.PrimaryKey)), id)
	if err != nil {
		return fmt.Errorf("delete %s#%s: %w", d.Type, id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete %s#%s: %w", d.Type, id, err)
	}
	if n == 0 {
		return record.ErrNotFound
	}
	return nil
}

// Associate implements persist.Adapter. Only join table links are written
// here; keys held in columns are saved by Save.
func (s *Store) Associate(ctx context.Context, owner, related *record.Record, a *resource.Association) error {
	if a.Kind.Placement() != resource.PlacementRelatedSet || a.JoinTable == "" {
		return nil
	}
	_, err := s.exec(ctx, s.querier(ctx),
		fmt.Sprintf("INSERT OR IGNORE INTO %s (%s, %s) VALUES (?, ?)",
			quote(a.JoinTable), quote(a.JoinOwnerKey), quote(a.JoinRelatedKey)),
		owner.ID, related.ID)
	if err != nil {
		return fmt.Errorf("link %s to %s: %w", owner.Ref(), related.Ref(), err)
	}
	return nil
}

// Disassociate implements persist.Adapter.
func (s *Store) Disassociate(ctx context.Context, owner, related *record.Record, a *resource.Association) error {
	if a.Kind.Placement() != resource.PlacementRelatedSet || a.JoinTable == "" {
		return nil
	}
	_, err := s.exec(ctx, s.querier(ctx),
		fmt.Sprintf("DELETE FROM %s WHERE %s = ? AND %s = ?",
			quote(a.JoinTable), quote(a.JoinOwnerKey), quote(a.JoinRelatedKey)),
		owner.ID, related.ID)
	if err != nil {
		return fmt.Errorf("unlink %s from %s: %w", related.Ref(), owner.Ref(), err)
	}
	return nil
}

// Transaction implements persist.Adapter. A nested call on the same Store
// joins the transaction already carried by ctx.
func (s *Store) Transaction(ctx context.Context, typ string, fn func(ctx context.Context) error) error {
	if _, ok := ctx.Value(txKey{s}).(*sql.Tx); ok {
		return fn(ctx)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin %s transaction: %w", typ, err)
	}
	if err := fn(context.WithValue(ctx, txKey{s}, tx)); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			s.logger.Warn("rollback failed", "resource", typ, "error", rbErr)
		}
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit %s transaction: %w", typ, err)
	}
	return nil
}

// Related returns the stored records linked to owner through a, ordered by
// primary key.
func (s *Store) Related(ctx context.Context, owner *record.Record, a *resource.Association) ([]*record.Record, error) {
	switch a.Kind.Placement() {
	case resource.PlacementOwner:
		typ := a.Target
		if a.Kind.Polymorphic() {
			typ = a.Targets[record.KeyString(owner.Get(a.DiscriminatorAttribute))]
		}
		fk := record.KeyString(owner.Get(a.ForeignKey))
		if typ == "" || fk == "" {
			return nil, nil
		}
		d, err := s.registry.Lookup(typ)
		if err != nil {
			return nil, err
		}
		rec, err := s.Load(ctx, d, fk)
		if errors.Is(err, record.ErrNotFound) {
			return nil, nil
		}
		if err != nil {
			return nil, err
		}
		return []*record.Record{rec}, nil

	case resource.PlacementRelated:
		d, err := s.registry.Lookup(a.Target)
		if err != nil {
			return nil, err
		}
		return s.query(ctx, d, fmt.Sprintf("SELECT * FROM %s WHERE %s = ? ORDER BY %s",
			quote(d.Table), quote(a.ForeignKey), quote(d.PrimaryKey)), owner.ID)

	case resource.PlacementRelatedSet:
		d, err := s.registry.Lookup(a.Target)
		if err != nil {
			return nil, err
		}
		if a.JoinTable != "" {
			return s.query(ctx, d, fmt.Sprintf(
				"SELECT t.* FROM %s AS t JOIN %s AS j ON j.%s = t.%s WHERE j.%s = ? ORDER BY t.%s",
				quote(d.Table), quote(a.JoinTable), quote(a.JoinRelatedKey), quote(d.PrimaryKey),
				quote(a.JoinOwnerKey), quote(d.PrimaryKey)), owner.ID)
		}

		all, err := s.query(ctx, d, fmt.Sprintf("SELECT * FROM %s ORDER BY %s", quote(d.Table), quote(d.PrimaryKey)))
		if err != nil {
			return nil, err
		}
		var out []*record.Record
		for _, rec := range all {
			if record.HasKey(record.KeySet(rec.Get(a.ForeignKeysAttribute)), owner.ID) {
				out = append(out, rec)
			}
		}
		return out, nil
	}
	return nil, fmt.Errorf("%w: %s", ErrUnsupportedAssociation, a.Name)
}
