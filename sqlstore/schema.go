package sqlstore

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jacentio/arbor/resource"
)

type column struct {
	name    string
	typ     string
	notNull bool
	pk      bool
}

// json reports whether values of the column are stored as JSON text.
func (c column) json() bool {
	return strings.EqualFold(c.typ, "JSON")
}

// rowid reports whether the column is an alias for the rowid, so inserts
// may leave it out and read the generated key back.
func (c column) rowid() bool {
	return c.pk && strings.EqualFold(c.typ, "INTEGER")
}

type tableInfo struct {
	name    string
	columns map[string]column
	order   []string
}

// layout returns the column layout of table name, cached after the first lookup.
func (s *Store) layout(ctx context.Context, q querier, name string) (*tableInfo, error) {
	s.mu.Lock()
	t, ok := s.tables[name]
	s.mu.Unlock()
	if ok {
		return t, nil
	}

	rows, err := q.QueryContext(ctx, `SELECT name, type, "notnull", pk FROM pragma_table_info(?)`, name)
	if err != nil {
		return nil, fmt.Errorf("inspect table %s: %w", name, err)
	}
	defer rows.Close()

	t = &tableInfo{name: name, columns: make(map[string]column)}
	for rows.Next() {
		var c column
		var notNull, pk int
		if err := rows.Scan(&c.name, &c.typ, &notNull, &pk); err != nil {
			return nil, fmt.Errorf("inspect table %s: %w", name, err)
		}
		c.notNull = notNull != 0
		c.pk = pk != 0
		t.columns[c.name] = c
		t.order = append(t.order, c.name)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("inspect table %s: %w", name, err)
	}
	if len(t.order) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrUnknownTable, name)
	}

	s.mu.Lock()
	s.tables[name] = t
	s.mu.Unlock()
	return t, nil
}

// ForeignKey implements resource.SchemaInspector from the declared foreign
// keys of table.
func (s *Store) ForeignKey(ctx context.Context, table, refTable string) (string, bool, error) {
	rows, err := s.querier(ctx).QueryContext(ctx, `SELECT "table", "from" FROM pragma_foreign_key_list(?)`, table)
	if err != nil {
		return "", false, fmt.Errorf("foreign keys of %s: %w", table, err)
	}
	defer rows.Close()

	var found []string
	for rows.Next() {
		var ref, from string
		if err := rows.Scan(&ref, &from); err != nil {
			return "", false, fmt.Errorf("foreign keys of %s: %w", table, err)
		}
		if strings.EqualFold(ref, refTable) {
			found = append(found, from)
		}
	}
	if err := rows.Err(); err != nil {
		return "", false, fmt.Errorf("foreign keys of %s: %w", table, err)
	}
	if len(found) != 1 {
		return "", false, nil
	}
	return found[0], true, nil
}

// CheckRegistry reports every descriptor whose table, primary key or
// association keys are missing from the database.
func (s *Store) CheckRegistry(ctx context.Context, reg *resource.Registry) error {
	q := s.querier(ctx)
	var errs []error

	has := func(tableName, col string) error {
		t, err := s.layout(ctx, q, tableName)
		if err != nil {
			return err
		}
		if _, ok := t.columns[col]; !ok {
			return fmt.Errorf("%s has no column %q", tableName, col)
		}
		return nil
	}

	for _, d := range reg.Descriptors() {
		if err := has(d.Table, d.PrimaryKey); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", d.Type, err))
			continue
		}
		for _, a := range d.Associations {
			var err error
			switch a.Kind.Placement() {
			case resource.PlacementOwner:
				err = has(d.Table, a.ForeignKey)
				if err == nil && a.Kind.Polymorphic() {
					err = has(d.Table, a.DiscriminatorAttribute)
				}
			case resource.PlacementRelated:
				var target *resource.Descriptor
				if target, err = reg.Lookup(a.Target); err == nil {
					err = has(target.Table, a.ForeignKey)
				}
			case resource.PlacementRelatedSet:
				if a.JoinTable != "" {
					err = has(a.JoinTable, a.JoinOwnerKey)
					if err == nil {
						err = has(a.JoinTable, a.JoinRelatedKey)
					}
				} else {
					var target *resource.Descriptor
					if target, err = reg.Lookup(a.Target); err == nil {
						err = has(target.Table, a.ForeignKeysAttribute)
					}
				}
			}
			if err != nil {
				errs = append(errs, fmt.Errorf("%s.%s: %w", d.Type, a.Name, err))
			}
		}
	}
	return errors.Join(errs...)
}
