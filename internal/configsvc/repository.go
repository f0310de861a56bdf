package configsvc

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	"fieldconfig-backend/internal/fieldconfig"
	"fieldconfig-backend/internal/store"
)

const fieldColumns = "key, position, label, default_value, value_type, display, mandatory, section, data_type"

// Repository persists the canonical field configuration in insertion order.
type Repository struct {
	store *store.Store
}

func NewRepository(s *store.Store) *Repository {
	return &Repository{store: s}
}

// List returns every stored descriptor ordered by position.
func (r *Repository) List(ctx context.Context) (fieldconfig.Sequence, error) {
	return r.list(ctx, r.store.DB)
}

func (r *Repository) list(ctx context.Context, q store.Querier) (fieldconfig.Sequence, error) {
	rows, err := q.QueryContext(ctx, "SELECT "+fieldColumns+" FROM field_configs ORDER BY position, key")
	if err != nil {
		return nil, fmt.Errorf("list field configs: %w", err)
	}
	defer rows.Close()

	seq := fieldconfig.Sequence{}
	for rows.Next() {
		var (
			d        fieldconfig.Descriptor
			position int
			raw      string
			vt       string
		)
		if err := rows.Scan(&d.Key, &position, &d.Label, &raw, &vt, &d.Display, &d.Mandatory, &d.Section, &d.DataType); err != nil {
			return nil, fmt.Errorf("scan field config: %w", err)
		}
		if raw != "" {
			if err := json.Unmarshal([]byte(raw), &d.Default); err != nil {
				return nil, fmt.Errorf("decode default of %s: %w", d.Key, err)
			}
		}
		d.ValueType = fieldconfig.ValueType(vt)
		fieldconfig.Enforce(&d)
		seq = append(seq, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration: %w", err)
	}
	return seq, nil
}

// Replace makes seq the whole configuration: rows not in seq are removed
// and positions follow seq's order. It runs in one transaction.
func (r *Repository) Replace(ctx context.Context, seq fieldconfig.Sequence) error {
	return r.store.WithTx(ctx, func(tx *sql.Tx) error {
		if _, err := store.Exec(ctx, tx, "DELETE FROM field_configs"); err != nil {
			return fmt.Errorf("clear field configs: %w", err)
		}
		for i, d := range seq {
			if err := r.insert(ctx, tx, i, d); err != nil {
				return err
			}
		}
		return nil
	})
}

// AddMissing appends the descriptors whose keys are not stored yet and
// returns the keys it added, in order.
func (r *Repository) AddMissing(ctx context.Context, seq fieldconfig.Sequence) ([]string, error) {
	var added []string
	err := r.store.WithTx(ctx, func(tx *sql.Tx) error {
		existing, err := r.list(ctx, tx)
		if err != nil {
			return err
		}
		known := make(map[string]bool, len(existing))
		next := 0
		for _, d := range existing {
			known[d.Key] = true
		}
		if len(existing) > 0 {
			row, err := store.QueryRow(ctx, tx, "SELECT MAX(position) AS max_pos FROM field_configs")
			if err != nil {
				return fmt.Errorf("max position: %w", err)
			}
			if n, ok := row["max_pos"].(int64); ok {
				next = int(n) + 1
			}
		}

		for _, d := range seq {
			if known[d.Key] {
				continue
			}
			if err := r.insert(ctx, tx, next, d); err != nil {
				return err
			}
			known[d.Key] = true
			added = append(added, d.Key)
			next++
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return added, nil
}

func (r *Repository) insert(ctx context.Context, tx *sql.Tx, position int, d fieldconfig.Descriptor) error {
	def, err := json.Marshal(d.Default)
	if err != nil {
		return fmt.Errorf("encode default of %s: %w", d.Key, err)
	}
	pb := r.store.Dialect.NewParamBuilder()
	ph := []string{
		pb.Add(d.Key), pb.Add(position), pb.Add(d.Label), pb.Add(string(def)), pb.Add(string(d.ValueType)),
		pb.Add(d.Display), pb.Add(d.Mandatory), pb.Add(d.Section), pb.Add(d.DataType),
	}
	sqlStr := fmt.Sprintf("INSERT INTO field_configs (%s) VALUES (%s)", fieldColumns, strings.Join(ph, ", "))
	if _, err := store.Exec(ctx, tx, sqlStr, pb.Params()...); err != nil {
		return fmt.Errorf("insert field config %s: %w", d.Key, store.MapError(r.store.Dialect, err))
	}
	return nil
}
