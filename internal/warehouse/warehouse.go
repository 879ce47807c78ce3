package warehouse

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Conn is a pooled connection to a SQL warehouse. Query results are
// materialized into Frames; WriteBack pushes cell edits back to a table in a
// single transaction.
type Conn struct {
	pool *pgxpool.Pool
}

func Connect(ctx context.Context, url string) (*Conn, error) {
	pool, err := pgxpool.New(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("failed to create warehouse pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping warehouse: %w", err)
	}

	slog.Info("connected to warehouse")

	return &Conn{pool: pool}, nil
}

func (c *Conn) Close() {
	c.pool.Close()
}

// Query runs the statement and loads the full result set into a Frame.
func (c *Conn) Query(ctx context.Context, sql string, args ...any) (*Frame, error) {
	rows, err := c.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("warehouse query failed: %w", err)
	}
	defer rows.Close()

	fields := rows.FieldDescriptions()
	columns := make([]string, len(fields))
	for i, fd := range fields {
		columns[i] = fd.Name
	}

	frame := NewFrame(columns)
	for rows.Next() {
		values, err := rows.Values()
		if err != nil {
			return nil, fmt.Errorf("failed to read warehouse row: %w", err)
		}
		row := make([]any, len(values))
		copy(row, values)
		if err := frame.AppendRow(row); err != nil {
			return nil, err
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("warehouse query failed: %w", err)
	}

	return frame, nil
}

// WriteBack updates the rows modified in the frame, matching on keyColumn.
// All updates run in one transaction so a partial write never lands.
func (c *Conn) WriteBack(ctx context.Context, frame *Frame, table, keyColumn string) error {
	dirty := frame.DirtyRows()
	if len(dirty) == 0 {
		return nil
	}

	keyIdx := -1
	for i, col := range frame.Columns() {
		if col == keyColumn {
			keyIdx = i
			break
		}
	}
	if keyIdx == -1 {
		return fmt.Errorf("key column %q not present in frame", keyColumn)
	}

	tx, err := c.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return fmt.Errorf("failed to begin warehouse transaction: %w", err)
	}
	defer tx.Rollback(ctx) // nolint:errcheck

	stmt := updateStatement(table, keyColumn, frame.Columns(), keyIdx)

	for _, rowIdx := range dirty {
		row, err := frame.Row(rowIdx)
		if err != nil {
			return err
		}

		args := make([]any, 0, len(row))
		for i, v := range row {
			if i == keyIdx {
				continue
			}
			args = append(args, v)
		}
		args = append(args, row[keyIdx])

		if _, err := tx.Exec(ctx, stmt, args...); err != nil {
			return fmt.Errorf("failed to write back row %d: %w", rowIdx, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit warehouse write back: %w", err)
	}

	frame.clearDirty()

	slog.Info("wrote back modified rows", "table", table, "rows", len(dirty))

	return nil
}

func updateStatement(table, keyColumn string, columns []string, keyIdx int) string {
	var sets []string
	arg := 1
	for i, col := range columns {
		if i == keyIdx {
			continue
		}
		sets = append(sets, fmt.Sprintf("%s = $%d", pgx.Identifier{col}.Sanitize(), arg))
		arg++
	}

	return fmt.Sprintf("UPDATE %s SET %s WHERE %s = $%d",
		pgx.Identifier{table}.Sanitize(), strings.Join(sets, ", "), pgx.Identifier{keyColumn}.Sanitize(), arg)
}
