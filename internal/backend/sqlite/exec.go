package sqlite

import (
	"context"
	"database/sql"
	"strings"

	"github.com/lixdb/lix/internal/backend"
	"github.com/lixdb/lix/internal/lixerr"
)

// returnsRows reports whether query is expected to produce a row set. Lix
// only ever hands the backend fully-lowered, single statements (the bind-once
// AST layer has already classified them), so a leading-keyword check is
// sufficient — this is not a general-purpose SQL classifier.
func returnsRows(query string) bool {
	trimmed := strings.TrimSpace(query)
	upper := strings.ToUpper(trimmed)
	return strings.HasPrefix(upper, "SELECT") ||
		strings.HasPrefix(upper, "WITH") ||
		strings.HasPrefix(upper, "PRAGMA") ||
		strings.HasPrefix(upper, "EXPLAIN")
}

// dbExecer is satisfied by both *sql.DB and *sql.Tx so execOn/execOnTx share
// one code path.
type dbExecer interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func toDriverArgs(params []backend.CellValue) []any {
	args := make([]any, len(params))
	for i, p := range params {
		switch p.Kind {
		case backend.KindNull:
			args[i] = nil
		default:
			args[i] = p.Value
		}
	}
	return args
}

func toCellValue(v any) backend.CellValue {
	switch t := v.(type) {
	case nil:
		return backend.Null
	case int64:
		return backend.CellValue{Kind: backend.KindInteger, Value: t}
	case float64:
		return backend.CellValue{Kind: backend.KindReal, Value: t}
	case string:
		return backend.CellValue{Kind: backend.KindText, Value: t}
	case []byte:
		return backend.CellValue{Kind: backend.KindBlob, Value: t}
	default:
		return backend.CellValue{Kind: backend.KindText, Value: t}
	}
}

func execOn(ctx context.Context, db dbExecer, query string, params []backend.CellValue) (*backend.Result, error) {
	return execGeneric(ctx, db, query, params)
}

func execOnTx(ctx context.Context, tx *sql.Tx, query string, params []backend.CellValue) (*backend.Result, error) {
	return execGeneric(ctx, tx, query, params)
}

func execGeneric(ctx context.Context, db dbExecer, query string, params []backend.CellValue) (*backend.Result, error) {
	args := toDriverArgs(params)

	if !returnsRows(query) {
		res, err := db.ExecContext(ctx, query, args...)
		if err != nil {
			return nil, lixerr.Wrap("sqlite.Execute", lixerr.KindBackend, err)
		}
		lastID, _ := res.LastInsertId()
		affected, _ := res.RowsAffected()
		return &backend.Result{LastInsertID: lastID, RowsAffected: affected}, nil
	}

	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, lixerr.Wrap("sqlite.Execute", lixerr.KindBackend, err)
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, lixerr.Wrap("sqlite.Execute", lixerr.KindBackend, err)
	}
	result := &backend.Result{Columns: cols}
	for rows.Next() {
		raw := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range raw {
			ptrs[i] = &raw[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, lixerr.Wrap("sqlite.Execute", lixerr.KindBackend, err)
		}
		row := make(backend.Row, len(cols))
		for i, v := range raw {
			row[i] = toCellValue(v)
		}
		result.Rows = append(result.Rows, row)
	}
	if err := rows.Err(); err != nil {
		return nil, lixerr.Wrap("sqlite.Execute", lixerr.KindBackend, err)
	}
	return result, nil
}
