package dolt

import (
	"context"
	"database/sql"
	"strings"

	"github.com/lixdb/lix/internal/backend"
	"github.com/lixdb/lix/internal/lixerr"
)

type dbExecer interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func returnsRows(query string) bool {
	upper := strings.ToUpper(strings.TrimSpace(query))
	return strings.HasPrefix(upper, "SELECT") ||
		strings.HasPrefix(upper, "WITH") ||
		strings.HasPrefix(upper, "SHOW") ||
		strings.HasPrefix(upper, "EXPLAIN")
}

func toDriverArgs(params []backend.CellValue) []any {
	args := make([]any, len(params))
	for i, p := range params {
		if p.Kind == backend.KindNull {
			args[i] = nil
			continue
		}
		args[i] = p.Value
	}
	return args
}

// toCellValue classifies a value the MySQL driver handed back. The driver
// returns []byte for most non-numeric columns (it does not know our JSON
// vs. TEXT distinction), so text is recovered by treating any []byte from a
// non-BLOB-declared column as KindText at the surface layer instead — here
// we only do the kind-agnostic part.
func toCellValue(v any) backend.CellValue {
	switch t := v.(type) {
	case nil:
		return backend.Null
	case int64:
		return backend.CellValue{Kind: backend.KindInteger, Value: t}
	case float64:
		return backend.CellValue{Kind: backend.KindReal, Value: t}
	case []byte:
		return backend.CellValue{Kind: backend.KindBlob, Value: t}
	case string:
		return backend.CellValue{Kind: backend.KindText, Value: t}
	default:
		return backend.CellValue{Kind: backend.KindText, Value: t}
	}
}

func execGeneric(ctx context.Context, db dbExecer, query string, params []backend.CellValue) (*backend.Result, error) {
	args := toDriverArgs(params)

	if !returnsRows(query) {
		res, err := db.ExecContext(ctx, query, args...)
		if err != nil {
			return nil, lixerr.Wrap("dolt.Execute", lixerr.KindBackend, err)
		}
		lastID, _ := res.LastInsertId()
		affected, _ := res.RowsAffected()
		return &backend.Result{LastInsertID: lastID, RowsAffected: affected}, nil
	}

	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, lixerr.Wrap("dolt.Execute", lixerr.KindBackend, err)
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, lixerr.Wrap("dolt.Execute", lixerr.KindBackend, err)
	}
	result := &backend.Result{Columns: cols}
	for rows.Next() {
		raw := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range raw {
			ptrs[i] = &raw[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, lixerr.Wrap("dolt.Execute", lixerr.KindBackend, err)
		}
		row := make(backend.Row, len(cols))
		for i, v := range raw {
			row[i] = toCellValue(v)
		}
		result.Rows = append(result.Rows, row)
	}
	if err := rows.Err(); err != nil {
		return nil, lixerr.Wrap("dolt.Execute", lixerr.KindBackend, err)
	}
	return result, nil
}
