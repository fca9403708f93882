// Package sqlfront parses and binds the SQL text a caller hands to Lix.
// Parsing uses vitess's production SQL grammar (vitess.io/vitess/go/vt/sqlparser,
// already an indirect dependency via dolthub/vitess) rather than a hand-rolled
// grammar, because Lix has to accept arbitrary application SQL, not a narrow
// filter DSL.
package sqlfront

import (
	"fmt"

	"vitess.io/vitess/go/vt/sqlparser"

	"github.com/lixdb/lix/internal/backend"
	"github.com/lixdb/lix/internal/lixerr"
)

// BoundStatement pairs a parsed AST with its fully resolved positional
// parameters. bound is set the first time BindOnce succeeds; a second call
// is a hard error (spec invariant: placeholders bind exactly once).
type BoundStatement struct {
	AST      sqlparser.Statement
	Literals []backend.CellValue
	bound    bool
}

// ErrPlaceholderAlreadyBound is returned by a second BindOnce call on the
// same BoundStatement.
var ErrPlaceholderAlreadyBound = lixerr.ErrPlaceholderAlreadyBound

// Parse parses sql into a vitess AST. Syntax errors are wrapped as
// lixerr.KindParse.
func Parse(sql string) (sqlparser.Statement, error) {
	stmt, err := sqlparser.Parse(sql)
	if err != nil {
		return nil, lixerr.Wrap("sqlfront.Parse", lixerr.KindParse, err)
	}
	return stmt, nil
}

// BindOnce walks stmt's `?`, `?N`, and `$N` placeholders (vitess normalizes
// all three into ValArg nodes keyed by position) and replaces each with a
// literal, returning a BoundStatement ready for planning. Binding consumes
// params positionally; a statement with fewer placeholders than params is not
// an error (extra params are simply unused), but more placeholders than
// params is a BindingError.
func BindOnce(stmt sqlparser.Statement, params []backend.CellValue) (*BoundStatement, error) {
	bound := &BoundStatement{AST: stmt, Literals: params}

	var bindErr error
	idx := 0
	_ = sqlparser.Rewrite(stmt, func(cursor *sqlparser.Cursor) bool {
		arg, ok := cursor.Node().(*sqlparser.Argument)
		if !ok {
			return true
		}
		if idx >= len(params) {
			bindErr = lixerr.Wrap("sqlfront.BindOnce", lixerr.KindBinding,
				fmt.Errorf("statement references more placeholders than %d supplied params", len(params)))
			return false
		}
		cursor.Replace(literalNode(params[idx]))
		idx++
		return true
	}, nil)
	if bindErr != nil {
		return nil, bindErr
	}

	bound.bound = true
	return bound, nil
}

// Rebind returns ErrPlaceholderAlreadyBound; BoundStatement is single-use by
// design so a planner can trust Literals never changes under it mid-plan.
func (b *BoundStatement) Rebind(params []backend.CellValue) (*BoundStatement, error) {
	if b.bound {
		return nil, ErrPlaceholderAlreadyBound
	}
	return BindOnce(b.AST, params)
}

// literalNode converts a resolved CellValue into the literal AST node vitess
// expects in a bound expression position. Values without an explicit kind
// (Kind == backend.KindNull but Value != nil) fall back to the
// classify-by-Go-type switch below, mirroring the teacher's
// internal/query/lexer.go token-classification idiom (TokenNumber vs.
// TokenString vs. TokenDuration) generalized from lexer tokens to bound
// parameter values.
func literalNode(v backend.CellValue) sqlparser.Expr {
	switch v.Kind {
	case backend.KindNull:
		if v.Value != nil {
			return classifyByGoType(v.Value)
		}
		return &sqlparser.NullVal{}
	case backend.KindInteger:
		return sqlparser.NewIntLiteral(fmt.Sprintf("%d", v.Value))
	case backend.KindReal:
		return sqlparser.NewFloatLiteral(fmt.Sprintf("%v", v.Value))
	case backend.KindText:
		s, _ := v.Value.(string)
		return sqlparser.NewStrLiteral(s)
	case backend.KindBlob:
		b, _ := v.Value.([]byte)
		return sqlparser.NewStrLiteral(string(b))
	default:
		return classifyByGoType(v.Value)
	}
}

// classifyByGoType is the fallback literal encoder for un-kinded bound
// parameters, reusing the teacher's token-classification switch shape
// (lexer.go's classifyToken) but dispatching on Go's dynamic type instead of
// lexical form.
func classifyByGoType(v any) sqlparser.Expr {
	switch t := v.(type) {
	case nil:
		return &sqlparser.NullVal{}
	case int, int32, int64:
		return sqlparser.NewIntLiteral(fmt.Sprintf("%d", t))
	case float32, float64:
		return sqlparser.NewFloatLiteral(fmt.Sprintf("%v", t))
	case []byte:
		return sqlparser.NewStrLiteral(string(t))
	case string:
		return sqlparser.NewStrLiteral(t)
	default:
		return sqlparser.NewStrLiteral(fmt.Sprintf("%v", t))
	}
}
