package surface

import (
	"encoding/json"
	"fmt"
	"strconv"

	"vitess.io/vitess/go/vt/sqlparser"

	"github.com/lixdb/lix/internal/lixerr"
)

// entityWrite is what every canonical-columns surface (lix_key_value and
// the generic entitySurface family, plus lix_state) needs from a bound
// INSERT/UPDATE/DELETE before it can build a LoweredQuery: the entity's id,
// its new content (nil for a delete), and whether this is a delete.
// Extraction only walks ctx.Statement — by the time a surface sees it,
// sqlfront.BindOnce has already replaced every `?` with a literal AST node,
// so no separate positional correlation with bound params is needed.
type entityWrite struct {
	EntityID    string
	ContentJSON []byte
	IsDelete    bool
}

// extractEntityWrite handles the common shape: idColumn identifies the
// entity (e.g. "key" for lix_key_value, "id" for the generic entity
// surfaces); every other column/SET-expr becomes a field of ContentJSON.
// An UPDATE's ContentJSON holds only the columns named in its SET clause —
// Lix records each write as its own content-addressed snapshot, not a
// merge against prior state, which the planner (pure, no backend access)
// couldn't perform anyway.
func extractEntityWrite(stmt sqlparser.Statement, idColumn string) (entityWrite, error) {
	switch s := stmt.(type) {
	case *sqlparser.Insert:
		rows, ok := s.Rows.(sqlparser.Values)
		if !ok || len(rows) == 0 {
			return entityWrite{}, lixerr.Wrapf(lixerr.KindPlanner, nil, "unsupported INSERT form for entity surface")
		}
		row := rows[0]
		content := map[string]any{}
		var entityID string
		var sawID bool
		for i, col := range s.Columns {
			if i >= len(row) {
				break
			}
			val, err := literalValue(row[i])
			if err != nil {
				return entityWrite{}, err
			}
			name := col.String()
			if name == idColumn {
				entityID = fmt.Sprintf("%v", val)
				sawID = true
				continue
			}
			content[name] = val
		}
		if !sawID {
			return entityWrite{}, lixerr.Wrapf(lixerr.KindPlanner, nil, "INSERT missing %s column", idColumn)
		}
		contentJSON, err := json.Marshal(content)
		if err != nil {
			return entityWrite{}, lixerr.Wrap("surface.extractEntityWrite", lixerr.KindPlanner, err)
		}
		return entityWrite{EntityID: entityID, ContentJSON: contentJSON}, nil

	case *sqlparser.Update:
		content := map[string]any{}
		for _, ue := range s.Exprs {
			val, err := literalValue(ue.Expr)
			if err != nil {
				return entityWrite{}, err
			}
			content[ue.Name.Name.String()] = val
		}
		entityID, err := whereEquals(s.Where, idColumn)
		if err != nil {
			return entityWrite{}, err
		}
		contentJSON, err := json.Marshal(content)
		if err != nil {
			return entityWrite{}, lixerr.Wrap("surface.extractEntityWrite", lixerr.KindPlanner, err)
		}
		return entityWrite{EntityID: entityID, ContentJSON: contentJSON}, nil

	case *sqlparser.Delete:
		entityID, err := whereEquals(s.Where, idColumn)
		if err != nil {
			return entityWrite{}, err
		}
		return entityWrite{EntityID: entityID, IsDelete: true}, nil

	default:
		return entityWrite{}, lixerr.Wrapf(lixerr.KindPlanner, nil, "unsupported statement type %T for entity surface write", stmt)
	}
}

// stateWrite is what lix_state's LowerWrite needs: unlike the fixed-schema
// surfaces, schema_key is itself a caller-supplied column here, and
// content_json is taken as-is rather than built from the remaining columns
// (lix_state's content_json column already holds the entity's full JSON
// payload — the caller writing directly to this surface bypasses content
// assembly entirely, per spec §4.3's "direct entity upsert/tombstone"
// description).
type stateWrite struct {
	EntityID    string
	SchemaKey   string
	ContentJSON []byte
	IsDelete    bool
}

func extractStateWrite(stmt sqlparser.Statement) (stateWrite, error) {
	switch s := stmt.(type) {
	case *sqlparser.Insert:
		rows, ok := s.Rows.(sqlparser.Values)
		if !ok || len(rows) == 0 {
			return stateWrite{}, lixerr.Wrapf(lixerr.KindPlanner, nil, "unsupported INSERT form for lix_state")
		}
		row := rows[0]
		var sw stateWrite
		for i, col := range s.Columns {
			if i >= len(row) {
				break
			}
			val, err := literalValue(row[i])
			if err != nil {
				return stateWrite{}, err
			}
			switch col.String() {
			case "entity_id":
				sw.EntityID = fmt.Sprintf("%v", val)
			case "schema_key":
				sw.SchemaKey = fmt.Sprintf("%v", val)
			case "content_json":
				if s, ok := val.(string); ok {
					sw.ContentJSON = []byte(s)
				}
			}
		}
		if sw.EntityID == "" || sw.SchemaKey == "" {
			return stateWrite{}, lixerr.Wrapf(lixerr.KindPlanner, nil, "INSERT into lix_state requires entity_id and schema_key")
		}
		return sw, nil

	case *sqlparser.Update:
		var sw stateWrite
		for _, ue := range s.Exprs {
			val, err := literalValue(ue.Expr)
			if err != nil {
				return stateWrite{}, err
			}
			if ue.Name.Name.String() == "content_json" {
				if s, ok := val.(string); ok {
					sw.ContentJSON = []byte(s)
				}
			}
		}
		entityID, err := whereEquals(s.Where, "entity_id")
		if err != nil {
			return stateWrite{}, err
		}
		schemaKey, err := whereEquals(s.Where, "schema_key")
		if err != nil {
			return stateWrite{}, err
		}
		sw.EntityID, sw.SchemaKey = entityID, schemaKey
		return sw, nil

	case *sqlparser.Delete:
		entityID, err := whereEquals(s.Where, "entity_id")
		if err != nil {
			return stateWrite{}, err
		}
		schemaKey, err := whereEquals(s.Where, "schema_key")
		if err != nil {
			return stateWrite{}, err
		}
		return stateWrite{EntityID: entityID, SchemaKey: schemaKey, IsDelete: true}, nil

	default:
		return stateWrite{}, lixerr.Wrapf(lixerr.KindPlanner, nil, "unsupported statement type %T for lix_state write", stmt)
	}
}

// fileWrite is what fileSurface.LowerWrite needs from a bound lix_file
// statement: the file's id, its path (only meaningful on INSERT, where the
// descriptor doesn't exist yet), and the new data bytes (nil on DELETE).
type fileWrite struct {
	FileID   string
	Path     string
	Data     []byte
	IsDelete bool
}

// extractFileWrite handles INSERT INTO lix_file (id, path, data) VALUES (...),
// UPDATE lix_file SET data = ... WHERE id = ..., and DELETE FROM lix_file
// WHERE id = ... — the three forms spec §4.5's rewrites 3-4 name.
func extractFileWrite(stmt sqlparser.Statement) (fileWrite, error) {
	switch s := stmt.(type) {
	case *sqlparser.Insert:
		rows, ok := s.Rows.(sqlparser.Values)
		if !ok || len(rows) == 0 {
			return fileWrite{}, lixerr.Wrapf(lixerr.KindPlanner, nil, "unsupported INSERT form for lix_file")
		}
		row := rows[0]
		var fw fileWrite
		for i, col := range s.Columns {
			if i >= len(row) {
				break
			}
			val, err := literalValue(row[i])
			if err != nil {
				return fileWrite{}, err
			}
			switch col.String() {
			case "id":
				fw.FileID = fmt.Sprintf("%v", val)
			case "path":
				fw.Path = fmt.Sprintf("%v", val)
			case "data":
				if b, ok := val.(string); ok {
					fw.Data = []byte(b)
				}
			}
		}
		if fw.FileID == "" {
			return fileWrite{}, lixerr.Wrapf(lixerr.KindPlanner, nil, "INSERT into lix_file requires an id column")
		}
		return fw, nil

	case *sqlparser.Update:
		var fw fileWrite
		for _, ue := range s.Exprs {
			if ue.Name.Name.String() != "data" {
				continue
			}
			val, err := literalValue(ue.Expr)
			if err != nil {
				return fileWrite{}, err
			}
			if b, ok := val.(string); ok {
				fw.Data = []byte(b)
			}
		}
		fileID, err := whereEquals(s.Where, "id")
		if err != nil {
			return fileWrite{}, err
		}
		fw.FileID = fileID
		return fw, nil

	case *sqlparser.Delete:
		fileID, err := whereEquals(s.Where, "id")
		if err != nil {
			return fileWrite{}, err
		}
		return fileWrite{FileID: fileID, IsDelete: true}, nil

	default:
		return fileWrite{}, lixerr.Wrapf(lixerr.KindPlanner, nil, "unsupported statement type %T for lix_file write", stmt)
	}
}

// selectWhereEquals pulls `column = <literal>` out of a SELECT's WHERE
// clause, mirroring whereEquals for the read path: lix_file's LowerRead is
// the only read surface that needs a caller-bound value (which file), since
// every other read surface projects its whole table.
func selectWhereEquals(stmt sqlparser.Statement, column string) (string, error) {
	sel, ok := stmt.(*sqlparser.Select)
	if !ok {
		return "", lixerr.Wrapf(lixerr.KindPlanner, nil, "unsupported statement type %T for read", stmt)
	}
	return whereEquals(sel.Where, column)
}

// whereEquals finds `column = <literal>` in a (possibly AND-chained) WHERE
// clause, which is the only predicate shape Lix's canonical entity tables
// ever need: every write targets exactly one entity by id.
func whereEquals(where *sqlparser.Where, column string) (string, error) {
	if where == nil {
		return "", lixerr.Wrapf(lixerr.KindPlanner, nil, "missing WHERE %s = ... clause", column)
	}
	val, ok := findEquals(where.Expr, column)
	if !ok {
		return "", lixerr.Wrapf(lixerr.KindPlanner, nil, "WHERE clause does not constrain %s", column)
	}
	return val, nil
}

func findEquals(expr sqlparser.Expr, column string) (string, bool) {
	switch e := expr.(type) {
	case *sqlparser.AndExpr:
		if v, ok := findEquals(e.Left, column); ok {
			return v, true
		}
		return findEquals(e.Right, column)
	case *sqlparser.ComparisonExpr:
		if e.Operator != sqlparser.EqualOp {
			return "", false
		}
		col, ok := e.Left.(*sqlparser.ColName)
		if !ok || col.Name.String() != column {
			return "", false
		}
		val, err := literalValue(e.Right)
		if err != nil {
			return "", false
		}
		return fmt.Sprintf("%v", val), true
	default:
		return "", false
	}
}

// literalValue decodes a vitess literal expression (already bound by
// sqlfront.BindOnce) into a plain Go value suitable for json.Marshal.
func literalValue(expr sqlparser.Expr) (any, error) {
	switch e := expr.(type) {
	case *sqlparser.NullVal:
		return nil, nil
	case *sqlparser.Literal:
		switch e.Type {
		case sqlparser.IntVal:
			n, err := strconv.ParseInt(string(e.Val), 10, 64)
			if err != nil {
				return nil, lixerr.Wrap("surface.literalValue", lixerr.KindPlanner, err)
			}
			return n, nil
		case sqlparser.FloatVal:
			f, err := strconv.ParseFloat(string(e.Val), 64)
			if err != nil {
				return nil, lixerr.Wrap("surface.literalValue", lixerr.KindPlanner, err)
			}
			return f, nil
		default:
			return string(e.Val), nil
		}
	default:
		return nil, lixerr.Wrapf(lixerr.KindPlanner, nil, "unsupported literal expression %T", expr)
	}
}
