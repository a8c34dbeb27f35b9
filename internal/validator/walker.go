package validator

import (
	"strings"

	pg_query "github.com/pganalyze/pg_query_go/v6"

	"github.com/askdba/govern/internal/coretypes"
	"github.com/askdba/govern/internal/orcherr"
)

// walker accumulates the sets spec §4.1 checks while recursively visiting
// the AST, the same depth-first-with-accumulator idiom as the teacher's
// checkExprForDangerousFunctions / checkTableExpr (internal/util/sql_parser.go)
// generalized from sqlparser.Walk callbacks to direct recursion over
// pg_query_go's typed node accessors, following the walkNode shape used by
// both grounding references in other_examples/.
type walker struct {
	policy    coretypes.SecurityPolicy
	tables    map[string]bool
	functions map[string]bool
	columns   []coretypes.ColumnRef
	maxDepth  int

	// tableAliases maps alias (or bare table name if unaliased) to the
	// table name actually referenced, so column qualifiers can be resolved
	// back to a real table for the blocked_columns check (spec §4.1 item 4,
	// "qualified entries match only when the table alias or name resolves
	// to the qualifier").
	tableAliases map[string]string

	// loneTable is the one distinct table name registered so far; it goes
	// back to "" and ambiguousTables latches true the moment a second,
	// different table enters scope. An unqualified column reference
	// resolves against loneTable when it is still set, the same
	// single-table assumption walkTargetForStar's table.* case relies on
	// alias resolution for.
	loneTable       string
	ambiguousTables bool
}

func (w *walker) init() {
	if w.tables == nil {
		w.tables = make(map[string]bool)
		w.functions = make(map[string]bool)
		w.tableAliases = make(map[string]string)
	}
}

func (w *walker) walkSelect(stmt *pg_query.SelectStmt, depth int) *orcherr.Error {
	w.init()
	if depth > w.maxDepth {
		w.maxDepth = depth
	}
	if w.policy.MaxSubqueryDepth > 0 && depth > w.policy.MaxSubqueryDepth {
		return orcherr.Validation("SubqueryTooDeep", "subquery nesting exceeds the configured limit")
	}

	if stmt.Larg != nil {
		if err := w.walkSelect(stmt.Larg, depth); err != nil {
			return err
		}
	}
	if stmt.Rarg != nil {
		if err := w.walkSelect(stmt.Rarg, depth); err != nil {
			return err
		}
	}

	if stmt.WithClause != nil {
		for _, cte := range stmt.WithClause.Ctes {
			if cteExpr := cte.GetCommonTableExpr(); cteExpr != nil {
				if inner := cteExpr.Ctequery.GetSelectStmt(); inner != nil {
					if err := w.walkSelect(inner, depth+1); err != nil {
						return err
					}
				}
			}
		}
	}

	for _, from := range stmt.FromClause {
		if err := w.walkFrom(from, depth); err != nil {
			return err
		}
	}

	for _, target := range stmt.TargetList {
		if err := w.walkTargetForStar(target); err != nil {
			return err
		}
		if err := w.walkNode(target, depth); err != nil {
			return err
		}
	}

	if stmt.WhereClause != nil {
		if err := w.walkNode(stmt.WhereClause, depth); err != nil {
			return err
		}
	}
	for _, g := range stmt.GroupClause {
		if err := w.walkNode(g, depth); err != nil {
			return err
		}
	}
	if stmt.HavingClause != nil {
		if err := w.walkNode(stmt.HavingClause, depth); err != nil {
			return err
		}
	}
	for _, s := range stmt.SortClause {
		if err := w.walkNode(s, depth); err != nil {
			return err
		}
	}
	return nil
}

func (w *walker) walkFrom(node *pg_query.Node, depth int) *orcherr.Error {
	if node == nil {
		return nil
	}
	if rv := node.GetRangeVar(); rv != nil {
		return w.registerTable(rv)
	}
	if join := node.GetJoinExpr(); join != nil {
		if err := w.walkFrom(join.Larg, depth); err != nil {
			return err
		}
		if err := w.walkFrom(join.Rarg, depth); err != nil {
			return err
		}
		if join.Quals != nil {
			return w.walkNode(join.Quals, depth)
		}
		return nil
	}
	if rs := node.GetRangeSubselect(); rs != nil {
		if inner := rs.Subquery.GetSelectStmt(); inner != nil {
			return w.walkSelect(inner, depth+1)
		}
	}
	return nil
}

func (w *walker) registerTable(rv *pg_query.RangeVar) *orcherr.Error {
	name := strings.ToLower(rv.Relname)
	qualified := name
	if rv.Schemaname != "" {
		qualified = strings.ToLower(rv.Schemaname) + "." + name
	}
	w.tables[name] = true
	w.tables[qualified] = true

	if !w.ambiguousTables {
		if w.loneTable == "" {
			w.loneTable = name
		} else if w.loneTable != name {
			w.loneTable = ""
			w.ambiguousTables = true
		}
	}

	alias := name
	if rv.Alias != nil && rv.Alias.Aliasname != "" {
		alias = strings.ToLower(rv.Alias.Aliasname)
	}
	w.tableAliases[alias] = name

	if w.policy.BlockedTables[name] || w.policy.BlockedTables[qualified] {
		return orcherr.Validation("BlockedTable", "query references a blocked table: "+rv.Relname)
	}
	return nil
}

// walkTargetForStar implements spec §4.1 item 4's SELECT * handling for a
// ResTarget whose ColumnRef ends in A_Star. The validator has no schema
// metadata here, so a star cannot be narrowed to "all but the blocked
// ones": a bare `*` is rejected when any unqualified blocked_columns entry
// exists, and a `table.*` is rejected when a qualified entry names that
// table (after alias resolution). A bare `*` over a table whose blocked
// column is listed only in qualified form is accepted.
func (w *walker) walkTargetForStar(target *pg_query.Node) *orcherr.Error {
	rt := target.GetResTarget()
	if rt == nil {
		return nil
	}
	cr := rt.Val.GetColumnRef()
	if cr == nil {
		return nil
	}
	fields := cr.Fields
	if len(fields) == 0 {
		return nil
	}
	last := fields[len(fields)-1]
	if last.GetAStar() == nil {
		return nil
	}
	if len(w.policy.BlockedColumns) == 0 {
		return nil
	}
	if len(fields) == 1 {
		// Unqualified `*`: unqualified blocked_columns entries apply to
		// every table, so any one of them rejects the star. Qualified
		// entries are not checked here, since without the tables' column
		// lists the star cannot be shown to expose them.
		for entry := range w.policy.BlockedColumns {
			if !strings.Contains(entry, ".") {
				return orcherr.Validation("BlockedColumn", "SELECT * may expose a blocked column: "+entry)
			}
		}
		return nil
	}
	// `table.*`: resolve alias, reject if any blocked_columns entry is
	// qualified to this table.
	qualifier := strings.ToLower(sval(last2(fields)))
	table, ok := w.tableAliases[qualifier]
	if !ok {
		table = qualifier
	}
	for entry := range w.policy.BlockedColumns {
		if strings.Contains(entry, ".") {
			parts := strings.SplitN(entry, ".", 2)
			if strings.EqualFold(parts[0], table) {
				return orcherr.Validation("BlockedColumn", "SELECT "+qualifier+".* may expose a blocked column: "+entry)
			}
		}
	}
	return nil
}

// last2 returns the field before the trailing star, i.e. the qualifier in
// `table.*`.
func last2(fields []*pg_query.Node) *pg_query.Node { return fields[len(fields)-2] }

func sval(n *pg_query.Node) string {
	if n == nil {
		return ""
	}
	if s := n.GetString_(); s != nil {
		return s.Sval
	}
	return ""
}

func (w *walker) walkNode(node *pg_query.Node, depth int) *orcherr.Error {
	if node == nil {
		return nil
	}

	if sl := node.GetSubLink(); sl != nil {
		if inner := sl.Subselect.GetSelectStmt(); inner != nil {
			return w.walkSelect(inner, depth+1)
		}
		return nil
	}

	if fc := node.GetFuncCall(); fc != nil {
		if err := w.validateFuncCall(fc); err != nil {
			return err
		}
		for _, arg := range fc.Args {
			if err := w.walkNode(arg, depth); err != nil {
				return err
			}
		}
		return nil
	}

	if cr := node.GetColumnRef(); cr != nil {
		return w.validateColumnRef(cr)
	}

	if ae := node.GetAExpr(); ae != nil {
		if err := w.walkNode(ae.Lexpr, depth); err != nil {
			return err
		}
		return w.walkNode(ae.Rexpr, depth)
	}

	if be := node.GetBoolExpr(); be != nil {
		for _, arg := range be.Args {
			if err := w.walkNode(arg, depth); err != nil {
				return err
			}
		}
		return nil
	}

	if nt := node.GetNullTest(); nt != nil {
		return w.walkNode(nt.Arg, depth)
	}

	if ce := node.GetCoalesceExpr(); ce != nil {
		for _, arg := range ce.Args {
			if err := w.walkNode(arg, depth); err != nil {
				return err
			}
		}
		return nil
	}

	if caseExpr := node.GetCaseExpr(); caseExpr != nil {
		if err := w.walkNode(caseExpr.Arg, depth); err != nil {
			return err
		}
		for _, when := range caseExpr.Args {
			if err := w.walkNode(when, depth); err != nil {
				return err
			}
		}
		return w.walkNode(caseExpr.Defresult, depth)
	}

	if cw := node.GetCaseWhen(); cw != nil {
		if err := w.walkNode(cw.Expr, depth); err != nil {
			return err
		}
		return w.walkNode(cw.Result, depth)
	}

	if rt := node.GetResTarget(); rt != nil {
		return w.walkNode(rt.Val, depth)
	}

	if sb := node.GetSortBy(); sb != nil {
		return w.walkNode(sb.Node, depth)
	}

	if list := node.GetList(); list != nil {
		for _, item := range list.Items {
			if err := w.walkNode(item, depth); err != nil {
				return err
			}
		}
	}
	return nil
}

func (w *walker) validateFuncCall(fc *pg_query.FuncCall) *orcherr.Error {
	name := ""
	for _, part := range fc.Funcname {
		if s := part.GetString_(); s != nil {
			name = strings.ToLower(s.Sval)
		}
	}
	w.functions[name] = true

	if builtinDangerousFunctions[name] || w.policy.BlockedFunctions[name] {
		return orcherr.Validation("BlockedFunction", "function is not permitted: "+name)
	}
	for _, prefix := range dangerousFunctionPrefixes {
		if strings.HasPrefix(name, prefix) {
			return orcherr.Validation("BlockedFunction", "function prefix is not permitted: "+name)
		}
	}
	return nil
}

func (w *walker) validateColumnRef(cr *pg_query.ColumnRef) *orcherr.Error {
	if len(w.policy.BlockedColumns) == 0 {
		return nil
	}
	fields := cr.Fields
	var table, column string
	switch len(fields) {
	case 1:
		column = sval(fields[0])
	case 2:
		table = sval(fields[0])
		column = sval(fields[1])
	default:
		if len(fields) >= 2 {
			table = sval(fields[len(fields)-2])
			column = sval(fields[len(fields)-1])
		}
	}
	if column == "" {
		return nil
	}
	w.columns = append(w.columns, coretypes.ColumnRef{Table: table, Column: column})

	resolvedTable := table
	if alias, ok := w.tableAliases[strings.ToLower(table)]; ok {
		resolvedTable = alias
	} else if table == "" && !w.ambiguousTables && w.loneTable != "" {
		resolvedTable = w.loneTable
	}
	for entry := range w.policy.BlockedColumns {
		if qualifies(entry, resolvedTable, column) {
			return orcherr.Validation("BlockedColumn", "column is not permitted: "+column)
		}
	}
	return nil
}
