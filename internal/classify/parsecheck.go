package classify

import (
	pg_query "github.com/pganalyze/pg_query_go/v6"
)

// confirm parses statement with pg_query and returns ReadOnly only when the
// parse tree is a single plain SELECT: no INTO, no locking clause, and every
// CTE itself a plain SELECT.
func confirm(statement string) Result {
	tree, err := pg_query.Parse(statement)
	if err != nil {
		return ambiguous("SQL parse error: %v", err)
	}
	if len(tree.Stmts) == 0 {
		return ambiguous("empty statement")
	}
	if len(tree.Stmts) > 1 {
		return ambiguous("multiple statements are not allowed: found %d statements", len(tree.Stmts))
	}
	if reason := checkSelect(tree.Stmts[0].Stmt); reason != "" {
		return ambiguous("%s", reason)
	}
	return Result{Kind: ReadOnly, Reason: "plain SELECT"}
}

// checkSelect returns a non-empty reason when node is not a read-only SELECT.
func checkSelect(node *pg_query.Node) string {
	if node == nil {
		return "missing statement"
	}
	sel, ok := node.Node.(*pg_query.Node_SelectStmt)
	if !ok {
		return "parsed statement is not a SELECT"
	}
	return checkSelectStmt(sel.SelectStmt)
}

func checkSelectStmt(s *pg_query.SelectStmt) string {
	if s == nil {
		return ""
	}
	if s.IntoClause != nil {
		return "SELECT ... INTO creates a table"
	}
	if len(s.LockingClause) > 0 {
		return "row-locking clause acquires locks and is not treated as read-only"
	}
	if s.WithClause != nil {
		for _, cte := range s.WithClause.Ctes {
			expr, ok := cte.Node.(*pg_query.Node_CommonTableExpr)
			if !ok {
				continue
			}
			if reason := checkSelect(expr.CommonTableExpr.Ctequery); reason != "" {
				return "CTE " + expr.CommonTableExpr.Ctename + ": " + reason
			}
		}
	}
	// UNION / INTERSECT / EXCEPT arms.
	if reason := checkSelectStmt(s.Larg); reason != "" {
		return reason
	}
	return checkSelectStmt(s.Rarg)
}
