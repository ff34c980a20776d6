// Package pgsafe gives AI agents parameterized PostgreSQL access through the
// Model Context Protocol (MCP).
//
// The [Engine] offers four operations. [Engine.ExecuteSafe] runs only
// statements the classifier judges read-only, in a READ ONLY transaction that
// is always rolled back. [Engine.Execute] runs anything and commits it.
// [Engine.ListTables] and [Engine.GetTableSchema] read the catalog.
//
// Values never become SQL text. Placeholders are $1, $2, ... (bound from
// [Positional]) or @name (bound from [Named]) and travel out-of-band over the
// extended query protocol (QueryExecModeExec). A count mismatch between
// placeholders and values fails with [ErrParameterCountMismatch] before any
// connection is acquired.
//
// The classifier is conservative: a lexical pass rejects anything that is not
// a single plain SELECT, and PostgreSQL's own parser (via pg_query) can only
// downgrade a read-only verdict, never upgrade it.
//
// # Library Usage
//
//	e, err := pgsafe.New(ctx, connString, pgsafe.Config{
//		Pool: pgsafe.PoolConfig{MaxConns: 10},
//		Query: pgsafe.QueryConfig{
//			DefaultTimeoutSeconds:     30,
//			ListTablesTimeoutSeconds:  10,
//			TableSchemaTimeoutSeconds: 10,
//		},
//	}, logger)
//	if err != nil {
//		log.Fatal(err)
//	}
//	defer e.Close()
//
//	res, err := e.ExecuteSafe(ctx, pgsafe.QueryRequest{
//		Statement:  "SELECT id, name FROM users WHERE name = $1",
//		Parameters: pgsafe.Positional{"alice"},
//	})
//
//	// Or register as MCP tools
//	pgsafe.RegisterMCPTools(mcpServer, e)
package pgsafe
