package pgsafe

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
)

const schemaExistsSQL = `
SELECT EXISTS (
    SELECT 1 FROM pg_catalog.pg_namespace WHERE nspname = $1
);
`

const tableExistsSQL = `
SELECT EXISTS (
    SELECT 1
    FROM information_schema.tables
    WHERE table_schema = $1
      AND table_name = $2
);
`

const listTablesSQL = `
SELECT table_name::text
FROM information_schema.tables
WHERE table_schema = $1
  AND table_type = 'BASE TABLE'
ORDER BY table_name;
`

// information_schema columns are domain types; cast so they scan into Go
// strings and ints.
const columnsSQL = `
SELECT
    c.column_name::text,
    c.data_type::text,
    c.is_nullable::text = 'YES',
    c.column_default::text,
    c.ordinal_position::int,
    c.character_maximum_length::int
FROM information_schema.columns c
WHERE c.table_schema = $1
  AND c.table_name = $2
ORDER BY c.ordinal_position;
`

const primaryKeySQL = `
SELECT kcu.column_name::text
FROM information_schema.table_constraints tc
JOIN information_schema.key_column_usage kcu
    ON tc.constraint_name = kcu.constraint_name
    AND tc.table_schema = kcu.table_schema
    AND tc.table_name = kcu.table_name
WHERE tc.constraint_type = 'PRIMARY KEY'
  AND tc.table_schema = $1
  AND tc.table_name = $2
ORDER BY kcu.ordinal_position;
`

const foreignKeysSQL = `
SELECT
    con.conname::text AS name,
    ARRAY(
        SELECT a.attname::text
        FROM unnest(con.conkey) WITH ORDINALITY AS k(attnum, ord)
        JOIN pg_catalog.pg_attribute a ON a.attrelid = con.conrelid AND a.attnum = k.attnum
        ORDER BY k.ord
    ) AS columns,
    fn.nspname::text AS referenced_schema,
    fc.relname::text AS referenced_table,
    ARRAY(
        SELECT a.attname::text
        FROM unnest(con.confkey) WITH ORDINALITY AS k(attnum, ord)
        JOIN pg_catalog.pg_attribute a ON a.attrelid = con.confrelid AND a.attnum = k.attnum
        ORDER BY k.ord
    ) AS referenced_columns,
    CASE con.confupdtype
        WHEN 'a' THEN 'NO ACTION'
        WHEN 'r' THEN 'RESTRICT'
        WHEN 'c' THEN 'CASCADE'
        WHEN 'n' THEN 'SET NULL'
        WHEN 'd' THEN 'SET DEFAULT'
    END AS on_update,
    CASE con.confdeltype
        WHEN 'a' THEN 'NO ACTION'
        WHEN 'r' THEN 'RESTRICT'
        WHEN 'c' THEN 'CASCADE'
        WHEN 'n' THEN 'SET NULL'
        WHEN 'd' THEN 'SET DEFAULT'
    END AS on_delete
FROM pg_catalog.pg_constraint con
JOIN pg_catalog.pg_class c ON c.oid = con.conrelid
JOIN pg_catalog.pg_namespace n ON n.oid = c.relnamespace
JOIN pg_catalog.pg_class fc ON fc.oid = con.confrelid
JOIN pg_catalog.pg_namespace fn ON fn.oid = fc.relnamespace
WHERE con.contype = 'f'
  AND n.nspname = $1
  AND c.relname = $2
ORDER BY con.conname;
`

// ListTables returns the base tables in schema ordered by name. An empty
// schema means "public". Returns *SchemaNotFoundError when the schema does
// not exist.
func (e *Engine) ListTables(ctx context.Context, schema string) (*ListTablesOutput, error) {
	startTime := time.Now()
	if schema == "" {
		schema = defaultSchema
	}

	tables := []string{}
	err := e.readCatalog(ctx, e.config.Query.ListTablesTimeoutSeconds, func(ctx context.Context, tx pgx.Tx) error {
		if err := requireSchema(ctx, tx, schema); err != nil {
			return err
		}
		rows, err := tx.Query(ctx, listTablesSQL, schema)
		if err != nil {
			return driverError("list tables", OutcomeRolledBack, err)
		}
		names, err := pgx.CollectRows(rows, pgx.RowTo[string])
		if err != nil {
			return driverError("list tables", OutcomeRolledBack, err)
		}
		tables = append(tables, names...)
		return nil
	})
	if err != nil {
		return nil, e.catalogError(ctx, "ListTables", err)
	}

	e.logger.Info().
		Str("schema", schema).
		Dur("duration", time.Since(startTime)).
		Int("table_count", len(tables)).
		Msg("ListTables executed")

	return &ListTablesOutput{Schema: schema, Tables: tables, Count: len(tables)}, nil
}

// GetTableSchema describes table in schema: columns in ordinal order, the
// primary key in key order and foreign keys ordered by constraint name.
func (e *Engine) GetTableSchema(ctx context.Context, table, schema string) (*TableDescriptor, error) {
	startTime := time.Now()
	if schema == "" {
		schema = defaultSchema
	}
	if table == "" {
		return nil, fmt.Errorf("table name must be non-empty")
	}

	out := &TableDescriptor{
		Schema:      schema,
		Name:        table,
		Columns:     []ColumnDescriptor{},
		PrimaryKey:  []string{},
		ForeignKeys: []ForeignKeyRef{},
	}
	err := e.readCatalog(ctx, e.config.Query.TableSchemaTimeoutSeconds, func(ctx context.Context, tx pgx.Tx) error {
		if err := requireSchema(ctx, tx, schema); err != nil {
			return err
		}
		var exists bool
		if err := tx.QueryRow(ctx, tableExistsSQL, schema, table).Scan(&exists); err != nil {
			return driverError("check table", OutcomeRolledBack, err)
		}
		if !exists {
			return &TableNotFoundError{Schema: schema, Table: table}
		}
		if err := fetchColumns(ctx, tx, schema, table, out); err != nil {
			return err
		}
		if err := fetchPrimaryKey(ctx, tx, schema, table, out); err != nil {
			return err
		}
		return fetchForeignKeys(ctx, tx, schema, table, out)
	})
	if err != nil {
		return nil, e.catalogError(ctx, "GetTableSchema", err)
	}

	e.logger.Info().
		Str("schema", schema).
		Str("table", table).
		Dur("duration", time.Since(startTime)).
		Int("column_count", len(out.Columns)).
		Int("foreign_key_count", len(out.ForeignKeys)).
		Msg("GetTableSchema executed")

	return out, nil
}

// readCatalog runs fn in a read-only transaction that is always rolled back.
func (e *Engine) readCatalog(ctx context.Context, timeoutSeconds int, fn func(context.Context, pgx.Tx) error) error {
	queryCtx, cancel := context.WithTimeout(ctx, time.Duration(timeoutSeconds)*time.Second)
	defer cancel()

	conn, release, err := e.acquire(queryCtx)
	if err != nil {
		return driverError("acquire connection", OutcomeNotStarted, err)
	}
	defer release()

	tx, err := conn.BeginTx(queryCtx, pgx.TxOptions{AccessMode: pgx.ReadOnly})
	if err != nil {
		return driverError("begin transaction", OutcomeNotStarted, err)
	}
	defer tx.Rollback(ctx)

	return fn(queryCtx, tx)
}

func (e *Engine) catalogError(ctx context.Context, op string, err error) error {
	logEvent := e.logger.Error().Err(err).Str("op", op).Str("error_type", ErrorKind(err))
	if id := requestIDFrom(ctx); id != "" {
		logEvent = logEvent.Str("request_id", id)
	}
	logEvent.Msg("catalog error")
	return err
}

func requireSchema(ctx context.Context, tx pgx.Tx, schema string) error {
	var exists bool
	if err := tx.QueryRow(ctx, schemaExistsSQL, schema).Scan(&exists); err != nil {
		return driverError("check schema", OutcomeRolledBack, err)
	}
	if !exists {
		return &SchemaNotFoundError{Schema: schema}
	}
	return nil
}

func fetchColumns(ctx context.Context, tx pgx.Tx, schema, table string, out *TableDescriptor) error {
	rows, err := tx.Query(ctx, columnsSQL, schema, table)
	if err != nil {
		return driverError("fetch columns", OutcomeRolledBack, err)
	}
	defer rows.Close()

	for rows.Next() {
		var col ColumnDescriptor
		if err := rows.Scan(&col.Name, &col.DataType, &col.Nullable, &col.Default, &col.OrdinalPosition, &col.MaxLength); err != nil {
			return driverError("scan column", OutcomeRolledBack, err)
		}
		out.Columns = append(out.Columns, col)
	}
	if err := rows.Err(); err != nil {
		return driverError("fetch columns", OutcomeRolledBack, err)
	}
	return nil
}

func fetchPrimaryKey(ctx context.Context, tx pgx.Tx, schema, table string, out *TableDescriptor) error {
	rows, err := tx.Query(ctx, primaryKeySQL, schema, table)
	if err != nil {
		return driverError("fetch primary key", OutcomeRolledBack, err)
	}
	pk, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return driverError("fetch primary key", OutcomeRolledBack, err)
	}
	out.PrimaryKey = append(out.PrimaryKey, pk...)

	inKey := make(map[string]bool, len(pk))
	for _, name := range pk {
		inKey[name] = true
	}
	for i := range out.Columns {
		out.Columns[i].IsPrimaryKey = inKey[out.Columns[i].Name]
	}
	return nil
}

func fetchForeignKeys(ctx context.Context, tx pgx.Tx, schema, table string, out *TableDescriptor) error {
	rows, err := tx.Query(ctx, foreignKeysSQL, schema, table)
	if err != nil {
		return driverError("fetch foreign keys", OutcomeRolledBack, err)
	}
	defer rows.Close()

	for rows.Next() {
		var fk ForeignKeyRef
		if err := rows.Scan(&fk.Name, &fk.Columns, &fk.ReferencedSchema, &fk.ReferencedTable, &fk.ReferencedColumns, &fk.OnUpdate, &fk.OnDelete); err != nil {
			return driverError("scan foreign key", OutcomeRolledBack, err)
		}
		out.ForeignKeys = append(out.ForeignKeys, fk)
	}
	if err := rows.Err(); err != nil {
		return driverError("fetch foreign keys", OutcomeRolledBack, err)
	}
	return nil
}

// quoteIdent quotes name as a SQL identifier, doubling embedded quotes. The
// result is only ever passed as a bound parameter.
func quoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}
