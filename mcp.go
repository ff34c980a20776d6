package pgsafe

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/rickchristie/pgsafe/internal/bind"
)

// RegisterMCPTools registers list_tables, get_table_schema and
// execute_safe_query on mcpServer. execute_query is registered only when the
// engine is not read-only.
func RegisterMCPTools(mcpServer *server.MCPServer, e *Engine) {
	listTablesTool := mcp.NewTool("list_tables",
		mcp.WithDescription("List the base tables in a schema, sorted by name."),
		mcp.WithString("schema",
			mcp.Description("The schema name (defaults to 'public')"),
		),
		mcp.WithReadOnlyHintAnnotation(true),
	)
	mcpServer.AddTool(listTablesTool, e.loggedToolHandler("list_tables", func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		output, err := e.ListTables(ctx, req.GetString("schema", ""))
		if err != nil {
			return e.toolError(err), nil
		}
		return toolResult(output)
	}))

	tableSchemaTool := mcp.NewTool("get_table_schema",
		mcp.WithDescription("Describe a table: columns in ordinal order, primary key columns and foreign keys."),
		mcp.WithString("table",
			mcp.Required(),
			mcp.Description("The table name to describe"),
		),
		mcp.WithString("schema",
			mcp.Description("The schema name (defaults to 'public')"),
		),
		mcp.WithReadOnlyHintAnnotation(true),
	)
	mcpServer.AddTool(tableSchemaTool, e.loggedToolHandler("get_table_schema", func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		table, err := req.RequireString("table")
		if err != nil {
			return e.toolError(fmt.Errorf("table parameter is required")), nil
		}
		output, err := e.GetTableSchema(ctx, table, req.GetString("schema", ""))
		if err != nil {
			return e.toolError(err), nil
		}
		return toolResult(output)
	}))

	safeQueryTool := mcp.NewTool("execute_safe_query", queryArgs(
		"Run a read-only SELECT. Values must be passed as parameters ($1 with 'params', or @name with 'named_params'), never concatenated into the query. Anything that could modify data is rejected before it reaches the database.",
	)...)
	mcpServer.AddTool(safeQueryTool, e.loggedToolHandler("execute_safe_query", func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		qr, err := parseQueryRequest(req)
		if err != nil {
			return e.toolError(err), nil
		}
		output, err := e.ExecuteSafe(ctx, qr)
		if err != nil {
			return e.toolError(err), nil
		}
		return toolResult(output)
	}))

	if e.ReadOnly() {
		return
	}

	executeTool := mcp.NewTool("execute_query", queryArgs(
		"Run any statement, including INSERT, UPDATE, DELETE and DDL, in its own committed transaction. Values must be passed as parameters, never concatenated into the query. Configured approval hooks may reject a statement before it runs.",
	)...)
	mcpServer.AddTool(executeTool, e.loggedToolHandler("execute_query", func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		qr, err := parseQueryRequest(req)
		if err != nil {
			return e.toolError(err), nil
		}
		output, err := e.Execute(ctx, qr)
		if err != nil {
			return e.toolError(err), nil
		}
		return toolResult(output)
	}))
}

// queryArgs returns the options shared by the two query tools.
func queryArgs(description string) []mcp.ToolOption {
	return []mcp.ToolOption{
		mcp.WithDescription(description),
		mcp.WithString("query",
			mcp.Required(),
			mcp.Description("The SQL statement"),
		),
		mcp.WithArray("params",
			mcp.Description("Positional parameter values for $1, $2, ..."),
		),
		mcp.WithObject("named_params",
			mcp.Description("Named parameter values for @name placeholders"),
		),
		mcp.WithString("schema",
			mcp.Description("Schema to put first on the search_path for this statement"),
		),
	}
}

// parseQueryRequest reads the query tool arguments. params and named_params
// are mutually exclusive.
func parseQueryRequest(req mcp.CallToolRequest) (QueryRequest, error) {
	statement, err := req.RequireString("query")
	if err != nil {
		return QueryRequest{}, fmt.Errorf("query parameter is required")
	}
	qr := QueryRequest{Statement: statement, Schema: req.GetString("schema", "")}

	args := req.GetArguments()
	rawPositional, hasPositional := args["params"]
	rawNamed, hasNamed := args["named_params"]
	if rawPositional == nil {
		hasPositional = false
	}
	if rawNamed == nil {
		hasNamed = false
	}
	if hasPositional && hasNamed {
		return QueryRequest{}, fmt.Errorf("params and named_params cannot both be given")
	}

	switch {
	case hasPositional:
		values, ok := rawPositional.([]any)
		if !ok {
			return QueryRequest{}, fmt.Errorf("params must be an array, got %T", rawPositional)
		}
		positional := make(Positional, len(values))
		for i, v := range values {
			positional[i] = bind.Normalize(v)
		}
		qr.Parameters = positional
	case hasNamed:
		values, ok := rawNamed.(map[string]any)
		if !ok {
			return QueryRequest{}, fmt.Errorf("named_params must be an object, got %T", rawNamed)
		}
		named := make(Named, len(values))
		for k, v := range values {
			named[k] = bind.Normalize(v)
		}
		qr.Parameters = named
	}
	return qr, nil
}

// toolFailure is the JSON body of a failed tool call.
type toolFailure struct {
	Status      string  `json:"status"`
	Error       string  `json:"error"`
	ErrorType   string  `json:"error_type"`
	SQLState    string  `json:"sql_state,omitempty"`
	Transaction Outcome `json:"transaction,omitempty"`
	Prompt      string  `json:"prompt,omitempty"`
}

func (e *Engine) toolError(err error) *mcp.CallToolResult {
	kind := ErrorKind(err)
	failure := toolFailure{
		Status:    "failed",
		Error:     err.Error(),
		ErrorType: kind,
		Prompt:    e.prompts.Match(kind, err.Error()),
	}
	var de *DriverExecutionError
	if errors.As(err, &de) {
		failure.SQLState = de.SQLState
		failure.Transaction = de.Outcome
	}
	b, marshalErr := json.Marshal(failure)
	if marshalErr != nil {
		return mcp.NewToolResultError(err.Error())
	}
	return mcp.NewToolResultError(string(b))
}

func toolResult(v any) (*mcp.CallToolResult, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to marshal result: %v", err)), nil
	}
	return mcp.NewToolResultText(string(b)), nil
}

// loggedToolHandler tags the call with a request ID and logs request and
// response sizes.
func (e *Engine) loggedToolHandler(tool string, handler server.ToolHandlerFunc) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		start := time.Now()
		requestID := uuid.NewString()
		ctx = WithRequestID(ctx, requestID)

		reqLen := requestLength(req)
		result, err := handler(ctx, req)
		respLen := resultLength(result)
		failed := err != nil || (result != nil && result.IsError)
		e.metrics.RecordToolCall(tool, failed, time.Since(start))

		e.logger.Info().
			Str("tool", tool).
			Str("request_id", requestID).
			Int("request_bytes", reqLen).
			Int("response_bytes", respLen).
			Bool("is_error", failed).
			Dur("duration", time.Since(start)).
			Msg("tool call")
		return result, err
	}
}

// requestLength returns the JSON-encoded byte length of the request arguments.
func requestLength(req mcp.CallToolRequest) int {
	args := req.GetArguments()
	if len(args) == 0 {
		return 0
	}
	b, err := json.Marshal(args)
	if err != nil {
		return 0
	}
	return len(b)
}

func resultLength(result *mcp.CallToolResult) int {
	if result == nil {
		return 0
	}
	total := 0
	for _, c := range result.Content {
		if tc, ok := c.(mcp.TextContent); ok {
			total += len(tc.Text)
		}
	}
	return total
}
