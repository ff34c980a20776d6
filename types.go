package pgsafe

// QueryRequest is the input of ExecuteSafe and Execute.
type QueryRequest struct {
	Statement string
	// Parameters is nil, Positional or Named.
	Parameters Parameters
	// Schema, when set, becomes the transaction-local search_path.
	Schema string
}

// Parameters is a sealed variant over the two binding styles: [Positional]
// for $n placeholders and [Named] for @name placeholders.
type Parameters interface {
	isParameters()
}

// Positional values bind to $1, $2, ... in order.
type Positional []any

// Named values bind to @name placeholders.
type Named map[string]any

func (Positional) isParameters() {}
func (Named) isParameters()      {}

// ClassificationKind is the verdict of the statement classifier.
type ClassificationKind string

const (
	ReadOnly  ClassificationKind = "read_only"
	Mutating  ClassificationKind = "mutating"
	Ambiguous ClassificationKind = "ambiguous"
)

// Classification explains whether a statement was judged read-only.
type Classification struct {
	Kind   ClassificationKind `json:"kind"`
	Reason string             `json:"reason"`
}

// QueryResult is the output of ExecuteSafe and Execute. Rows is populated for
// statements that return a result set, AffectedRows for INSERT, UPDATE,
// DELETE, MERGE and COPY. Both are set for RETURNING statements.
type QueryResult struct {
	Columns        []string           `json:"columns"`
	Rows           []map[string]any   `json:"rows"`
	RowCount       int                `json:"row_count"`
	AffectedRows   *int64             `json:"affected_rows,omitempty"`
	Truncated      bool               `json:"truncated,omitempty"`
	Notice         string             `json:"notice,omitempty"`
	Classification ClassificationKind `json:"classification"`
}

// ListTablesOutput is the output of ListTables.
type ListTablesOutput struct {
	Schema string   `json:"schema"`
	Tables []string `json:"tables"`
	Count  int      `json:"count"`
}

// TableDescriptor is the output of GetTableSchema.
type TableDescriptor struct {
	Schema      string             `json:"schema"`
	Name        string             `json:"table"`
	Columns     []ColumnDescriptor `json:"columns"`
	PrimaryKey  []string           `json:"primary_keys"`
	ForeignKeys []ForeignKeyRef    `json:"foreign_keys"`
}

// ColumnDescriptor describes one column. Columns are reported in their
// declared ordinal position.
type ColumnDescriptor struct {
	Name            string  `json:"name"`
	DataType        string  `json:"type"`
	Nullable        bool    `json:"nullable"`
	Default         *string `json:"default"`
	OrdinalPosition int     `json:"ordinal_position"`
	MaxLength       *int    `json:"max_length,omitempty"`
	IsPrimaryKey    bool    `json:"is_primary_key"`
}

// ForeignKeyRef describes a foreign key constraint. Columns and
// ReferencedColumns are in key order.
type ForeignKeyRef struct {
	Name              string   `json:"name"`
	Columns           []string `json:"columns"`
	ReferencedSchema  string   `json:"referenced_schema"`
	ReferencedTable   string   `json:"referenced_table"`
	ReferencedColumns []string `json:"referenced_columns"`
	OnUpdate          string   `json:"on_update"`
	OnDelete          string   `json:"on_delete"`
}
