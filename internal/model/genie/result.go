package genie

// ErrKind classifies a failed question so the turn handler can pick a reply
// without inspecting error strings.
type ErrKind int

const (
	// ErrNone means the question produced a usable result.
	ErrNone ErrKind = iota
	// ErrGeneric covers any remote call or unexpected-shape failure.
	ErrGeneric
	// ErrMalformed means the remote payload could not be decoded.
	ErrMalformed
)

// ResultMetadata carries summary figures about an executed query.
type ResultMetadata struct {
	RowCount int64 `json:"row_count,omitempty"`
}

// Result is the normalized outcome of one question sent to Genie.
//
// ConversationID is always populated (even on error) so the session can keep
// continuing the remote conversation.
type Result struct {
	Message          string
	QueryDescription string
	QueryText        string
	StatementID      string
	Metadata         *ResultMetadata
	Table            *Table
	ConversationID   string
	Err              ErrKind
}

// Table is the tabular payload behind a data attachment. Cells are nullable
// strings, matching the remote data_array encoding.
type Table struct {
	Columns []Column
	Rows    [][]*string
}

// Empty reports whether the table has no renderable data rows.
func (t *Table) Empty() bool {
	if t == nil || len(t.Rows) == 0 {
		return true
	}
	for _, row := range t.Rows {
		if len(row) > 0 {
			return false
		}
	}
	return true
}

// Column describes one result column; Type only drives cell formatting.
type Column struct {
	Name string     `json:"name"`
	Type ColumnType `json:"type_name"`
}

// ColumnType is the remote type name of a result column.
type ColumnType string

const (
	TypeInt     ColumnType = "INT"
	TypeBigInt  ColumnType = "BIGINT"
	TypeLong    ColumnType = "LONG"
	TypeShort   ColumnType = "SHORT"
	TypeDecimal ColumnType = "DECIMAL"
	TypeDouble  ColumnType = "DOUBLE"
	TypeFloat   ColumnType = "FLOAT"
	TypeString  ColumnType = "STRING"
)

// IntegerLike reports whether values should be rendered as grouped integers.
func (t ColumnType) IntegerLike() bool {
	switch t {
	case TypeInt, TypeBigInt, TypeLong, TypeShort:
		return true
	}
	return false
}

// DecimalLike reports whether values should be rendered with two fixed decimals.
func (t ColumnType) DecimalLike() bool {
	switch t {
	case TypeDecimal, TypeDouble, TypeFloat:
		return true
	}
	return false
}
