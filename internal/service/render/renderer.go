// Package render turns a normalized Genie result into a portable card
// message. Rendering is deterministic: the same result always produces the
// same message.
package render

import (
	"fmt"
	"strconv"

	"github.com/dustin/go-humanize"
	"go.uber.org/zap"

	"github.com/vnguyen/genie-bridge/internal/model/card"
	model "github.com/vnguyen/genie-bridge/internal/model/genie"
)

const noDataMessage = "No data available.\n\n"

// Renderer builds outbound messages from query results. The logger only
// records anomalies (expected-but-missing table data); output depends solely
// on the input result.
type Renderer struct {
	logger *zap.Logger
}

// New returns a Renderer.
func New(logger *zap.Logger) *Renderer {
	return &Renderer{logger: logger}
}

// Render applies the precedence rules: table card first, then plain text,
// then the no-data fallback.
func (r *Renderer) Render(result model.Result) card.Message {
	preface := prefaceText(result)

	if !result.Table.Empty() {
		return r.tableCard(result, preface)
	}

	if dataExpected(result) {
		r.logger.Error("statement response carried no renderable table",
			zap.String("statement", result.StatementID),
			zap.String("conversation", result.ConversationID))
		return card.Message{Text: preface + noDataMessage}
	}

	if result.Message != "" {
		return card.Message{Text: preface + result.Message + "\n\n"}
	}

	r.logger.Error("result has neither table nor message",
		zap.String("conversation", result.ConversationID))
	return card.Message{Text: preface + noDataMessage}
}

// dataExpected reports whether the result came from an executed statement,
// so an absent table is an anomaly rather than a plain text answer.
func dataExpected(result model.Result) bool {
	return result.StatementID != "" || result.Table != nil
}

func prefaceText(result model.Result) string {
	var preface string
	if result.QueryDescription != "" {
		preface += result.QueryDescription + "\n\n"
	}
	if result.Metadata != nil && result.Metadata.RowCount > 0 {
		preface += fmt.Sprintf("**Row Count:** %d\n\n", result.Metadata.RowCount)
	}
	return preface
}

func (r *Renderer) tableCard(result model.Result, preface string) card.Message {
	table := result.Table

	header := card.TableRow{Type: "TableRow"}
	for _, col := range table.Columns {
		header.Cells = append(header.Cells, card.NewCell(col.Name))
	}
	rows := []card.TableRow{header}

	for _, row := range table.Rows {
		rendered := card.TableRow{Type: "TableRow"}
		// Zip values against columns positionally; a short row drops its
		// trailing columns.
		for i, col := range table.Columns {
			if i >= len(row) {
				break
			}
			rendered.Cells = append(rendered.Cells, card.NewCell(formatCell(row[i], col.Type)))
		}
		rows = append(rows, rendered)
	}

	query := "No query provided"
	if result.QueryText != "" {
		query = FormatSQL(result.QueryText)
	}

	return card.Results(preface, rows, len(table.Columns), query)
}

// formatCell renders one cell: NULL for absent values, grouped fixed-point
// for decimal columns, grouped integers for integer columns, raw otherwise.
// Values that fail to parse as their column's numeric type fall back to the
// raw string rather than aborting the whole card.
func formatCell(value *string, colType model.ColumnType) string {
	if value == nil {
		return "NULL"
	}
	switch {
	case colType.DecimalLike():
		if f, err := strconv.ParseFloat(*value, 64); err == nil {
			return humanize.FormatFloat("#,###.##", f)
		}
	case colType.IntegerLike():
		if n, err := strconv.ParseInt(*value, 10, 64); err == nil {
			return humanize.Comma(n)
		}
	}
	return *value
}
