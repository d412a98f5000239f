// Package card models the channel-agnostic renderable message the bridge
// sends back to chat transports. Cards follow the Adaptive Card 1.5 JSON
// shape so transports that understand it can render tables natively; plain
// transports fall back to Text.
package card

// Message is one outbound chat message: plain text, a card, or both.
type Message struct {
	Text string        `json:"text,omitempty"`
	Card *AdaptiveCard `json:"card,omitempty"`
}

// AdaptiveCard is the root card object.
type AdaptiveCard struct {
	Type    string   `json:"type"`
	Version string   `json:"version"`
	Body    []any    `json:"body"`
	Actions []Action `json:"actions,omitempty"`
}

// TextBlock is a block of wrapped text.
type TextBlock struct {
	Type    string `json:"type"`
	Text    string `json:"text"`
	Wrap    bool   `json:"wrap"`
	Size    string `json:"size,omitempty"`
	Weight  string `json:"weight,omitempty"`
	Spacing string `json:"spacing,omitempty"`
}

// ProgressBar is the indeterminate progress element of the waiting card.
type ProgressBar struct {
	Type string `json:"type"`
}

// Icon is a named fluent icon.
type Icon struct {
	Type string `json:"type"`
	Name string `json:"name"`
	Size string `json:"size,omitempty"`
}

// Container groups elements with a flow layout.
type Container struct {
	Type    string           `json:"type"`
	Layouts []map[string]any `json:"layouts,omitempty"`
	Items   []any            `json:"items"`
}

// Table renders tabular data with the first row as headers.
type Table struct {
	Type              string        `json:"type"`
	RoundedCorners    bool          `json:"roundedCorners"`
	FirstRowAsHeaders bool          `json:"firstRowAsHeaders"`
	Columns           []TableColumn `json:"columns"`
	Rows              []TableRow    `json:"rows"`
}

// TableColumn sets the relative width of one column.
type TableColumn struct {
	Width int `json:"width"`
}

// TableRow is one row of cells.
type TableRow struct {
	Type  string      `json:"type"`
	Cells []TableCell `json:"cells"`
}

// TableCell holds cell content; Adaptive Cards require items, not bare text.
type TableCell struct {
	Type  string `json:"type"`
	Items []any  `json:"items"`
}

// CodeBlock renders a syntax-highlighted snippet.
type CodeBlock struct {
	Type        string `json:"type"`
	CodeSnippet string `json:"codeSnippet"`
	Language    string `json:"language,omitempty"`
}

// Action is a card action; ShowCard actions carry a nested card, OpenUrl a URL.
type Action struct {
	Type  string        `json:"type"`
	Title string        `json:"title"`
	Card  *AdaptiveCard `json:"card,omitempty"`
	URL   string        `json:"url,omitempty"`
}

// NewCell wraps text in the cell structure Adaptive Cards expect.
func NewCell(text string) TableCell {
	return TableCell{
		Type:  "TableCell",
		Items: []any{TextBlock{Type: "TextBlock", Text: text, Wrap: true}},
	}
}

// Waiting builds the placeholder card shown while Genie processes a question.
func Waiting(caption string) Message {
	return Message{Card: &AdaptiveCard{
		Type:    "AdaptiveCard",
		Version: "1.5",
		Body: []any{
			TextBlock{Type: "TextBlock", Text: "Processing your request", Wrap: true, Size: "Large", Weight: "Bolder"},
			ProgressBar{Type: "ProgressBar"},
			TextBlock{Type: "TextBlock", Text: caption, Spacing: "ExtraSmall", Size: "Small"},
		},
	}}
}

// Results builds the table card: a title, the preface text, the table itself,
// and a collapsible action disclosing the SQL that produced it.
func Results(preface string, rows []TableRow, columnCount int, query string) Message {
	columns := make([]TableColumn, columnCount)
	for i := range columns {
		columns[i] = TableColumn{Width: 3}
	}

	return Message{Card: &AdaptiveCard{
		Type:    "AdaptiveCard",
		Version: "1.5",
		Body: []any{
			TextBlock{Type: "TextBlock", Text: "Results", Wrap: true, Size: "Large", Weight: "Bolder"},
			Container{
				Type:    "Container",
				Layouts: []map[string]any{{"type": "Layout.Flow", "horizontalItemsAlignment": "left"}},
				Items: []any{
					Icon{Type: "Icon", Name: "TableLightning", Size: "Small"},
					TextBlock{Type: "TextBlock", Text: preface, Wrap: true},
				},
			},
			Table{
				Type:              "Table",
				RoundedCorners:    true,
				FirstRowAsHeaders: true,
				Columns:           columns,
				Rows:              rows,
			},
		},
		Actions: []Action{{
			Type:  "Action.ShowCard",
			Title: "Show/hide SQL query",
			Card: &AdaptiveCard{
				Type:    "AdaptiveCard",
				Version: "1.5",
				Body: []any{
					CodeBlock{Type: "CodeBlock", CodeSnippet: query, Language: "Sql"},
				},
			},
		}},
	}}
}

// SignIn builds the card prompting the user to complete interactive login.
func SignIn(loginURL string) Message {
	c := &AdaptiveCard{
		Type:    "AdaptiveCard",
		Version: "1.5",
		Body: []any{
			TextBlock{Type: "TextBlock", Text: "Sign In", Wrap: true, Size: "Large", Weight: "Bolder"},
			TextBlock{Type: "TextBlock", Text: "Please Sign In", Wrap: true},
		},
	}
	if loginURL != "" {
		c.Actions = []Action{{Type: "Action.OpenUrl", Title: "Sign In", URL: loginURL}}
	}
	return Message{Card: c}
}
