package models

// ChartType is a supported visualization shape.
type ChartType string

const (
	ChartTypeBar     ChartType = "bar"
	ChartTypeLine    ChartType = "line"
	ChartTypePie     ChartType = "pie"
	ChartTypeScatter ChartType = "scatter"
)

// ValidChartTypes lists all valid chart types.
var ValidChartTypes = []ChartType{
	ChartTypeBar,
	ChartTypeLine,
	ChartTypePie,
	ChartTypeScatter,
}

// IsValidChartType checks whether a chart type is valid.
func IsValidChartType(t ChartType) bool {
	for _, valid := range ValidChartTypes {
		if t == valid {
			return true
		}
	}
	return false
}

// ChartPayload is a renderable chart stored on an assistant turn. Rendering
// itself is an external collaborator; the engine only assembles the data.
type ChartPayload struct {
	Type       ChartType        `json:"type"`
	Title      string           `json:"title"`
	XLabel     string           `json:"x_label,omitempty"`
	YLabel     string           `json:"y_label,omitempty"`
	XColumn    string           `json:"x_column,omitempty"`
	YColumn    string           `json:"y_column,omitempty"`
	DataPoints []map[string]any `json:"data_points"`
}

// ChartSummary is the prompt-safe reduction of a ChartPayload.
type ChartSummary struct {
	Type       ChartType `json:"type"`
	Title      string    `json:"title"`
	PointCount int       `json:"point_count"`
}

// PendingVisualization captures chart-type candidates shown to the user but
// not yet committed, together with the data and query needed to resolve a
// later selection without re-running SQL.
type PendingVisualization struct {
	OriginalQuery  string           `json:"original_query"`
	SuggestedTypes []ChartType      `json:"suggested_types"`
	Columns        []string         `json:"columns"`
	Data           []map[string]any `json:"data"`
}
