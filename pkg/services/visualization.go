package services

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/RetailAIUseCase/retailai-engine/pkg/apperrors"
	"github.com/RetailAIUseCase/retailai-engine/pkg/models"
)

// VisualizationService turns tabular query results into chart-type
// suggestions and, once the user commits to a type, a renderable chart
// payload. Rendering itself is an external collaborator.
type VisualizationService interface {
	// SuggestChartTypes proposes chart types that fit the column shapes of
	// the result, most suitable first. Empty when the data cannot be
	// charted (no numeric column, or no rows).
	SuggestChartTypes(columns []string, rows []map[string]any) []models.ChartType

	// BuildChart assembles a chart payload of the chosen type from pending
	// visualization state.
	BuildChart(chartType models.ChartType, pending *models.PendingVisualization) (*models.ChartPayload, error)
}

// pieCategoryCap is the most slices a pie suggestion tolerates.
const pieCategoryCap = 8

type visualizationService struct{}

// NewVisualizationService creates a new VisualizationService.
func NewVisualizationService() VisualizationService {
	return &visualizationService{}
}

var _ VisualizationService = (*visualizationService)(nil)

type columnShape struct {
	name        string
	numeric     bool
	temporal    bool
	categorical bool
}

func (s *visualizationService) SuggestChartTypes(columns []string, rows []map[string]any) []models.ChartType {
	if len(rows) == 0 || len(columns) < 2 {
		return nil
	}

	shapes := classifyColumns(columns, rows)

	var numericCols, temporalCols, categoricalCols []columnShape
	for _, shape := range shapes {
		switch {
		case shape.temporal:
			temporalCols = append(temporalCols, shape)
		case shape.numeric:
			numericCols = append(numericCols, shape)
		case shape.categorical:
			categoricalCols = append(categoricalCols, shape)
		}
	}
	if len(numericCols) == 0 {
		return nil
	}

	var suggestions []models.ChartType
	if len(temporalCols) > 0 {
		suggestions = append(suggestions, models.ChartTypeLine)
	}
	if len(categoricalCols) > 0 {
		suggestions = append(suggestions, models.ChartTypeBar)
		if distinctValues(rows, categoricalCols[0].name) <= pieCategoryCap {
			suggestions = append(suggestions, models.ChartTypePie)
		}
	}
	if len(numericCols) >= 2 {
		suggestions = append(suggestions, models.ChartTypeScatter)
	}
	if len(suggestions) == 0 {
		suggestions = append(suggestions, models.ChartTypeBar)
	}
	if len(suggestions) > 3 {
		suggestions = suggestions[:3]
	}
	return suggestions
}

func (s *visualizationService) BuildChart(chartType models.ChartType, pending *models.PendingVisualization) (*models.ChartPayload, error) {
	if pending == nil || len(pending.Data) == 0 {
		return nil, fmt.Errorf("no pending visualization data: %w", apperrors.ErrInvalidInput)
	}
	if !models.IsValidChartType(chartType) {
		return nil, fmt.Errorf("unsupported chart type %q: %w", chartType, apperrors.ErrInvalidInput)
	}

	shapes := classifyColumns(pending.Columns, pending.Data)
	xCol, yCol := pickAxes(chartType, shapes)
	if yCol == "" {
		return nil, fmt.Errorf("result has no numeric column to chart: %w", apperrors.ErrInvalidInput)
	}

	return &models.ChartPayload{
		Type:       chartType,
		Title:      pending.OriginalQuery,
		XLabel:     xCol,
		YLabel:     yCol,
		XColumn:    xCol,
		YColumn:    yCol,
		DataPoints: pending.Data,
	}, nil
}

// pickAxes chooses x/y columns per chart type: line charts prefer a temporal
// x, scatter wants two numerics, everything else pairs the first
// non-numeric column with the first numeric one.
func pickAxes(chartType models.ChartType, shapes []columnShape) (string, string) {
	var x, y string
	for _, shape := range shapes {
		switch {
		case shape.temporal && x == "":
			x = shape.name
		case shape.numeric && y == "":
			y = shape.name
		case shape.numeric && chartType == models.ChartTypeScatter && x == "":
			x = shape.name
		case !shape.numeric && x == "":
			x = shape.name
		}
	}
	if chartType == models.ChartTypeScatter {
		// Both axes numeric when available: first numeric becomes x.
		var numerics []string
		for _, shape := range shapes {
			if shape.numeric {
				numerics = append(numerics, shape.name)
			}
		}
		if len(numerics) >= 2 {
			return numerics[0], numerics[1]
		}
	}
	if x == "" && len(shapes) > 0 {
		x = shapes[0].name
	}
	return x, y
}

func classifyColumns(columns []string, rows []map[string]any) []columnShape {
	shapes := make([]columnShape, 0, len(columns))
	for _, col := range columns {
		shape := columnShape{name: col}
		for _, row := range rows {
			value, ok := row[col]
			if !ok || value == nil {
				continue
			}
			switch v := value.(type) {
			case int, int32, int64, float32, float64, decimal.Decimal:
				shape.numeric = true
			case time.Time:
				shape.temporal = true
			case string:
				if looksTemporal(v) {
					shape.temporal = true
				} else {
					shape.categorical = true
				}
			default:
				shape.categorical = true
			}
			break
		}
		shapes = append(shapes, shape)
	}
	return shapes
}

func looksTemporal(s string) bool {
	for _, layout := range []string{time.RFC3339, "2006-01-02", "2006-01"} {
		if _, err := time.Parse(layout, strings.TrimSpace(s)); err == nil {
			return true
		}
	}
	return false
}

func distinctValues(rows []map[string]any, column string) int {
	seen := make(map[string]bool)
	for _, row := range rows {
		seen[fmt.Sprint(row[column])] = true
	}
	return len(seen)
}
