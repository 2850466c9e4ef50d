package repositories

import (
	"context"
	"fmt"

	"github.com/RetailAIUseCase/retailai-engine/pkg/database"
)

// QueryExecutor runs model-generated SQL against the tenant's connection.
// The statement must already have passed the read-only guard; execution
// happens on a scoped connection so RLS bounds what the query can see even
// if the guard is somehow bypassed.
type QueryExecutor interface {
	// ExecuteReadOnly runs the statement and returns ordered column names
	// plus all result rows. Callers apply their own sample caps.
	ExecuteReadOnly(ctx context.Context, sql string) ([]string, []map[string]any, error)
}

type queryExecutor struct{}

func NewQueryExecutor() QueryExecutor {
	return &queryExecutor{}
}

func (e *queryExecutor) ExecuteReadOnly(ctx context.Context, sql string) ([]string, []map[string]any, error) {
	scope, ok := database.GetTenantScope(ctx)
	if !ok {
		return nil, nil, fmt.Errorf("no tenant scope in context")
	}

	rows, err := scope.Conn.Query(ctx, sql)
	if err != nil {
		return nil, nil, fmt.Errorf("execute query: %w", err)
	}
	defer rows.Close()

	fields := rows.FieldDescriptions()
	columns := make([]string, len(fields))
	for i, f := range fields {
		columns[i] = f.Name
	}

	var result []map[string]any
	for rows.Next() {
		values, err := rows.Values()
		if err != nil {
			return nil, nil, fmt.Errorf("read row: %w", err)
		}
		row := make(map[string]any, len(columns))
		for i, col := range columns {
			row[col] = values[i]
		}
		result = append(result, row)
	}
	if err := rows.Err(); err != nil {
		return nil, nil, fmt.Errorf("iterate rows: %w", err)
	}
	return columns, result, nil
}
