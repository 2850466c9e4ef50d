package sql

import (
	"fmt"
	"regexp"
	"strings"
)

// deniedKeywords are write/DDL tokens that must never appear in
// model-generated SQL. This is a textual guard, not a parser: the SQL here is
// only ever model-generated read intent, never user-supplied raw SQL.
var deniedKeywords = []string{
	"DROP",
	"DELETE",
	"UPDATE",
	"INSERT",
	"ALTER",
	"CREATE",
	"TRUNCATE",
	"EXEC",
	"EXECUTE",
}

// deniedMarkers are comment markers rejected anywhere in the statement.
var deniedMarkers = []string{"--", "/*", "*/"}

var keywordPatterns = func() map[string]*regexp.Regexp {
	patterns := make(map[string]*regexp.Regexp, len(deniedKeywords))
	for _, kw := range deniedKeywords {
		patterns[kw] = regexp.MustCompile(`(?i)\b` + kw + `\b`)
	}
	return patterns
}()

// CheckReadOnly rejects SQL containing any denied keyword or comment marker,
// case-insensitively, before it reaches the database.
func CheckReadOnly(sqlQuery string) error {
	for kw, pattern := range keywordPatterns {
		if pattern.MatchString(sqlQuery) {
			return fmt.Errorf("query contains forbidden keyword: %s", kw)
		}
	}
	for _, marker := range deniedMarkers {
		if strings.Contains(sqlQuery, marker) {
			return fmt.Errorf("query contains forbidden sequence: %s", marker)
		}
	}
	return nil
}

// GuardQuery normalizes and screens a model-generated statement, returning
// the SQL that is safe to execute.
func GuardQuery(sqlQuery string) (string, error) {
	result := ValidateAndNormalize(sqlQuery)
	if result.Error != nil {
		return "", result.Error
	}
	if err := CheckReadOnly(result.NormalizedSQL); err != nil {
		return "", err
	}
	return result.NormalizedSQL, nil
}
