package sql

import (
	libinjection "github.com/corazawaf/libinjection-go"
)

// InjectionCheckResult contains the result of an injection check on a
// string literal found in generated SQL.
type InjectionCheckResult struct {
	IsSQLi      bool   // True if SQL injection pattern detected
	Fingerprint string // libinjection fingerprint of the detected pattern
	Value       string // The literal that failed the check
}

// CheckValueForInjection uses libinjection to detect SQL injection patterns
// in a string value. Returns nil when no injection is detected.
func CheckValueForInjection(value string) *InjectionCheckResult {
	isSQLi, fingerprint := libinjection.IsSQLi(value)
	if isSQLi {
		return &InjectionCheckResult{
			IsSQLi:      true,
			Fingerprint: fingerprint,
			Value:       value,
		}
	}
	return nil
}

// CheckStringLiterals extracts single-quoted literals from a statement and
// screens each with libinjection. User text reaches generated SQL only inside
// literals, so this is where a prompt-injected payload would surface.
func CheckStringLiterals(sqlQuery string) []*InjectionCheckResult {
	var results []*InjectionCheckResult
	for _, literal := range extractSingleQuotedLiterals(sqlQuery) {
		if result := CheckValueForInjection(literal); result != nil {
			results = append(results, result)
		}
	}
	return results
}

// extractSingleQuotedLiterals returns the contents of single-quoted string
// literals, honoring SQL doubled-quote escapes.
func extractSingleQuotedLiterals(sqlQuery string) []string {
	var literals []string
	var current []rune
	inString := false

	runes := []rune(sqlQuery)
	for i := 0; i < len(runes); i++ {
		c := runes[i]
		if !inString {
			if c == '\'' {
				inString = true
				current = current[:0]
			}
			continue
		}
		if c == '\'' {
			if i+1 < len(runes) && runes[i+1] == '\'' {
				current = append(current, '\'')
				i++
				continue
			}
			inString = false
			literals = append(literals, string(current))
			continue
		}
		current = append(current, c)
	}

	return literals
}
