package storage

import (
	"regexp"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Fully reserved postgres keywords can never be used unquoted as column
// names. lib/pq ships statements to the server verbatim, so a reserved
// identifier only surfaces as a runtime syntax error.
var reservedIdentifiers = map[string]bool{
	"values":  true,
	"select":  true,
	"where":   true,
	"order":   true,
	"group":   true,
	"table":   true,
	"default": true,
}

var identPattern = regexp.MustCompile(`^[a-z_][a-z0-9_]*$`)

func telemetryColumns(t *testing.T) []string {
	t.Helper()

	start := strings.Index(insertTelemetryQuery, "(")
	end := strings.Index(insertTelemetryQuery, ")")
	require.Greater(t, end, start)

	var cols []string
	for _, c := range strings.Split(insertTelemetryQuery[start+1:end], ",") {
		cols = append(cols, strings.TrimSpace(c))
	}
	return cols
}

func TestTelemetryColumnsNotReserved(t *testing.T) {
	cols := telemetryColumns(t)
	require.NotEmpty(t, cols)

	for _, col := range cols {
		assert.Regexp(t, identPattern, col)
		assert.False(t, reservedIdentifiers[col], "column %q is a reserved word", col)
	}
}

func TestTelemetryQueriesUseSameColumns(t *testing.T) {
	// The list query must select every column the insert writes, or
	// Scan and Exec drift apart silently
	for _, col := range telemetryColumns(t) {
		assert.Contains(t, listTelemetryQuery, col)
	}
}
