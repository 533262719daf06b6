package postgres

import (
	"regexp"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSchemaKeepsNumericUnconstrained(t *testing.T) {
	assert.NotRegexp(t, regexp.MustCompile(`(?i)numeric\s*\(`), schema,
		"a precision/scale on NUMERIC would round decimals on write")

	for _, table := range []string{"assets", "quotes", "processed_messages", "positions", "operations"} {
		assert.Contains(t, schema, "CREATE TABLE IF NOT EXISTS "+table+" (")
	}
}
