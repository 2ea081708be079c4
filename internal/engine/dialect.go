package engine

import (
	"fmt"
	"strings"
)

// dialect captures the per-driver SQL differences the engine cares about:
// the registered database/sql driver name, identifier quoting, and parameter
// placeholder style.
type dialect struct {
	driverName  string
	quote       func(ident string) string
	placeholder func(index int) string // 1-based
}

func quoteDouble(ident string) string {
	return `"` + strings.ReplaceAll(ident, `"`, `""`) + `"`
}

func quoteBacktick(ident string) string {
	return "`" + strings.ReplaceAll(ident, "`", "``") + "`"
}

func quoteBracket(ident string) string {
	return "[" + strings.ReplaceAll(ident, "]", "]]") + "]"
}

func questionMark(int) string { return "?" }

// dialects maps the supported driver identifiers. The driverName values are
// the names the underlying drivers register with database/sql.
var dialects = map[string]dialect{
	"sqlite": {
		driverName:  "sqlite",
		quote:       quoteDouble,
		placeholder: questionMark,
	},
	"postgres": {
		driverName:  "pgx",
		quote:       quoteDouble,
		placeholder: func(i int) string { return fmt.Sprintf("$%d", i) },
	},
	"mysql": {
		driverName:  "mysql",
		quote:       quoteBacktick,
		placeholder: questionMark,
	},
	"mssql": {
		driverName:  "sqlserver",
		quote:       quoteBracket,
		placeholder: func(i int) string { return fmt.Sprintf("@p%d", i) },
	},
	"oracle": {
		driverName:  "oracle",
		quote:       quoteDouble,
		placeholder: func(i int) string { return fmt.Sprintf(":%d", i) },
	},
	"snowflake": {
		driverName:  "snowflake",
		quote:       quoteDouble,
		placeholder: questionMark,
	},
}

// SupportedDrivers returns the driver identifiers the engine can open.
func SupportedDrivers() []string {
	out := make([]string, 0, len(dialects))
	for d := range dialects {
		out = append(out, d)
	}
	return out
}
