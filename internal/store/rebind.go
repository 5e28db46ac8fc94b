package store

import "strings"

// rebind rewrites a $1, $2, ... placeholder query into MySQL's positional
// ? placeholders when driver is "mysql"; Postgres (pgx) queries pass
// through unchanged.
func rebind(driver, query string) string {
	if driver != "mysql" {
		return query
	}
	var b strings.Builder
	b.Grow(len(query))
	for i := 0; i < len(query); i++ {
		c := query[i]
		if c == '$' && i+1 < len(query) && query[i+1] >= '0' && query[i+1] <= '9' {
			b.WriteByte('?')
			i++
			for i+1 < len(query) && query[i+1] >= '0' && query[i+1] <= '9' {
				i++
			}
			continue
		}
		b.WriteByte(c)
	}
	return b.String()
}
