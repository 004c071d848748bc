// Package dialect provides SQL fragment helpers for SQLite/PostgreSQL
// portability.
package dialect

const (
	SQLite3 = "sqlite3"
	PGX     = "pgx"
)

// IsPostgres returns true if the driver is PostgreSQL (pgx).
func IsPostgres(driver string) bool {
	return driver == PGX
}

// TextLike returns a case-insensitive substring predicate over a text
// column for the given driver.
func TextLike(driver, column string) string {
	if IsPostgres(driver) {
		return column + " ILIKE ?"
	}
	return column + " LIKE ?"
}
