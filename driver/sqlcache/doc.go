// Package sqlcache provides a cachecore.CacheDriver on top of database/sql.
//
// SQLite (modernc.org/sqlite), PostgreSQL (pgx) and MySQL drivers are
// registered by this package. Entries and their tags live in two tables that
// are created on first use:
//
//	<table>       (k, v, ca, ea)
//	<table>_tags  (tag, k)
//
// ea is the expiry in Unix milliseconds, 0 for none.
package sqlcache
