package sqlcache

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"sync/atomic"
	"time"

	"github.com/goforj/tagcache/cachecore"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"
)

const (
	defaultTable  = "cache_entries"
	defaultPrefix = "cache:"
)

var sqlIdentPartRE = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// Config configures a SQL-backed cache driver.
type Config struct {
	// DriverName selects the dialect: "sqlite", "pgx", "postgres" or "mysql".
	DriverName string
	// DSN is opened with database/sql when DB is nil.
	DSN string
	// DB is an already opened handle. It stays owned by the caller and is not
	// closed by Dispose.
	DB *sql.DB
	// Table holds entries; tags go to <Table>_tags. Defaults to "cache_entries".
	Table  string
	Prefix string
	Codec  cachecore.Codec
	Logger *slog.Logger
}

func (c Config) withDefaults() Config {
	if c.Table == "" {
		c.Table = defaultTable
	}
	if c.Prefix == "" {
		c.Prefix = defaultPrefix
	}
	c.Codec = cachecore.CodecOrDefault(c.Codec)
	c.Logger = cachecore.LoggerOrDiscard(c.Logger)
	return c
}

// Store is a cachecore.CacheDriver backed by a relational database.
//
// Every write that touches tags runs in a transaction, so the tag table always
// mirrors the live rows. Expired rows are removed when they are read, or in
// bulk by Prune.
type Store struct {
	db      *sql.DB
	ownsDB  bool
	dialect string
	table   string
	tags    string
	prefix  string
	codec   cachecore.Codec
	logger  *slog.Logger
	now     func() time.Time

	hits     atomic.Int64
	misses   atomic.Int64
	disposed atomic.Bool
}

// New opens (or adopts) a database handle, creates the schema when missing and
// returns the driver.
//
// Example: sqlite file cache
//
//	store, err := sqlcache.New(ctx, sqlcache.Config{
//		DriverName: "sqlite",
//		DSN:        "file:cache.db",
//	})
//	if err != nil {
//		return err
//	}
//	defer store.Dispose()
func New(ctx context.Context, cfg Config) (*Store, error) {
	cfg = cfg.withDefaults()
	dialect, openName, err := resolveDialect(cfg.DriverName)
	if err != nil {
		return nil, err
	}
	if err := validateSQLTableName(cfg.Table); err != nil {
		return nil, err
	}

	db, owns := cfg.DB, false
	if db == nil {
		if cfg.DSN == "" {
			return nil, cachecore.ConfigError("sql dsn or db is required")
		}
		if db, err = sql.Open(openName, cfg.DSN); err != nil {
			return nil, cachecore.ConfigError(fmt.Sprintf("open %s: %v", openName, err))
		}
		owns = true
	}
	if err := db.PingContext(ctx); err != nil {
		if owns {
			_ = db.Close()
		}
		return nil, cachecore.ConnectionError("ping", err)
	}

	s := &Store{
		db:      db,
		ownsDB:  owns,
		dialect: dialect,
		table:   cfg.Table,
		tags:    cfg.Table + "_tags",
		prefix:  cfg.Prefix,
		codec:   cfg.Codec,
		logger:  cfg.Logger.With("driver", string(cachecore.DriverSQL), "dialect", dialect),
		now:     time.Now,
	}
	if err := s.ensureSchema(ctx); err != nil {
		if owns {
			_ = db.Close()
		}
		return nil, err
	}
	return s, nil
}

func resolveDialect(name string) (dialect, openName string, err error) {
	switch name {
	case "sqlite":
		return "sqlite", "sqlite", nil
	case "pgx", "postgres":
		return "postgres", "pgx", nil
	case "mysql":
		return "mysql", "mysql", nil
	case "":
		return "", "", cachecore.ConfigError("sql driver name is required")
	default:
		return "", "", cachecore.ConfigError(fmt.Sprintf("unsupported sql driver %q", name))
	}
}

func (s *Store) Driver() cachecore.Driver {
	return cachecore.DriverSQL
}

func (s *Store) ensureSchema(ctx context.Context) error {
	var stmts []string
	index := strings.ReplaceAll(s.tags, ".", "_") + "_k"
	switch s.dialect {
	case "postgres":
		stmts = []string{
			fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
				k TEXT PRIMARY KEY,
				v BYTEA NOT NULL,
				ca BIGINT NOT NULL,
				ea BIGINT NOT NULL
			)`, s.table),
			fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
				tag TEXT NOT NULL,
				k TEXT NOT NULL,
				PRIMARY KEY (tag, k)
			)`, s.tags),
			fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %s ON %s (k)`, index, s.tags),
		}
	case "mysql":
		stmts = []string{
			fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
				k VARBINARY(255) PRIMARY KEY,
				v LONGBLOB NOT NULL,
				ca BIGINT NOT NULL,
				ea BIGINT NOT NULL
			) ENGINE=InnoDB`, s.table),
			fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
				tag VARBINARY(255) NOT NULL,
				k VARBINARY(255) NOT NULL,
				PRIMARY KEY (tag, k),
				INDEX %s (k)
			) ENGINE=InnoDB`, s.tags, index),
		}
	default:
		stmts = []string{
			fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
				k TEXT PRIMARY KEY,
				v BLOB NOT NULL,
				ca INTEGER NOT NULL,
				ea INTEGER NOT NULL
			)`, s.table),
			fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
				tag TEXT NOT NULL,
				k TEXT NOT NULL,
				PRIMARY KEY (tag, k)
			)`, s.tags),
			fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %s ON %s (k)`, index, s.tags),
		}
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return cachecore.ConnectionError("create schema", err)
		}
	}
	return nil
}

func (s *Store) Set(ctx context.Context, key string, value any, opts ...cachecore.SetOption) error {
	if s.disposed.Load() {
		return cachecore.ErrDisposed
	}
	o := cachecore.ResolveSetOptions(opts...)
	payload, err := s.codec.Marshal(value)
	if err != nil {
		return fmt.Errorf("cache: encode value for key %q: %w", key, err)
	}

	now := s.now()
	var exp int64
	if o.TTL > 0 {
		exp = now.Add(o.TTL).UnixMilli()
	}
	k := s.cacheKey(key)
	return s.withTx(ctx, "set", func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, fmt.Sprintf("DELETE FROM %s WHERE k = %s", s.tags, s.ph(1)), k); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, s.upsertSQL(), k, payload, now.UnixMilli(), exp, payload, now.UnixMilli(), exp); err != nil {
			return err
		}
		insert := fmt.Sprintf("INSERT INTO %s (tag, k) VALUES (%s, %s)", s.tags, s.ph(1), s.ph(2))
		for _, tag := range o.Tags {
			if _, err := tx.ExecContext(ctx, insert, s.cacheKey(tag), k); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *Store) Get(ctx context.Context, key string) (any, bool, error) {
	if s.disposed.Load() {
		return nil, false, cachecore.ErrDisposed
	}
	k := s.cacheKey(key)
	var payload []byte
	var exp int64
	err := s.db.QueryRowContext(ctx, fmt.Sprintf("SELECT v, ea FROM %s WHERE k = %s", s.table, s.ph(1)), k).Scan(&payload, &exp)
	if errors.Is(err, sql.ErrNoRows) {
		s.misses.Add(1)
		return nil, false, nil
	}
	if err != nil {
		return nil, false, cachecore.ConnectionError("get", err)
	}
	if s.expired(exp) {
		if err := s.removeKeys(ctx, "expire", k); err != nil {
			return nil, false, err
		}
		s.misses.Add(1)
		return nil, false, nil
	}

	value, err := s.codec.Unmarshal(payload)
	if err != nil {
		s.logger.Warn("dropping undecodable cache payload", "key", key,
			"error", cachecore.DeserializationError(key, err))
		if delErr := s.removeKeys(ctx, "delete", k); delErr != nil {
			s.logger.Warn("failed to delete undecodable cache payload", "key", key, "error", delErr)
		}
		s.misses.Add(1)
		return nil, false, nil
	}
	s.hits.Add(1)
	return value, true, nil
}

func (s *Store) Has(ctx context.Context, key string) (bool, error) {
	if s.disposed.Load() {
		return false, cachecore.ErrDisposed
	}
	k := s.cacheKey(key)
	var exp int64
	err := s.db.QueryRowContext(ctx, fmt.Sprintf("SELECT ea FROM %s WHERE k = %s", s.table, s.ph(1)), k).Scan(&exp)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, cachecore.ConnectionError("has", err)
	}
	if s.expired(exp) {
		return false, s.removeKeys(ctx, "expire", k)
	}
	return true, nil
}

func (s *Store) Delete(ctx context.Context, key string) error {
	if s.disposed.Load() {
		return cachecore.ErrDisposed
	}
	return s.removeKeys(ctx, "delete", s.cacheKey(key))
}

// Clear removes every row under the prefix. Other prefixes sharing the table
// are untouched.
func (s *Store) Clear(ctx context.Context) error {
	if s.disposed.Load() {
		return cachecore.ErrDisposed
	}
	return s.withTx(ctx, "clear", func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, fmt.Sprintf("DELETE FROM %s WHERE %s", s.tags, s.prefixMatch("k")), s.prefix); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx, fmt.Sprintf("DELETE FROM %s WHERE %s", s.table, s.prefixMatch("k")), s.prefix)
		return err
	})
}

func (s *Store) InvalidateTags(ctx context.Context, tags ...string) error {
	if s.disposed.Load() {
		return cachecore.ErrDisposed
	}
	tags = cachecore.NormalizeTags(tags)
	if len(tags) == 0 {
		return nil
	}
	args := make([]any, len(tags))
	for i, tag := range tags {
		args[i] = s.cacheKey(tag)
	}

	return s.withTx(ctx, "invalidate", func(tx *sql.Tx) error {
		rows, err := tx.QueryContext(ctx, fmt.Sprintf("SELECT DISTINCT k FROM %s WHERE tag IN (%s)", s.tags, s.placeholders(len(args))), args...)
		if err != nil {
			return err
		}
		var keys []any
		for rows.Next() {
			var k string
			if err := rows.Scan(&k); err != nil {
				rows.Close()
				return err
			}
			keys = append(keys, k)
		}
		if err := rows.Close(); err != nil {
			return err
		}
		if err := rows.Err(); err != nil {
			return err
		}
		if len(keys) == 0 {
			return nil
		}
		return s.deleteKeysTx(ctx, tx, keys)
	})
}

// Stats aggregates over live rows under the prefix. Size is the sum of stored
// payload lengths.
func (s *Store) Stats(ctx context.Context) (cachecore.Stats, error) {
	if s.disposed.Load() {
		return cachecore.Stats{}, cachecore.ErrDisposed
	}
	stats := cachecore.Stats{
		Hits:   s.hits.Load(),
		Misses: s.misses.Load(),
	}
	now := s.now().UnixMilli()
	live := fmt.Sprintf("%s AND (ea = 0 OR ea > %s)", s.prefixMatch("k"), s.ph(2))
	query := fmt.Sprintf("SELECT COUNT(*), %s FROM %s WHERE %s", s.bigint("COALESCE(SUM(LENGTH(v)), 0)"), s.table, live)
	if err := s.db.QueryRowContext(ctx, query, s.prefix, now).Scan(&stats.KeyCount, &stats.Size); err != nil {
		return cachecore.Stats{}, cachecore.ConnectionError("stats", err)
	}
	query = fmt.Sprintf("SELECT COUNT(DISTINCT t.tag) FROM %s t JOIN %s e ON e.k = t.k WHERE %s AND (e.ea = 0 OR e.ea > %s)",
		s.tags, s.table, s.prefixMatch("t.k"), s.ph(2))
	if err := s.db.QueryRowContext(ctx, query, s.prefix, now).Scan(&stats.TagCount); err != nil {
		return cachecore.Stats{}, cachecore.ConnectionError("stats", err)
	}
	return stats, nil
}

// Prune deletes every expired row under the prefix and returns how many were
// removed.
func (s *Store) Prune(ctx context.Context) (int64, error) {
	if s.disposed.Load() {
		return 0, cachecore.ErrDisposed
	}
	now := s.now().UnixMilli()
	expired := fmt.Sprintf("%s AND ea <> 0 AND ea <= %s", s.prefixMatch("k"), s.ph(2))
	var removed int64
	err := s.withTx(ctx, "prune", func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, fmt.Sprintf("DELETE FROM %s WHERE k IN (SELECT k FROM %s WHERE %s)", s.tags, s.table, expired), s.prefix, now); err != nil {
			return err
		}
		res, err := tx.ExecContext(ctx, fmt.Sprintf("DELETE FROM %s WHERE %s", s.table, expired), s.prefix, now)
		if err != nil {
			return err
		}
		removed, err = res.RowsAffected()
		return err
	})
	if err != nil {
		return 0, err
	}
	if removed > 0 {
		s.logger.Debug("pruned expired cache rows", "count", removed)
	}
	return removed, nil
}

// Dispose closes the database handle when the driver opened it.
func (s *Store) Dispose() error {
	if !s.disposed.CompareAndSwap(false, true) {
		return nil
	}
	var err error
	if s.ownsDB {
		err = s.db.Close()
	}
	s.logger.Debug("cache driver disposed")
	return cachecore.ConnectionError("close", err)
}

func (s *Store) removeKeys(ctx context.Context, op string, keys ...string) error {
	args := make([]any, len(keys))
	for i, k := range keys {
		args[i] = k
	}
	return s.withTx(ctx, op, func(tx *sql.Tx) error {
		return s.deleteKeysTx(ctx, tx, args)
	})
}

func (s *Store) deleteKeysTx(ctx context.Context, tx *sql.Tx, keys []any) error {
	in := s.placeholders(len(keys))
	if _, err := tx.ExecContext(ctx, fmt.Sprintf("DELETE FROM %s WHERE k IN (%s)", s.tags, in), keys...); err != nil {
		return err
	}
	_, err := tx.ExecContext(ctx, fmt.Sprintf("DELETE FROM %s WHERE k IN (%s)", s.table, in), keys...)
	return err
}

func (s *Store) withTx(ctx context.Context, op string, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return cachecore.ConnectionError(op, err)
	}
	defer tx.Rollback()

	if err := fn(tx); err != nil {
		return cachecore.ConnectionError(op, err)
	}
	return cachecore.ConnectionError(op, tx.Commit())
}

func (s *Store) expired(exp int64) bool {
	return exp != 0 && s.now().UnixMilli() >= exp
}

func (s *Store) cacheKey(key string) string {
	return s.prefix + key
}

func (s *Store) prefixMatch(column string) string {
	return fmt.Sprintf("SUBSTR(%s, 1, %d) = %s", column, len(s.prefix), s.ph(1))
}

func (s *Store) bigint(expr string) string {
	if s.dialect == "postgres" {
		return "CAST(" + expr + " AS BIGINT)"
	}
	return expr
}

func (s *Store) upsertSQL() string {
	// Placeholders must be positional for postgres.
	p := make([]any, 7)
	for i := range p {
		p[i] = s.ph(i + 1)
	}
	switch s.dialect {
	case "postgres":
		return fmt.Sprintf("INSERT INTO %s (k, v, ca, ea) VALUES (%s, %s, %s, %s) ON CONFLICT (k) DO UPDATE SET v = %s, ca = %s, ea = %s", append([]any{s.table}, p...)...)
	case "mysql":
		return fmt.Sprintf("INSERT INTO %s (k, v, ca, ea) VALUES (%s, %s, %s, %s) ON DUPLICATE KEY UPDATE v = %s, ca = %s, ea = %s", append([]any{s.table}, p...)...)
	default:
		return fmt.Sprintf("INSERT INTO %s (k, v, ca, ea) VALUES (%s, %s, %s, %s) ON CONFLICT(k) DO UPDATE SET v = %s, ca = %s, ea = %s", append([]any{s.table}, p...)...)
	}
}

func (s *Store) placeholders(n int) string {
	parts := make([]string, n)
	for i := range parts {
		parts[i] = s.ph(i + 1)
	}
	return strings.Join(parts, ", ")
}

func (s *Store) ph(i int) string {
	if s.dialect == "postgres" {
		return fmt.Sprintf("$%d", i)
	}
	return "?"
}

func validateSQLTableName(name string) error {
	if strings.TrimSpace(name) == "" {
		return cachecore.ConfigError("sql table name is required")
	}
	for _, part := range strings.Split(name, ".") {
		if !sqlIdentPartRE.MatchString(part) {
			return cachecore.ConfigError(fmt.Sprintf("invalid sql table name %q", name))
		}
	}
	return nil
}
