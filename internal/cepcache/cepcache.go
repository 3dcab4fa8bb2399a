// Package cepcache persists successful CEP resolutions across runs so
// repeat lookups can skip the external resolver. It layers an in-memory
// TTL cache over a SQLite table.
//
// The cache is opt-in. Default runs resolve every occurrence fresh, so
// enabling it trades per-occurrence independence for speed.
package cepcache

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
	gocache "github.com/patrickmn/go-cache"
	"go.uber.org/zap"

	"github.com/brsampler/brsampler/internal/resolver"
)

//go:embed schema.sql
var schemaSQL string

// Schema version tracking:
// 0 - pre-migration
// 1 - initial resolved_ceps table
const currentSchemaVersion = 1

const (
	hotTTL      = 30 * time.Minute
	hotSweep    = 10 * time.Minute
	busyTimeout = 5000
)

// Cache stores resolved CEPs. Only StatusOK results are cached;
// degraded and failed resolutions always go back to the resolver.
type Cache struct {
	db     *sql.DB
	hot    *gocache.Cache
	logger *zap.Logger
}

// Open creates or opens the cache database at path.
//
// The database uses WAL mode, NORMAL synchronous, a 5-second busy
// timeout, and a single connection (SQLite allows one writer).
// Idempotent: safe to call on an existing cache file.
func Open(path string, logger *zap.Logger) (*Cache, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("opening cep cache: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("connecting to cep cache: %w", err)
	}

	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := applyPragmas(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("applying pragmas: %w", err)
	}
	if err := applySchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("applying schema: %w", err)
	}

	return &Cache{
		db:     db,
		hot:    gocache.New(hotTTL, hotSweep),
		logger: logger,
	}, nil
}

// Close closes the underlying database.
func (c *Cache) Close() error {
	if c.db == nil {
		return nil
	}
	return c.db.Close()
}

// Get returns the cached result for a bare-digit CEP, checking the hot
// layer before the database. The bool reports a hit.
func (c *Cache) Get(ctx context.Context, cep string) (resolver.AddressResult, bool) {
	if v, ok := c.hot.Get(cep); ok {
		return v.(resolver.AddressResult), true
	}

	row := c.db.QueryRowContext(ctx,
		`SELECT street, neighborhood, city, state FROM resolved_ceps WHERE cep = ?`, cep)

	res := resolver.AddressResult{CEP: cep, Status: resolver.StatusOK}
	err := row.Scan(&res.Street, &res.Neighborhood, &res.City, &res.State)
	if err == sql.ErrNoRows {
		return resolver.AddressResult{}, false
	}
	if err != nil {
		c.logger.Warn("cep cache read failed", zap.String("cep", cep), zap.Error(err))
		return resolver.AddressResult{}, false
	}

	c.hot.Set(cep, res, gocache.DefaultExpiration)
	return res, true
}

// Put stores a resolution. Non-OK results are ignored so a transient
// failure or a backfilled response never masks a later clean answer.
func (c *Cache) Put(ctx context.Context, res resolver.AddressResult) error {
	if res.Status != resolver.StatusOK {
		return nil
	}

	_, err := c.db.ExecContext(ctx,
		`INSERT INTO resolved_ceps (cep, street, neighborhood, city, state, resolved_at)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT(cep) DO UPDATE SET
		   street = excluded.street,
		   neighborhood = excluded.neighborhood,
		   city = excluded.city,
		   state = excluded.state,
		   resolved_at = excluded.resolved_at`,
		res.CEP, res.Street, res.Neighborhood, res.City, res.State, time.Now().Unix())
	if err != nil {
		return fmt.Errorf("caching CEP %s: %w", res.CEP, err)
	}

	c.hot.Set(res.CEP, res, gocache.DefaultExpiration)
	return nil
}

// Len returns the number of rows in the persistent layer.
func (c *Cache) Len(ctx context.Context) (int, error) {
	var n int
	if err := c.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM resolved_ceps`).Scan(&n); err != nil {
		return 0, fmt.Errorf("counting cached CEPs: %w", err)
	}
	return n, nil
}

func applyPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		fmt.Sprintf("PRAGMA busy_timeout = %d", busyTimeout),
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return fmt.Errorf("executing %q: %w", pragma, err)
		}
	}
	return nil
}

func applySchema(db *sql.DB) error {
	if _, err := db.Exec(schemaSQL); err != nil {
		return fmt.Errorf("executing schema: %w", err)
	}

	var version int
	if err := db.QueryRow("PRAGMA user_version").Scan(&version); err != nil {
		return fmt.Errorf("get user_version: %w", err)
	}
	if version < currentSchemaVersion {
		if _, err := db.Exec(fmt.Sprintf("PRAGMA user_version = %d", currentSchemaVersion)); err != nil {
			return fmt.Errorf("set user_version: %w", err)
		}
	}
	return nil
}

// CachingClient wraps a resolver.Client with the cache. Hits skip the
// inner client entirely; clean misses are written back.
type CachingClient struct {
	inner resolver.Client
	cache *Cache
}

// NewCachingClient wraps inner with c.
func NewCachingClient(inner resolver.Client, c *Cache) *CachingClient {
	return &CachingClient{inner: inner, cache: c}
}

// Resolve implements resolver.Client.
func (cc *CachingClient) Resolve(ctx context.Context, cep string) (resolver.Address, error) {
	if res, ok := cc.cache.Get(ctx, cep); ok {
		return resolver.Address{
			CEP:          res.CEP,
			Street:       res.Street,
			Neighborhood: res.Neighborhood,
			City:         res.City,
			State:        res.State,
			Service:      "cache",
		}, nil
	}

	addr, err := cc.inner.Resolve(ctx, cep)
	if err != nil {
		return resolver.Address{}, err
	}
	if addr.ErrorMsg == "" && addr.Street != "" && addr.Neighborhood != "" {
		put := resolver.AddressResult{
			CEP:          cep,
			Street:       addr.Street,
			Neighborhood: addr.Neighborhood,
			City:         addr.City,
			State:        addr.State,
			Status:       resolver.StatusOK,
		}
		if perr := cc.cache.Put(ctx, put); perr != nil {
			cc.cache.logger.Warn("cep cache write failed", zap.String("cep", cep), zap.Error(perr))
		}
	}
	return addr, nil
}
