package sqldb

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
)

// Pool shares one *sql.DB per key between sessions. Embedded engines lock
// their database files, so a second handle on the same file from this
// process would fail.
type Pool struct {
	driverName string
	// retain keeps unused handles open until Close, which in-memory
	// databases need to survive between sessions.
	retain bool

	mu  sync.Mutex
	dbs map[string]*pooledDB
}

type pooledDB struct {
	db   *sql.DB
	refs int
}

// NewPool creates a pool for the named database/sql driver that closes a
// handle once its last user releases it.
func NewPool(driverName string) *Pool {
	return &Pool{driverName: driverName, dbs: make(map[string]*pooledDB)}
}

// NewRetainingPool creates a pool that keeps handles open until Close.
func NewRetainingPool(driverName string) *Pool {
	p := NewPool(driverName)
	p.retain = true
	return p
}

// Acquire returns the shared handle stored under key, opening dsn on first
// use. The returned release func must be called once the caller is done
// with it.
func (p *Pool) Acquire(ctx context.Context, key, dsn string) (*sql.DB, func() error, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	entry, ok := p.dbs[key]
	if !ok {
		db, err := sql.Open(p.driverName, dsn)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open %s database: %w", p.driverName, err)
		}
		if err := db.PingContext(ctx); err != nil {
			_ = db.Close()
			return nil, nil, fmt.Errorf("failed to ping %s database: %w", p.driverName, err)
		}
		entry = &pooledDB{db: db}
		p.dbs[key] = entry
	}
	entry.refs++

	var once sync.Once
	release := func() error {
		var err error
		once.Do(func() { err = p.release(key, entry) })
		return err
	}
	return entry.db, release, nil
}

func (p *Pool) release(key string, entry *pooledDB) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	entry.refs--
	if entry.refs > 0 || p.retain {
		return nil
	}
	if p.dbs[key] == entry {
		delete(p.dbs, key)
	}
	return entry.db.Close()
}

// Close closes every handle, in use or not.
func (p *Pool) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	var first error
	for key, entry := range p.dbs {
		if err := entry.db.Close(); err != nil && first == nil {
			first = err
		}
		delete(p.dbs, key)
	}
	return first
}

// Len returns the number of open handles.
func (p *Pool) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.dbs)
}
