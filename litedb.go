// Package litedb provides a lightweight, embeddable single-file database
// engine for Go applications.
//
// LiteDB stores everything — a free-page allocator, a catalog of named
// sub-files, B-tree indexes, an interned string table, and row-oriented
// tables — in one host file multiplexed into fixed-size pages. It is not
// an SQL engine: callers open tables directly and address rows through
// one or more secondary indexes.
//
// # Basic usage
//
//	db, err := litedb.Open("my.litedb", litedb.OpenOptions{})
//	tbl, err := db.CreateTable("widgets", []litedb.IndexSpec{
//	    {Name: "id", Types: []litedb.KeyType{litedb.KeyInt}},
//	})
//	tbl.AddRow(map[string][]litedb.KeyComponent{"id": {litedb.IntKey(1)}}, []byte("payload"), true)
package litedb

import (
	"fmt"
	"sync/atomic"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"

	"github.com/litedb/litedb/internal/block"
	"github.com/litedb/litedb/internal/interner"
	"github.com/litedb/litedb/internal/pagefs"
	"github.com/litedb/litedb/internal/table"
)

// ============================================================================
// Re-exported types — the public surface is a thin shim over internal/table.
// ============================================================================

// KeyType names the two supported index-component kinds.
type KeyType = table.KeyType

// Width-1 key kinds: an inline 8-byte integer or a 4-byte interned string id.
const (
	KeyInt    = table.KeyInt
	KeyString = table.KeyString
)

// KeyComponent is one value of a (possibly composite) index key.
type KeyComponent = table.KeyComponent

// IntKey builds an integer key component.
func IntKey(v int64) KeyComponent { return table.IntKey(v) }

// StringKey builds a string key component, interned on write.
func StringKey(v string) KeyComponent { return table.StringKey(v) }

// IndexSpec describes one secondary index to create on a table.
type IndexSpec = table.IndexSpec

// Table is an open table handle: AddRow, Find, FindOne, UpdateRow,
// RemoveRow, GetRows, Delete, NumRows.
type Table = table.Table

// Sentinel errors surfaced by table operations.
var (
	ErrUniqueViolation  = table.ErrUniqueViolation
	ErrIndexMismatch    = table.ErrIndexMismatch
	ErrKeyCountMismatch = table.ErrKeyCountMismatch
)

// ErrTableNotFound is returned by OpenTable/DeleteTable for an unknown
// table name.
var ErrTableNotFound = pagefs.ErrNotFound

// CacheKind selects the block.Backend a Db wraps its host file in.
type CacheKind int

const (
	// CacheDirect talks straight to the host file with no page cache.
	CacheDirect CacheKind = iota
	// CacheLRU wraps the host file in a fixed-capacity LRU page cache.
	CacheLRU
	// CacheLRUK wraps the host file in a fixed-capacity LRU-K page cache,
	// admitting a page only after its K-th touch.
	CacheLRUK
	// CacheMemory never touches disk; the whole database lives in RAM.
	CacheMemory
)

// OpenOptions configures how Open wires up a Db's backing store.
type OpenOptions struct {
	Cache      CacheKind
	CachePages int // 0 = block.DefaultCachePages, meaningful for CacheLRU/CacheLRUK
	CacheK     int // touches required to admit, only meaningful for CacheLRUK; 0 = block.DefaultLRUK
	ReadOnly   bool

	// DebugGuards enables a write-reentrancy check on CreateTable,
	// DeleteTable and Flush: a second guarded call entering while one is
	// already in flight on the same Db (e.g. a callback that loops back into
	// the database it was invoked from) panics instead of corrupting state
	// silently. Table-level writes are not guarded. Off by default, since it
	// adds an atomic op to every guarded call.
	DebugGuards bool
}

// Db is one open LiteDB database: a paged file system, the global string
// interner every table's string-typed keys are interned through, and the
// catalog of currently-open tables.
type Db struct {
	fs       *pagefs.FileSystem
	interner *interner.Interner
	backend  block.Backend

	sessionID uuid.UUID
	tables    map[string]*Table

	debugGuards bool
	writing     atomic.Bool
}

// Open opens (creating if necessary) the LiteDB file at path.
func Open(path string, opts OpenOptions) (*Db, error) {
	backend, err := newBackend(path, opts)
	if err != nil {
		return nil, fmt.Errorf("litedb: open backend: %w", err)
	}
	return openOn(backend, opts.DebugGuards)
}

// OpenMemory opens a throwaway in-memory database, ignoring path and any
// on-disk cache selector.
func OpenMemory() (*Db, error) {
	return openOn(block.NewMemory(), false)
}

func newBackend(path string, opts OpenOptions) (block.Backend, error) {
	if opts.Cache == CacheMemory {
		return block.NewMemory(), nil
	}
	direct, err := block.OpenDirect(block.DirectConfig{Path: path, ReadOnly: opts.ReadOnly})
	if err != nil {
		return nil, err
	}
	switch opts.Cache {
	case CacheLRU:
		return block.NewCached(direct, block.CachedConfig{PageCount: opts.CachePages}), nil
	case CacheLRUK:
		return block.NewCached(direct, block.CachedConfig{
			PageCount: opts.CachePages,
			Policy:    block.PolicyLRUK,
			K:         opts.CacheK,
		}), nil
	default:
		return direct, nil
	}
}

func openOn(backend block.Backend, debugGuards bool) (*Db, error) {
	fs, err := pagefs.Open(backend)
	if err != nil {
		return nil, fmt.Errorf("litedb: open file system: %w", err)
	}

	var in *interner.Interner
	if fs.IsFileExists("$strings") {
		in, err = interner.Open(fs)
	} else {
		in, err = interner.New(fs)
	}
	if err != nil {
		return nil, fmt.Errorf("litedb: open interner: %w", err)
	}

	return &Db{
		fs:          fs,
		interner:    in,
		backend:     backend,
		sessionID:   uuid.New(),
		tables:      make(map[string]*Table),
		debugGuards: debugGuards,
	}, nil
}

// SessionID returns a random identifier minted when this Db was opened,
// distinct for every process that opens the same file. Useful to tag log
// lines from concurrently running instances during development.
func (db *Db) SessionID() uuid.UUID { return db.sessionID }

// guardWrite runs fn with the write-reentrancy guard held when
// DebugGuards is enabled; otherwise it just runs fn. op names the
// mutating call, for the panic message.
func (db *Db) guardWrite(op string, fn func() error) error {
	if !db.debugGuards {
		return fn()
	}
	if !db.writing.CompareAndSwap(false, true) {
		panic(fmt.Sprintf("litedb: reentrant write into %s while another Db write is in flight", op))
	}
	defer db.writing.Store(false)
	return fn()
}

// CreateTable creates a new table named name with the given secondary
// indexes.
func (db *Db) CreateTable(name string, indexes []IndexSpec) (*Table, error) {
	var tbl *Table
	err := db.guardWrite("CreateTable", func() error {
		var err error
		tbl, err = table.New(db.fs, db.interner, name, indexes)
		if err != nil {
			return fmt.Errorf("litedb: create table %q: %w", name, err)
		}
		db.tables[name] = tbl
		return nil
	})
	return tbl, err
}

// OpenTable reopens a previously created table. Calling it twice for the
// same name returns the same handle.
func (db *Db) OpenTable(name string) (*Table, error) {
	if tbl, ok := db.tables[name]; ok {
		return tbl, nil
	}
	tbl, err := table.Open(db.fs, db.interner, name)
	if err != nil {
		return nil, fmt.Errorf("litedb: open table %q: %w", name, err)
	}
	db.tables[name] = tbl
	return tbl, nil
}

// IsTableExists reports whether name names a table in this database.
func (db *Db) IsTableExists(name string) bool {
	return db.fs.IsFileExists(name)
}

// DeleteTable removes a table and every sub-file it owns. A table that is
// not open yet is opened first; an unknown name returns an error wrapping
// ErrTableNotFound.
func (db *Db) DeleteTable(name string) error {
	return db.guardWrite("DeleteTable", func() error {
		tbl, ok := db.tables[name]
		if !ok {
			var err error
			tbl, err = db.OpenTable(name)
			if err != nil {
				return err
			}
		}
		if err := tbl.Delete(); err != nil {
			return fmt.Errorf("litedb: delete table %q: %w", name, err)
		}
		delete(db.tables, name)
		return nil
	})
}

// Flush syncs the underlying backend to disk. It is a best-effort
// operation: LiteDB has no write-ahead log or transaction manager, so a
// crash between two Flush calls can lose the writes between them (spec
// §7's documented durability model).
func (db *Db) Flush() error {
	return db.guardWrite("Flush", db.backend.Sync)
}

// Close releases every open table handle, the interner, and the file
// system, then closes the backend.
func (db *Db) Close() error {
	for name, tbl := range db.tables {
		if err := tbl.Close(); err != nil {
			return fmt.Errorf("litedb: close table %q: %w", name, err)
		}
	}
	if err := db.interner.Close(); err != nil {
		return fmt.Errorf("litedb: close interner: %w", err)
	}
	return db.fs.Close()
}

// Stats summarizes a Db's page-level footprint, for logging and the
// litedbctl inspection CLI.
type Stats struct {
	PageSize   int
	PageCount  uint32
	OpenTables int
	SizeOnDisk int64
	SessionID  uuid.UUID
}

// Stats reports the database's current page-level footprint.
func (db *Db) Stats() Stats {
	return Stats{
		PageSize:   pagefs.PageSize,
		PageCount:  db.fs.PageCount(),
		OpenTables: len(db.tables),
		SizeOnDisk: db.backend.Size(),
		SessionID:  db.sessionID,
	}
}

// String renders Stats in human-readable form (byte counts via
// go-humanize instead of raw integers).
func (s Stats) String() string {
	return fmt.Sprintf(
		"litedb session %s: %d pages x %s = %s on disk, %d table(s) open",
		s.SessionID, s.PageCount, humanize.Bytes(uint64(s.PageSize)),
		humanize.Bytes(uint64(s.SizeOnDisk)), s.OpenTables,
	)
}
