// Package pagefs implements the paged virtual file system that every
// higher layer of the engine is built on: a single host file, multiplexed
// into fixed-size pages, carrying a free-page list and a catalog of named
// logical sub-files.
package pagefs

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/litedb/litedb/internal/block"
)

// PageSize is the fixed page size for the whole engine.
const PageSize = 16 * 1024

// PageID addresses a single page. PageInvalid means "none".
type PageID uint32

// PageInvalid is the sentinel meaning "no page" (spec page-id sentinel,
// distinct from the teacher's zero-valued InvalidPageID).
const PageInvalid PageID = 0xFFFFFFFF

const fsHeaderSize = 12 // named_file_count, page_count, free_list

var (
	// ErrCorrupted is returned when a structural invariant (bad magic,
	// out-of-range page id) is violated. The operation that detects it
	// aborts; the caller should not continue using the database.
	ErrCorrupted = errors.New("pagefs: corrupted structure")
	// ErrNotFound is returned by OpenFile for an unknown name.
	ErrNotFound = errors.New("pagefs: named file not found")
	// ErrAlreadyExists is returned by NewFile for a name already in the catalog.
	ErrAlreadyExists = errors.New("pagefs: named file already exists")
	// ErrHandleLeaked is a programming-error assertion: a sub-file handle
	// was still open when the file system was closed.
	ErrHandleLeaked = errors.New("pagefs: sub-file handle leaked at close")
)

// FileSystem is the paged allocator plus named-file catalog. Exactly one
// FileSystem should be open per backend at a time (spec §5's single-writer
// assumption).
type FileSystem struct {
	backend block.Backend

	namedFileCount uint32
	pageCount      uint32
	freeList       PageID

	catalog *SubFile            // sub-file #0, always open
	names   map[string]PageID   // name -> head page, built from the catalog
	handles map[PageID]*SubFile // open sub-file handle cache, one per head page
}

// Open initializes a FileSystem over backend. A zero-size backend is
// treated as a brand-new database: page 0 is allocated and an empty
// catalog is written. Otherwise the existing header and catalog are read
// back.
func Open(backend block.Backend) (*FileSystem, error) {
	fs := &FileSystem{
		backend: backend,
		names:   make(map[string]PageID),
		handles: make(map[PageID]*SubFile),
	}

	if backend.Size() == 0 {
		if err := fs.initFresh(); err != nil {
			return nil, err
		}
		return fs, nil
	}
	if err := fs.openExisting(); err != nil {
		return nil, err
	}
	return fs, nil
}

func (fs *FileSystem) initFresh() error {
	// Page 0 is always the first allocation; there is no free list yet.
	fs.pageCount = 1
	fs.freeList = PageInvalid

	cat, err := initSubFile(fs, 0, fsHeaderSize)
	if err != nil {
		return fmt.Errorf("pagefs: init catalog: %w", err)
	}
	fs.catalog = cat
	fs.handles[0] = cat

	if err := fs.flushHeader(); err != nil {
		return fmt.Errorf("pagefs: write header: %w", err)
	}
	return nil
}

func (fs *FileSystem) openExisting() error {
	var hdr [fsHeaderSize]byte
	if err := fs.backend.ReadAt(hdr[:], 0); err != nil {
		return fmt.Errorf("pagefs: read header: %w", err)
	}
	fs.namedFileCount = binary.LittleEndian.Uint32(hdr[0:4])
	fs.pageCount = binary.LittleEndian.Uint32(hdr[4:8])
	fs.freeList = PageID(binary.LittleEndian.Uint32(hdr[8:12]))

	cat, err := openSubFile(fs, 0, fsHeaderSize)
	if err != nil {
		return fmt.Errorf("pagefs: open catalog: %w", err)
	}
	fs.catalog = cat
	fs.handles[0] = cat

	if err := fs.loadCatalog(); err != nil {
		return err
	}
	return nil
}

func (fs *FileSystem) loadCatalog() error {
	fs.catalog.Seek(0)
	for i := uint32(0); i < fs.namedFileCount; i++ {
		name, err := fs.catalog.ReadString()
		if err != nil {
			return fmt.Errorf("pagefs: read catalog entry %d: %w", i, err)
		}
		head, err := fs.catalog.ReadPageID()
		if err != nil {
			return fmt.Errorf("pagefs: read catalog head page %d: %w", i, err)
		}
		fs.names[name] = head
	}
	return nil
}

func (fs *FileSystem) flushHeader() error {
	var hdr [fsHeaderSize]byte
	binary.LittleEndian.PutUint32(hdr[0:4], fs.namedFileCount)
	binary.LittleEndian.PutUint32(hdr[4:8], fs.pageCount)
	binary.LittleEndian.PutUint32(hdr[8:12], uint32(fs.freeList))
	return fs.backend.WriteAt(hdr[:], 0)
}

// AllocatePage pops the free list if non-empty, otherwise bumps the
// high-water mark. The returned page is zero-filled.
func (fs *FileSystem) AllocatePage() (PageID, error) {
	var id PageID
	if fs.freeList != PageInvalid {
		id = fs.freeList
		next, err := fs.readNextFree(id)
		if err != nil {
			return 0, err
		}
		fs.freeList = next
	} else {
		id = PageID(fs.pageCount)
		fs.pageCount++
	}

	var zero [PageSize]byte
	if err := fs.backend.WriteAt(zero[:], int64(id)*PageSize); err != nil {
		return 0, fmt.Errorf("pagefs: zero-fill page %d: %w", id, err)
	}
	if err := fs.flushHeader(); err != nil {
		return 0, err
	}
	return id, nil
}

func (fs *FileSystem) readNextFree(id PageID) (PageID, error) {
	var buf [4]byte
	if err := fs.backend.ReadAt(buf[:], int64(id)*PageSize); err != nil {
		return 0, fmt.Errorf("pagefs: read free chain at %d: %w", id, err)
	}
	return PageID(binary.LittleEndian.Uint32(buf[:])), nil
}

// RecyclePage prepends id to the free list.
func (fs *FileSystem) RecyclePage(id PageID) error {
	var buf [4]byte
	binary.LittleEndian.PutUint32(buf[:], uint32(fs.freeList))
	if err := fs.backend.WriteAt(buf[:], int64(id)*PageSize); err != nil {
		return fmt.Errorf("pagefs: write free chain at %d: %w", id, err)
	}
	fs.freeList = id
	return fs.flushHeader()
}

// NewFile allocates a fresh sub-file, records it in the catalog under
// name, and returns a handle to it. Names must be unique.
func (fs *FileSystem) NewFile(name string) (*SubFile, error) {
	if _, exists := fs.names[name]; exists {
		return nil, fmt.Errorf("%w: %s", ErrAlreadyExists, name)
	}

	head, err := fs.AllocatePage()
	if err != nil {
		return nil, err
	}
	sf, err := initSubFile(fs, head, int64(head)*PageSize)
	if err != nil {
		return nil, fmt.Errorf("pagefs: init sub-file %q: %w", name, err)
	}

	end := fs.catalog.dataEnd
	fs.catalog.Seek(int64(end))
	if err := fs.catalog.WriteString(name); err != nil {
		return nil, fmt.Errorf("pagefs: append catalog name: %w", err)
	}
	if err := fs.catalog.WritePageID(head); err != nil {
		return nil, fmt.Errorf("pagefs: append catalog head page: %w", err)
	}

	fs.names[name] = head
	fs.namedFileCount++
	if err := fs.flushHeader(); err != nil {
		return nil, err
	}
	fs.handles[head] = sf
	return sf, nil
}

// OpenFile looks up name in the catalog and returns a handle to it,
// reusing the cached handle (with its cursor reset to 0) if the sub-file
// is already open.
func (fs *FileSystem) OpenFile(name string) (*SubFile, error) {
	head, ok := fs.names[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	if existing, ok := fs.handles[head]; ok {
		existing.refCount++
		existing.Seek(0)
		return existing, nil
	}
	sf, err := openSubFile(fs, head, int64(head)*PageSize)
	if err != nil {
		return nil, fmt.Errorf("pagefs: open sub-file %q: %w", name, err)
	}
	fs.handles[head] = sf
	return sf, nil
}

// IsFileExists reports whether name is present in the catalog.
func (fs *FileSystem) IsFileExists(name string) bool {
	_, ok := fs.names[name]
	return ok
}

// ReleaseFile drops a reference to a sub-file handle. When the last
// reference is released, the handle's header is flushed and it is evicted
// from the cache, matching the weak-map semantics of the catalog.
func (fs *FileSystem) ReleaseFile(sf *SubFile) error {
	if sf == fs.catalog {
		return sf.flushHeader()
	}
	sf.refCount--
	if sf.refCount > 0 {
		return nil
	}
	if err := sf.flushHeader(); err != nil {
		return err
	}
	delete(fs.handles, sf.headPage)
	return nil
}

// DeleteFile removes name from the catalog's in-memory index and deletes
// the underlying sub-file. The catalog entry on disk is left in place
// (the source never compacts the catalog); re-creating a file of the same
// name allocates a fresh head page and simply shadows the stale entry in
// the in-memory map built at the next Open.
func (fs *FileSystem) DeleteFile(name string) error {
	head, ok := fs.names[name]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	sf, err := fs.OpenFile(name)
	if err != nil {
		return err
	}
	if err := sf.delete(); err != nil {
		return err
	}
	delete(fs.handles, head)
	delete(fs.names, name)
	return nil
}

// Close flushes the catalog header and releases the backend. Any sub-file
// handle still held besides the catalog itself is a programming error.
func (fs *FileSystem) Close() error {
	for head, sf := range fs.handles {
		if sf == fs.catalog {
			continue
		}
		_ = sf
		return fmt.Errorf("%w: page %d", ErrHandleLeaked, head)
	}
	if err := fs.catalog.flushHeader(); err != nil {
		return err
	}
	return fs.backend.Close()
}

// Backend exposes the underlying block backend, for components (like the
// B-tree) that need raw page access alongside their sub-file.
func (fs *FileSystem) Backend() block.Backend { return fs.backend }

// PageCount reports the high-water mark of allocated pages, for stats and
// inspection tooling.
func (fs *FileSystem) PageCount() uint32 { return fs.pageCount }
