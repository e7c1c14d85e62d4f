package table

import (
	"encoding/binary"
	"fmt"
	"hash/fnv"

	"github.com/samber/lo"

	"github.com/litedb/litedb/internal/btree"
	"github.com/litedb/litedb/internal/interner"
	"github.com/litedb/litedb/internal/pagefs"
)

const tableMagic = 0xFDB7AB1E
const tableHeaderSize = 4 + 4 + 4 + 4 + 4 + 4 + 4 + 4 // 32 bytes
const tombstonePtr = uint32(pagefs.PageInvalid)

// indexHandle is the in-memory form of one secondary index's descriptor:
// its name, component types, byte offset within a row's key prefix, and
// the open B-tree backing it.
type indexHandle struct {
	name      string
	types     []KeyType
	keyOffset int32
	width     int32
	tree      *btree.Tree
}

// Table owns a header sub-file (table header + index descriptors + fixed
// row slots) and a data sub-file (variable-length payloads), plus one
// B-tree per secondary index.
type Table struct {
	fs       *pagefs.FileSystem
	interner *interner.Interner
	name     string

	header   *pagefs.SubFile
	dataFile *pagefs.SubFile

	indices     []*indexHandle
	indexByName map[string]*indexHandle

	dataBegin     uint32
	dataEnd       uint32
	numRows       int32
	rowDataOffset int32
	freeList      uint32 // reserved, never consumed (spec open question (a))

	numIndicesOnDisk int32 // read by readHeader, consumed by readDescriptors during Open
}

func rowSlotSize(rowDataOffset int32) int { return int(rowDataOffset) + 4 }

// New creates a table named name with the given secondary indexes.
func New(fs *pagefs.FileSystem, in *interner.Interner, name string, specs []IndexSpec) (*Table, error) {
	header, err := fs.NewFile(name)
	if err != nil {
		return nil, fmt.Errorf("table: create header file: %w", err)
	}
	dataFile, err := fs.NewFile(name + ".data")
	if err != nil {
		return nil, fmt.Errorf("table: create data file: %w", err)
	}

	tb := &Table{
		fs:          fs,
		interner:    in,
		name:        name,
		header:      header,
		dataFile:    dataFile,
		indexByName: make(map[string]*indexHandle, len(specs)),
	}

	var offset int32
	for _, spec := range specs {
		tree, err := btree.New(fs, name+".idx."+spec.Name)
		if err != nil {
			return nil, fmt.Errorf("table: create index %q: %w", spec.Name, err)
		}
		width := int32(0)
		for _, kt := range spec.Types {
			width += int32(kt.Width())
		}
		ih := &indexHandle{name: spec.Name, types: spec.Types, keyOffset: offset, width: width, tree: tree}
		tb.indices = append(tb.indices, ih)
		tb.indexByName[spec.Name] = ih
		offset += width
	}
	tb.rowDataOffset = offset

	header.Seek(tableHeaderSize)
	if err := tb.writeDescriptors(); err != nil {
		return nil, err
	}
	tb.dataBegin = uint32(header.Tell())
	tb.dataEnd = tb.dataBegin

	if err := tb.flushHeader(); err != nil {
		return nil, err
	}
	return tb, nil
}

// Open reopens a table previously created with New.
func Open(fs *pagefs.FileSystem, in *interner.Interner, name string) (*Table, error) {
	header, err := fs.OpenFile(name)
	if err != nil {
		return nil, fmt.Errorf("table: open header file: %w", err)
	}
	dataFile, err := fs.OpenFile(name + ".data")
	if err != nil {
		return nil, fmt.Errorf("table: open data file: %w", err)
	}

	tb := &Table{fs: fs, interner: in, name: name, header: header, dataFile: dataFile, indexByName: make(map[string]*indexHandle)}
	if err := tb.readHeader(); err != nil {
		return nil, err
	}
	if err := tb.readDescriptors(fs); err != nil {
		return nil, err
	}
	return tb, nil
}

func (tb *Table) readHeader() error {
	var buf [tableHeaderSize]byte
	if err := tb.header.ReadAtOffset(buf[:], 0); err != nil {
		return fmt.Errorf("table: read header: %w", err)
	}
	magic := binary.LittleEndian.Uint32(buf[0:4])
	if magic != tableMagic {
		return fmt.Errorf("%w: table %q has bad magic %#x", ErrNotFound, tb.name, magic)
	}
	numIndices := int32(binary.LittleEndian.Uint32(buf[4:8]))
	tb.dataBegin = binary.LittleEndian.Uint32(buf[8:12])
	tb.dataEnd = binary.LittleEndian.Uint32(buf[12:16])
	tb.numRows = int32(binary.LittleEndian.Uint32(buf[16:20]))
	tb.rowDataOffset = int32(binary.LittleEndian.Uint32(buf[20:24]))
	// buf[24:28] is data_file_id, informational; dataFile is reopened by name.
	tb.freeList = binary.LittleEndian.Uint32(buf[28:32])
	tb.numIndicesOnDisk = numIndices
	return nil
}

func (tb *Table) flushHeader() error {
	var buf [tableHeaderSize]byte
	binary.LittleEndian.PutUint32(buf[0:4], tableMagic)
	binary.LittleEndian.PutUint32(buf[4:8], uint32(len(tb.indices)))
	binary.LittleEndian.PutUint32(buf[8:12], tb.dataBegin)
	binary.LittleEndian.PutUint32(buf[12:16], tb.dataEnd)
	binary.LittleEndian.PutUint32(buf[16:20], uint32(tb.numRows))
	binary.LittleEndian.PutUint32(buf[20:24], uint32(tb.rowDataOffset))
	binary.LittleEndian.PutUint32(buf[24:28], uint32(tb.dataFile.HeadPage()))
	binary.LittleEndian.PutUint32(buf[28:32], tb.freeList)
	return tb.header.WriteAtOffset(buf[:], 0)
}

func (tb *Table) writeDescriptors() error {
	for _, ih := range tb.indices {
		if err := tb.header.WriteString(ih.name); err != nil {
			return err
		}
		if err := tb.header.WriteU32(uint32(len(ih.types))); err != nil {
			return err
		}
		for _, kt := range ih.types {
			if err := tb.header.WriteU32(uint32(kt)); err != nil {
				return err
			}
		}
		if err := tb.header.WriteU32(uint32(ih.keyOffset)); err != nil {
			return err
		}
		if err := tb.header.WritePageID(ih.tree.HeaderHeadPage()); err != nil {
			return err
		}
	}
	return nil
}

func (tb *Table) readDescriptors(fs *pagefs.FileSystem) error {
	tb.header.Seek(tableHeaderSize)
	for i := int32(0); i < tb.numIndicesOnDisk; i++ {
		name, err := tb.header.ReadString()
		if err != nil {
			return fmt.Errorf("table: read index descriptor %d: %w", i, err)
		}
		typeCount, err := tb.header.ReadU32()
		if err != nil {
			return err
		}
		types := make([]KeyType, typeCount)
		width := int32(0)
		for j := range types {
			v, err := tb.header.ReadU32()
			if err != nil {
				return err
			}
			types[j] = KeyType(v)
			width += int32(types[j].Width())
		}
		keyOffset, err := tb.header.ReadU32()
		if err != nil {
			return err
		}
		if _, err := tb.header.ReadPageID(); err != nil { // subFileID, informational only
			return err
		}
		tree, err := btree.Open(fs, tb.name+".idx."+name)
		if err != nil {
			return fmt.Errorf("table: reopen index %q: %w", name, err)
		}
		ih := &indexHandle{name: name, types: types, keyOffset: int32(keyOffset), width: width, tree: tree}
		tb.indices = append(tb.indices, ih)
		tb.indexByName[name] = ih
	}
	return nil
}

// Close releases every sub-file handle the table holds (header, data, and
// each secondary index's pair).
func (tb *Table) Close() error {
	for _, ih := range tb.indices {
		if err := ih.tree.Close(); err != nil {
			return err
		}
	}
	if err := tb.fs.ReleaseFile(tb.dataFile); err != nil {
		return err
	}
	return tb.fs.ReleaseFile(tb.header)
}

// Delete flags the header dead and removes every sub-file the table owns:
// the header, the data file, and each index's pair of sub-files.
func (tb *Table) Delete() error {
	for _, ih := range tb.indices {
		if err := ih.tree.Delete(); err != nil {
			return err
		}
	}
	if err := tb.fs.DeleteFile(tb.name + ".data"); err != nil {
		return err
	}
	return tb.fs.DeleteFile(tb.name)
}

func (tb *Table) readDataPtr(slot uint32) (uint32, error) {
	var buf [4]byte
	off := int64(slot) + int64(tb.rowDataOffset)
	if err := tb.header.ReadAtOffset(buf[:], off); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(buf[:]), nil
}

func (tb *Table) writeDataPtr(slot uint32, ptr uint32) error {
	var buf [4]byte
	binary.LittleEndian.PutUint32(buf[:], ptr)
	off := int64(slot) + int64(tb.rowDataOffset)
	return tb.header.WriteAtOffset(buf[:], off)
}

func (tb *Table) appendRowSlot() (uint32, error) {
	slot := tb.dataEnd
	buf := make([]byte, rowSlotSize(tb.rowDataOffset))
	binary.LittleEndian.PutUint32(buf[tb.rowDataOffset:], tombstonePtr)
	if err := tb.header.WriteAtOffset(buf, int64(slot)); err != nil {
		return 0, err
	}
	tb.dataEnd += uint32(len(buf))
	return slot, nil
}

func (tb *Table) appendPayload(payload []byte) (uint32, error) {
	ptr := uint32(tb.dataFile.Size())
	var sizeBuf [4]byte
	binary.LittleEndian.PutUint32(sizeBuf[:], uint32(len(payload)))
	if err := tb.dataFile.WriteAtOffset(sizeBuf[:], int64(ptr)); err != nil {
		return 0, err
	}
	if err := tb.dataFile.WriteAtOffset(payload, int64(ptr)+4); err != nil {
		return 0, err
	}
	return ptr, nil
}

func (tb *Table) readPayload(ptr uint32) ([]byte, error) {
	var sizeBuf [4]byte
	if err := tb.dataFile.ReadAtOffset(sizeBuf[:], int64(ptr)); err != nil {
		return nil, err
	}
	size := binary.LittleEndian.Uint32(sizeBuf[:])
	payload := make([]byte, size)
	if err := tb.dataFile.ReadAtOffset(payload, int64(ptr)+4); err != nil {
		return nil, err
	}
	return payload, nil
}

func (tb *Table) encodeComponent(buf []byte, c KeyComponent) error {
	if c.Type == KeyInt {
		binary.LittleEndian.PutUint64(buf, uint64(c.Int))
		return nil
	}
	id, err := tb.interner.FindOrCreate(c.Str)
	if err != nil {
		return err
	}
	binary.LittleEndian.PutUint32(buf, id)
	return nil
}

func (tb *Table) writeRowKeys(slot uint32, keysByIndex map[string][]KeyComponent) error {
	for _, ih := range tb.indices {
		comps := keysByIndex[ih.name]
		if len(comps) != len(ih.types) {
			return fmt.Errorf("%w: index %q wants %d components, got %d", ErrKeyCountMismatch, ih.name, len(ih.types), len(comps))
		}
		buf := make([]byte, ih.width)
		pos := int32(0)
		for i, c := range comps {
			w := int32(ih.types[i].Width())
			if err := tb.encodeComponent(buf[pos:pos+w], c); err != nil {
				return err
			}
			pos += w
		}
		off := int64(slot) + int64(ih.keyOffset)
		if err := tb.header.WriteAtOffset(buf, off); err != nil {
			return err
		}
	}
	return nil
}

func (tb *Table) slotKeysMatch(slot uint32, ih *indexHandle, comps []KeyComponent) (bool, error) {
	buf := make([]byte, ih.width)
	off := int64(slot) + int64(ih.keyOffset)
	if err := tb.header.ReadAtOffset(buf, off); err != nil {
		return false, err
	}
	pos := int32(0)
	for i, c := range comps {
		w := int32(ih.types[i].Width())
		if c.Type == KeyInt {
			v := int64(binary.LittleEndian.Uint64(buf[pos : pos+w]))
			if v != c.Int {
				return false, nil
			}
		} else {
			id, err := tb.interner.FindOrCreate(c.Str)
			if err != nil {
				return false, err
			}
			v := binary.LittleEndian.Uint32(buf[pos : pos+w])
			if v != id {
				return false, nil
			}
		}
		pos += w
	}
	return true, nil
}

// fingerprint folds a (possibly composite) key tuple into the single i64
// every B-tree index is keyed on: the bare integer for a single int
// component, the interned id for a single string component, or a
// combination hash over every component's bytes for a composite key.
func (tb *Table) fingerprint(comps []KeyComponent) (int64, error) {
	if len(comps) == 1 {
		c := comps[0]
		if c.Type == KeyInt {
			return c.Int, nil
		}
		id, err := tb.interner.FindOrCreate(c.Str)
		if err != nil {
			return 0, err
		}
		return int64(id), nil
	}
	h := fnv.New64a()
	for _, c := range comps {
		var buf [8]byte
		if c.Type == KeyInt {
			binary.LittleEndian.PutUint64(buf[:], uint64(c.Int))
			h.Write(buf[:])
		} else {
			id, err := tb.interner.FindOrCreate(c.Str)
			if err != nil {
				return 0, err
			}
			binary.LittleEndian.PutUint32(buf[:4], id)
			h.Write(buf[:4])
		}
	}
	return int64(h.Sum64()), nil
}

// AddRow inserts payload under keysByIndex (one key-component slice per
// configured index, keyed by index name). When a tombstoned slot from a
// fingerprint-colliding earlier row is found, it's reused in place;
// otherwise a fresh slot is appended. Returns false (no error) if unique
// is set and a live row already matches.
func (tb *Table) AddRow(keysByIndex map[string][]KeyComponent, payload []byte, unique bool) (bool, error) {
	type probe struct {
		idx        *indexHandle
		fp         int64
		candidates []uint32
	}
	probes := make([]probe, len(tb.indices))

	var reuseSlot uint32
	haveReuse := false

	for i, ih := range tb.indices {
		comps, ok := keysByIndex[ih.name]
		if !ok {
			return false, fmt.Errorf("table: missing keys for index %q", ih.name)
		}
		fp, err := tb.fingerprint(comps)
		if err != nil {
			return false, err
		}
		candidates, err := ih.tree.Find(fp)
		if err != nil {
			return false, err
		}
		probes[i] = probe{idx: ih, fp: fp, candidates: candidates}

		var indexReuseSlot uint32
		indexHasReuse := false

		for _, slot := range candidates {
			ptr, err := tb.readDataPtr(slot)
			if err != nil {
				return false, err
			}
			if ptr == tombstonePtr {
				// Multiple tombstoned candidates can share one fingerprint
				// within a single index (e.g. two removed rows that both
				// hashed to the same slot-key); that's expected, so only
				// the first one found is kept as this index's candidate.
				if !indexHasReuse {
					indexReuseSlot, indexHasReuse = slot, true
				}
				continue
			}
			match, err := tb.slotKeysMatch(slot, ih, comps)
			if err != nil {
				return false, err
			}
			if match && unique {
				return false, nil
			}
		}

		if indexHasReuse {
			if haveReuse && reuseSlot != indexReuseSlot {
				return false, fmt.Errorf("%w: index %q disagrees on slot %d vs %d", ErrIndexMismatch, ih.name, indexReuseSlot, reuseSlot)
			}
			reuseSlot, haveReuse = indexReuseSlot, true
		}
	}

	slot := reuseSlot
	if !haveReuse {
		var err error
		slot, err = tb.appendRowSlot()
		if err != nil {
			return false, err
		}
	}

	dataPtr, err := tb.appendPayload(payload)
	if err != nil {
		return false, err
	}
	if err := tb.writeRowKeys(slot, keysByIndex); err != nil {
		return false, err
	}
	if err := tb.writeDataPtr(slot, dataPtr); err != nil {
		return false, err
	}

	for _, p := range probes {
		if lo.Contains(p.candidates, slot) {
			continue
		}
		if err := p.idx.tree.Insert(p.fp, slot); err != nil {
			return false, err
		}
	}

	tb.numRows++
	if err := tb.flushHeader(); err != nil {
		return false, err
	}
	return true, nil
}

// Find returns the payload of every live row matching keys under index.
func (tb *Table) Find(index string, keys []KeyComponent) ([][]byte, error) {
	ih, ok := tb.indexByName[index]
	if !ok {
		return nil, fmt.Errorf("%w: index %q", ErrNotFound, index)
	}
	fp, err := tb.fingerprint(keys)
	if err != nil {
		return nil, err
	}
	candidates, err := ih.tree.Find(fp)
	if err != nil {
		return nil, err
	}

	var out [][]byte
	for _, slot := range candidates {
		ptr, err := tb.readDataPtr(slot)
		if err != nil {
			return nil, err
		}
		if ptr == tombstonePtr {
			continue
		}
		match, err := tb.slotKeysMatch(slot, ih, keys)
		if err != nil {
			return nil, err
		}
		if !match {
			continue
		}
		payload, err := tb.readPayload(ptr)
		if err != nil {
			return nil, err
		}
		out = append(out, payload)
	}
	return out, nil
}

// FindOne calls visit on each matching live row's payload, in insertion
// order, stopping as soon as visit returns true.
func (tb *Table) FindOne(index string, keys []KeyComponent, visit func([]byte) (bool, error)) (bool, error) {
	ih, ok := tb.indexByName[index]
	if !ok {
		return false, fmt.Errorf("%w: index %q", ErrNotFound, index)
	}
	fp, err := tb.fingerprint(keys)
	if err != nil {
		return false, err
	}
	return ih.tree.FindOne(fp, func(slot uint32) (bool, error) {
		ptr, err := tb.readDataPtr(slot)
		if err != nil {
			return false, err
		}
		if ptr == tombstonePtr {
			return false, nil
		}
		match, err := tb.slotKeysMatch(slot, ih, keys)
		if err != nil {
			return false, err
		}
		if !match {
			return false, nil
		}
		payload, err := tb.readPayload(ptr)
		if err != nil {
			return false, err
		}
		return visit(payload)
	})
}

// UpdateRow appends newPayload and repoints data_ptr for every live row
// matching keys under index. Old payload bytes are leaked (no
// reclamation), matching spec.md's documented behavior.
func (tb *Table) UpdateRow(index string, keys []KeyComponent, newPayload []byte) (bool, error) {
	ih, ok := tb.indexByName[index]
	if !ok {
		return false, fmt.Errorf("%w: index %q", ErrNotFound, index)
	}
	fp, err := tb.fingerprint(keys)
	if err != nil {
		return false, err
	}
	candidates, err := ih.tree.Find(fp)
	if err != nil {
		return false, err
	}

	updated := false
	for _, slot := range candidates {
		ptr, err := tb.readDataPtr(slot)
		if err != nil {
			return false, err
		}
		if ptr == tombstonePtr {
			continue
		}
		match, err := tb.slotKeysMatch(slot, ih, keys)
		if err != nil {
			return false, err
		}
		if !match {
			continue
		}
		newPtr, err := tb.appendPayload(newPayload)
		if err != nil {
			return false, err
		}
		if err := tb.writeDataPtr(slot, newPtr); err != nil {
			return false, err
		}
		updated = true
	}
	return updated, nil
}

// RemoveRow tombstones every live row matching keys under index, without
// rewriting any other slot (the conservative compaction choice documented
// in DESIGN.md).
func (tb *Table) RemoveRow(index string, keys []KeyComponent) (bool, error) {
	ih, ok := tb.indexByName[index]
	if !ok {
		return false, fmt.Errorf("%w: index %q", ErrNotFound, index)
	}
	fp, err := tb.fingerprint(keys)
	if err != nil {
		return false, err
	}
	candidates, err := ih.tree.Find(fp)
	if err != nil {
		return false, err
	}

	removed := int32(0)
	for _, slot := range candidates {
		ptr, err := tb.readDataPtr(slot)
		if err != nil {
			return false, err
		}
		if ptr == tombstonePtr {
			continue
		}
		match, err := tb.slotKeysMatch(slot, ih, keys)
		if err != nil {
			return false, err
		}
		if !match {
			continue
		}
		if err := tb.writeDataPtr(slot, tombstonePtr); err != nil {
			return false, err
		}
		removed++
	}
	if removed == 0 {
		return false, nil
	}
	tb.numRows -= removed
	return true, tb.flushHeader()
}

// GetRows returns the payload of every live row, in row-slot order.
func (tb *Table) GetRows() ([][]byte, error) {
	size := rowSlotSize(tb.rowDataOffset)
	var out [][]byte
	for slot := tb.dataBegin; slot < tb.dataEnd; slot += uint32(size) {
		ptr, err := tb.readDataPtr(slot)
		if err != nil {
			return nil, err
		}
		if ptr == tombstonePtr {
			continue
		}
		payload, err := tb.readPayload(ptr)
		if err != nil {
			return nil, err
		}
		out = append(out, payload)
	}
	return out, nil
}

// NumRows reports the table's live row count.
func (tb *Table) NumRows() int32 { return tb.numRows }
