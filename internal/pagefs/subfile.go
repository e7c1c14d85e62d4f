package pagefs

import (
	"encoding/binary"
	"errors"
	"fmt"
)

const (
	subFileMagic      = 0xF11E
	subFileDeadMagic  = 0xDEADDEAD
	maxIndexPages     = 8
	subFileHeaderSize = 4 + 4 + 4 + 4 + 4*maxIndexPages // 48 bytes
)

// ErrDeadSubFile is returned by operations on a sub-file whose header has
// been marked dead by Delete.
var ErrDeadSubFile = errors.New("pagefs: sub-file deleted")

// SubFile is a logical append-extensible byte stream mapped onto a chain
// of pages. Its header lives at baseOffset, which is the head page's
// start for every sub-file except #0 (the catalog), whose header is
// pushed past the file-system header occupying the first 12 bytes of
// page 0.
type SubFile struct {
	fs *FileSystem

	headPage   PageID
	baseOffset int64

	magic         uint32
	dataEnd       uint32
	indexEnd      int64 // absolute backend offset, next index slot to write
	dataPageCount uint32
	indexPages    [maxIndexPages]PageID

	dataPages []PageID
	pos       int64
	refCount  int
}

func initSubFile(fs *FileSystem, head PageID, baseOffset int64) (*SubFile, error) {
	sf := &SubFile{
		fs:         fs,
		headPage:   head,
		baseOffset: baseOffset,
		magic:      subFileMagic,
		indexEnd:   baseOffset + subFileHeaderSize,
		refCount:   1,
	}
	sf.indexPages[0] = head
	for i := 1; i < maxIndexPages; i++ {
		sf.indexPages[i] = PageInvalid
	}
	if err := sf.flushHeader(); err != nil {
		return nil, err
	}
	if _, err := sf.appendPage(); err != nil {
		return nil, err
	}
	return sf, nil
}

func openSubFile(fs *FileSystem, head PageID, baseOffset int64) (*SubFile, error) {
	sf := &SubFile{fs: fs, headPage: head, baseOffset: baseOffset, refCount: 1}
	if err := sf.readHeader(); err != nil {
		return nil, err
	}
	if sf.magic != subFileMagic {
		return nil, fmt.Errorf("%w: sub-file at page %d has bad magic %#x", ErrCorrupted, head, sf.magic)
	}
	if err := sf.walkIndex(); err != nil {
		return nil, err
	}
	return sf, nil
}

func (s *SubFile) readHeader() error {
	var buf [subFileHeaderSize]byte
	if err := s.fs.backend.ReadAt(buf[:], s.baseOffset); err != nil {
		return fmt.Errorf("pagefs: read sub-file header at %d: %w", s.baseOffset, err)
	}
	s.magic = binary.LittleEndian.Uint32(buf[0:4])
	s.dataEnd = binary.LittleEndian.Uint32(buf[4:8])
	s.indexEnd = int64(binary.LittleEndian.Uint32(buf[8:12]))
	s.dataPageCount = binary.LittleEndian.Uint32(buf[12:16])
	for i := 0; i < maxIndexPages; i++ {
		off := 16 + i*4
		s.indexPages[i] = PageID(binary.LittleEndian.Uint32(buf[off : off+4]))
	}
	return nil
}

func (s *SubFile) flushHeader() error {
	var buf [subFileHeaderSize]byte
	binary.LittleEndian.PutUint32(buf[0:4], s.magic)
	binary.LittleEndian.PutUint32(buf[4:8], s.dataEnd)
	binary.LittleEndian.PutUint32(buf[8:12], uint32(s.indexEnd))
	binary.LittleEndian.PutUint32(buf[12:16], s.dataPageCount)
	for i := 0; i < maxIndexPages; i++ {
		off := 16 + i*4
		binary.LittleEndian.PutUint32(buf[off:off+4], uint32(s.indexPages[i]))
	}
	return s.fs.backend.WriteAt(buf[:], s.baseOffset)
}

// walkIndex rebuilds the in-memory data-page list by reading
// dataPageCount sequential PageId entries starting right after the
// header, following indexPages[] across page boundaries.
func (s *SubFile) walkIndex() error {
	s.dataPages = make([]PageID, 0, s.dataPageCount)
	cur := s.baseOffset + subFileHeaderSize
	idxSlot := 0
	for i := uint32(0); i < s.dataPageCount; i++ {
		pageEnd := ((cur / PageSize) + 1) * PageSize
		if cur+4 > pageEnd {
			idxSlot++
			if idxSlot >= maxIndexPages || s.indexPages[idxSlot] == PageInvalid {
				return fmt.Errorf("%w: sub-file index chain ran out at page %d", ErrCorrupted, s.headPage)
			}
			cur = int64(s.indexPages[idxSlot]) * PageSize
		}
		var buf [4]byte
		if err := s.fs.backend.ReadAt(buf[:], cur); err != nil {
			return fmt.Errorf("pagefs: read index entry: %w", err)
		}
		s.dataPages = append(s.dataPages, PageID(binary.LittleEndian.Uint32(buf[:])))
		cur += 4
	}
	return nil
}

// appendPage allocates a new data page and records its id in the index
// list, allocating a fresh index page first if the current one is full.
func (s *SubFile) appendPage() (PageID, error) {
	id, err := s.fs.AllocatePage()
	if err != nil {
		return 0, err
	}

	curPageStart := (s.indexEnd / PageSize) * PageSize
	curPageEnd := curPageStart + PageSize
	if s.indexEnd+4 > curPageEnd {
		slot := -1
		for i, p := range s.indexPages {
			if p == PageInvalid {
				slot = i
				break
			}
		}
		if slot == -1 {
			return 0, fmt.Errorf("pagefs: sub-file at page %d exhausted its 8 index pages (~512MiB limit)", s.headPage)
		}
		newIdxPage, err := s.fs.AllocatePage()
		if err != nil {
			return 0, err
		}
		s.indexPages[slot] = newIdxPage
		s.indexEnd = int64(newIdxPage) * PageSize
	}

	var buf [4]byte
	binary.LittleEndian.PutUint32(buf[:], uint32(id))
	if err := s.fs.backend.WriteAt(buf[:], s.indexEnd); err != nil {
		return 0, err
	}
	s.indexEnd += 4

	var sentinel [4]byte
	binary.LittleEndian.PutUint32(sentinel[:], uint32(PageInvalid))
	if err := s.fs.backend.WriteAt(sentinel[:], s.indexEnd); err != nil {
		return 0, err
	}

	s.dataPages = append(s.dataPages, id)
	s.dataPageCount++
	if err := s.flushHeader(); err != nil {
		return 0, err
	}
	return id, nil
}

// Size returns the logical length of the sub-file's data.
func (s *SubFile) Size() int64 { return int64(s.dataEnd) }

// HeadPage returns the sub-file's head page id.
func (s *SubFile) HeadPage() PageID { return s.headPage }

// Seek repositions the sequential cursor used by Read/Write/ReadString/etc.
func (s *SubFile) Seek(pos int64) { s.pos = pos }

// Tell returns the current cursor position.
func (s *SubFile) Tell() int64 { return s.pos }

// ReadAtOffset reads len(p) bytes starting at virtual offset voff without
// touching the sequential cursor.
func (s *SubFile) ReadAtOffset(p []byte, voff int64) error {
	if s.magic == subFileDeadMagic {
		return ErrDeadSubFile
	}
	for len(p) > 0 {
		pageIdx := voff / PageSize
		inPage := voff % PageSize
		if pageIdx >= int64(len(s.dataPages)) {
			return fmt.Errorf("%w: read past end of sub-file at page %d", ErrCorrupted, s.headPage)
		}
		room := PageSize - inPage
		n := int64(len(p))
		if n > room {
			n = room
		}
		abs := int64(s.dataPages[pageIdx])*PageSize + inPage
		if err := s.fs.backend.ReadAt(p[:n], abs); err != nil {
			return err
		}
		p = p[n:]
		voff += n
	}
	return nil
}

// WriteAtOffset writes p starting at virtual offset voff, auto-appending
// data pages as needed, without touching the sequential cursor.
func (s *SubFile) WriteAtOffset(p []byte, voff int64) error {
	if s.magic == subFileDeadMagic {
		return ErrDeadSubFile
	}
	for len(p) > 0 {
		pageIdx := voff / PageSize
		inPage := voff % PageSize
		for pageIdx >= int64(len(s.dataPages)) {
			if _, err := s.appendPage(); err != nil {
				return err
			}
		}
		room := PageSize - inPage
		n := int64(len(p))
		if n > room {
			n = room
		}
		abs := int64(s.dataPages[pageIdx])*PageSize + inPage
		if err := s.fs.backend.WriteAt(p[:n], abs); err != nil {
			return err
		}
		p = p[n:]
		voff += n
		if voff > int64(s.dataEnd) {
			s.dataEnd = uint32(voff)
		}
	}
	return s.flushHeader()
}

// Read reads len(p) bytes from the cursor and advances it.
func (s *SubFile) Read(p []byte) error {
	if err := s.ReadAtOffset(p, s.pos); err != nil {
		return err
	}
	s.pos += int64(len(p))
	return nil
}

// Write writes p at the cursor and advances it.
func (s *SubFile) Write(p []byte) error {
	if err := s.WriteAtOffset(p, s.pos); err != nil {
		return err
	}
	s.pos += int64(len(p))
	return nil
}

// delete marks the header dead and recycles every page the sub-file owns.
func (s *SubFile) delete() error {
	s.magic = subFileDeadMagic
	if err := s.flushHeader(); err != nil {
		return err
	}
	for _, p := range s.indexPages {
		if p != PageInvalid && p != s.headPage {
			if err := s.fs.RecyclePage(p); err != nil {
				return err
			}
		}
	}
	for _, p := range s.dataPages {
		if err := s.fs.RecyclePage(p); err != nil {
			return err
		}
	}
	return s.fs.RecyclePage(s.headPage)
}
