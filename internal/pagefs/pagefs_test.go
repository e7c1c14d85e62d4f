package pagefs

import (
	"bytes"
	"testing"

	"github.com/litedb/litedb/internal/block"
)

func TestFileSystem_NewFileAndReopen(t *testing.T) {
	backend := block.NewMemory()
	fs, err := Open(backend)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	sf, err := fs.NewFile("widgets")
	if err != nil {
		t.Fatalf("NewFile: %v", err)
	}
	payload := []byte("hello widgets")
	sf.Seek(0)
	if err := sf.Write(payload); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if err := fs.ReleaseFile(sf); err != nil {
		t.Fatalf("ReleaseFile: %v", err)
	}

	if !fs.IsFileExists("widgets") {
		t.Fatal("expected widgets to exist")
	}
	if fs.IsFileExists("ghost") {
		t.Fatal("did not expect ghost to exist")
	}

	reopened, err := fs.OpenFile("widgets")
	if err != nil {
		t.Fatalf("OpenFile: %v", err)
	}
	got := make([]byte, len(payload))
	if err := reopened.ReadAtOffset(got, 0); err != nil {
		t.Fatalf("ReadAtOffset: %v", err)
	}
	if !bytes.Equal(got, payload) {
		t.Fatalf("got %q, want %q", got, payload)
	}
}

func TestFileSystem_OpenFileReturnsSameHandleWithResetCursor(t *testing.T) {
	backend := block.NewMemory()
	fs, err := Open(backend)
	if err != nil {
		t.Fatal(err)
	}
	a, err := fs.NewFile("a")
	if err != nil {
		t.Fatal(err)
	}
	a.Seek(123)

	b, err := fs.OpenFile("a")
	if err != nil {
		t.Fatal(err)
	}
	if a != b {
		t.Fatal("expected the same handle to be returned for an already-open sub-file")
	}
	if b.Tell() != 0 {
		t.Fatalf("expected cursor reset to 0, got %d", b.Tell())
	}
}

func TestFileSystem_NamesAreUnique(t *testing.T) {
	backend := block.NewMemory()
	fs, err := Open(backend)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := fs.NewFile("dup"); err != nil {
		t.Fatal(err)
	}
	if _, err := fs.NewFile("dup"); err == nil {
		t.Fatal("expected error on duplicate name")
	}
}

func TestFileSystem_ReopenAfterClose(t *testing.T) {
	backend := block.NewMemory()
	fs, err := Open(backend)
	if err != nil {
		t.Fatal(err)
	}
	sf, err := fs.NewFile("persisted")
	if err != nil {
		t.Fatal(err)
	}
	sf.Seek(0)
	sf.Write([]byte("durable bytes"))
	if err := fs.ReleaseFile(sf); err != nil {
		t.Fatal(err)
	}
	if err := fs.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	fs2, err := Open(backend)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	if !fs2.IsFileExists("persisted") {
		t.Fatal("expected persisted file to survive reopen")
	}
	reopened, err := fs2.OpenFile("persisted")
	if err != nil {
		t.Fatal(err)
	}
	got := make([]byte, len("durable bytes"))
	if err := reopened.ReadAtOffset(got, 0); err != nil {
		t.Fatal(err)
	}
	if string(got) != "durable bytes" {
		t.Fatalf("got %q", got)
	}
}

func TestFileSystem_AppendAcrossManyPages(t *testing.T) {
	backend := block.NewMemory()
	fs, err := Open(backend)
	if err != nil {
		t.Fatal(err)
	}
	sf, err := fs.NewFile("big")
	if err != nil {
		t.Fatal(err)
	}
	// Write enough data to force several appendPage calls.
	chunk := bytes.Repeat([]byte{0x42}, PageSize/4)
	sf.Seek(0)
	for i := 0; i < 10; i++ {
		if err := sf.Write(chunk); err != nil {
			t.Fatalf("write chunk %d: %v", i, err)
		}
	}
	total := make([]byte, len(chunk)*10)
	if err := sf.ReadAtOffset(total, 0); err != nil {
		t.Fatalf("read back: %v", err)
	}
	if !bytes.Equal(total, bytes.Repeat(chunk, 10)) {
		t.Fatal("round trip across many pages failed")
	}
}

func TestFileSystem_DeleteRecyclesPages(t *testing.T) {
	backend := block.NewMemory()
	fs, err := Open(backend)
	if err != nil {
		t.Fatal(err)
	}
	sf, err := fs.NewFile("temp")
	if err != nil {
		t.Fatal(err)
	}
	sf.Seek(0)
	sf.Write([]byte("scratch"))
	fs.ReleaseFile(sf)

	if err := fs.DeleteFile("temp"); err != nil {
		t.Fatalf("DeleteFile: %v", err)
	}
	if fs.IsFileExists("temp") {
		t.Fatal("expected temp to be gone after delete")
	}

	// A subsequent allocation should reuse a recycled page id rather than
	// growing the backend unboundedly.
	before := fs.pageCount
	sf2, err := fs.NewFile("temp2")
	if err != nil {
		t.Fatal(err)
	}
	_ = sf2
	if fs.pageCount > before {
		t.Fatalf("expected free-list reuse, page_count grew from %d to %d", before, fs.pageCount)
	}
}

func TestSubFile_StringRoundTrip(t *testing.T) {
	backend := block.NewMemory()
	fs, err := Open(backend)
	if err != nil {
		t.Fatal(err)
	}
	sf, err := fs.NewFile("strings")
	if err != nil {
		t.Fatal(err)
	}
	sf.Seek(0)
	if err := sf.WriteString("hello"); err != nil {
		t.Fatal(err)
	}
	if err := sf.WriteString("world"); err != nil {
		t.Fatal(err)
	}
	sf.Seek(0)
	got1, err := sf.ReadString()
	if err != nil {
		t.Fatal(err)
	}
	got2, err := sf.ReadString()
	if err != nil {
		t.Fatal(err)
	}
	if got1 != "hello" || got2 != "world" {
		t.Fatalf("got %q, %q", got1, got2)
	}
}
