package storage

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/maruel/linkreview/internal/records"
	"github.com/spf13/afero"
)

// failingRenameFs fails every Rename while err is set.
type failingRenameFs struct {
	afero.Fs
	err error
}

func (f *failingRenameFs) Rename(oldname, newname string) error {
	if f.err != nil {
		return f.err
	}
	return f.Fs.Rename(oldname, newname)
}

func setupFileStore(t *testing.T, fs afero.Fs) (*FileStore, string) {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "data", "records.json")
	s, err := NewFileStore(fs, path)
	if err != nil {
		t.Fatalf("NewFileStore failed: %v", err)
	}
	return s, filepath.Dir(path)
}

func listDir(t *testing.T, dir string) []string {
	t.Helper()
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	var names []string
	for _, e := range entries {
		names = append(names, e.Name())
	}
	return names
}

func TestFileStore(t *testing.T) {
	t.Run("missing file loads empty", func(t *testing.T) {
		s, _ := setupFileStore(t, afero.NewOsFs())
		c, err := s.Load()
		if err != nil {
			t.Fatal(err)
		}
		if c == nil || len(c) != 0 {
			t.Errorf("Load() = %v, want empty collection", c)
		}
	})

	t.Run("flush then load", func(t *testing.T) {
		s, dir := setupFileStore(t, afero.NewOsFs())
		in := records.Collection{
			records.NewRecord("RefA", "Likutei Moharan 1:1", "Status", "Pending"),
			records.NewRecord("RefA", "שלום", "Status", "done", "n", 2.0),
		}
		res, err := s.Flush(in)
		if err != nil {
			t.Fatal(err)
		}
		fi, err := os.Stat(s.Path())
		if err != nil {
			t.Fatal(err)
		}
		if res.Size != fi.Size() {
			t.Errorf("Size = %d, file is %d bytes", res.Size, fi.Size())
		}
		out, err := s.Load()
		if err != nil {
			t.Fatal(err)
		}
		if records.Fingerprint(out) != records.Fingerprint(in) {
			t.Error("loaded collection differs from flushed one")
		}
		if names := listDir(t, dir); len(names) != 1 || names[0] != "records.json" {
			t.Errorf("directory contains %v, want only records.json", names)
		}
		raw, err := os.ReadFile(s.Path())
		if err != nil {
			t.Fatal(err)
		}
		if !strings.Contains(string(raw), "שלום") {
			t.Error("non-ASCII text was escaped")
		}
	})

	t.Run("rename failure keeps canonical file", func(t *testing.T) {
		fs := &failingRenameFs{Fs: afero.NewOsFs()}
		s, dir := setupFileStore(t, fs)
		before := records.Collection{records.NewRecord("Status", "Pending")}
		if _, err := s.Flush(before); err != nil {
			t.Fatal(err)
		}
		fs.err = errors.New("injected rename failure")
		_, err := s.Flush(records.Collection{records.NewRecord("Status", "done")})
		if err == nil || !strings.Contains(err.Error(), "injected rename failure") {
			t.Fatalf("Flush() error = %v", err)
		}
		if names := listDir(t, dir); len(names) != 1 {
			t.Errorf("temporary file left behind: %v", names)
		}
		got, err := s.Load()
		if err != nil {
			t.Fatal(err)
		}
		if records.Fingerprint(got) != records.Fingerprint(before) {
			t.Error("canonical file changed after a failed flush")
		}
	})

	t.Run("integers survive load and flush", func(t *testing.T) {
		s, _ := setupFileStore(t, afero.NewOsFs())
		in := `[{"id": 12345678901234567891, "ref": 9007199254740993, "score": 1.5e3}]`
		if err := os.WriteFile(s.Path(), []byte(in), 0o600); err != nil {
			t.Fatal(err)
		}
		c, err := s.Load()
		if err != nil {
			t.Fatal(err)
		}
		if _, err := s.Flush(c); err != nil {
			t.Fatal(err)
		}
		raw, err := os.ReadFile(s.Path())
		if err != nil {
			t.Fatal(err)
		}
		for _, want := range []string{`"id": 12345678901234567891`, `"ref": 9007199254740993`, `"score": 1.5e3`} {
			if !strings.Contains(string(raw), want) {
				t.Errorf("flushed file lost %s:\n%s", want, raw)
			}
		}
	})

	t.Run("invalid document", func(t *testing.T) {
		s, _ := setupFileStore(t, afero.NewOsFs())
		if err := os.WriteFile(s.Path(), []byte(`{"not": "an array"}`), 0o600); err != nil {
			t.Fatal(err)
		}
		if _, err := s.Load(); err == nil {
			t.Error("Load() succeeded on a JSON object")
		}
	})

	t.Run("memory filesystem", func(t *testing.T) {
		fs := afero.NewMemMapFs()
		s, err := NewFileStore(fs, "/srv/records.json")
		if err != nil {
			t.Fatal(err)
		}
		for _, status := range []string{"Pending", "done"} {
			if _, err := s.Flush(records.Collection{records.NewRecord("Status", status)}); err != nil {
				t.Fatal(err)
			}
		}
		c, err := s.Load()
		if err != nil {
			t.Fatal(err)
		}
		if len(c) != 1 || c[0].StatusString() != "done" {
			t.Errorf("Load() = %v", c)
		}
		entries, err := afero.ReadDir(fs, "/srv")
		if err != nil {
			t.Fatal(err)
		}
		if len(entries) != 1 {
			t.Errorf("directory has %d entries, want 1", len(entries))
		}
	})
}
