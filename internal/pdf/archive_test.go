package pdf

import (
	"archive/zip"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"
)

func TestCreateArchive(t *testing.T) {
	dir := t.TempDir()

	// エントリ名と中身の対応、および与えた順序が保存されることを確認する
	inputs := []struct {
		name    string
		content string
	}{
		{name: "page_2.pdf", content: "second"},
		{name: "page_1.pdf", content: "first"},
		{name: "page_3.pdf", content: "third"},
	}

	entries := make([]archiveEntry, 0, len(inputs))
	for _, in := range inputs {
		path := filepath.Join(dir, "src-"+in.name)
		if err := os.WriteFile(path, []byte(in.content), 0o640); err != nil {
			t.Fatalf("failed to write input: %v", err)
		}
		entries = append(entries, archiveEntry{name: in.name, path: path})
	}

	outputPath := filepath.Join(dir, "out.zip")
	if err := createArchive(outputPath, entries); err != nil {
		t.Fatalf("createArchive returned error: %v", err)
	}

	reader, err := zip.OpenReader(outputPath)
	if err != nil {
		t.Fatalf("failed to open archive: %v", err)
	}
	defer reader.Close()

	if len(reader.File) != len(inputs) {
		t.Fatalf("unexpected entry count: %d", len(reader.File))
	}
	for i, f := range reader.File {
		if f.Name != inputs[i].name {
			t.Fatalf("entry[%d] = %s, want %s", i, f.Name, inputs[i].name)
		}
		if f.Method != zip.Deflate {
			t.Fatalf("entry %s is not deflate-compressed", f.Name)
		}
		rc, err := f.Open()
		if err != nil {
			t.Fatalf("failed to open entry %s: %v", f.Name, err)
		}
		data, err := io.ReadAll(rc)
		rc.Close()
		if err != nil {
			t.Fatalf("failed to read entry %s: %v", f.Name, err)
		}
		if string(data) != inputs[i].content {
			t.Fatalf("entry %s content = %q, want %q", f.Name, data, inputs[i].content)
		}
	}
}

func TestCreateArchiveMissingInput(t *testing.T) {
	dir := t.TempDir()
	outputPath := filepath.Join(dir, "out.zip")

	err := createArchive(outputPath, []archiveEntry{
		{name: "page_1.pdf", path: filepath.Join(dir, "no-such-file")},
	})
	if err == nil {
		t.Fatal("expected error for missing input")
	}
}

func TestCreateArchiveUnwritableOutput(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "src.pdf")
	if err := os.WriteFile(src, []byte("data"), 0o640); err != nil {
		t.Fatalf("failed to write input: %v", err)
	}

	// 出力先ディレクトリが存在しない場合は ARCHIVE_WRITE_FAILED
	err := createArchive(filepath.Join(dir, "missing", "out.zip"), []archiveEntry{
		{name: "page_1.pdf", path: src},
	})
	var apiErr *Error
	if !errors.As(err, &apiErr) || apiErr.Code != "ARCHIVE_WRITE_FAILED" {
		t.Fatalf("unexpected error: %v", err)
	}
}
