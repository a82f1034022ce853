package policy

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestResolveExistingFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "file.txt")
	if err := os.WriteFile(path, []byte("hi"), 0o644); err != nil {
		t.Fatal(err)
	}

	ap, err := Resolve(path)
	if err != nil {
		t.Fatal(err)
	}
	if !ap.Existed {
		t.Fatal("expected Existed true for a file on disk")
	}
	if ap.Inode == 0 {
		t.Fatal("expected a nonzero inode to be captured")
	}
}

func TestResolveNewFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "new.txt")

	ap, err := Resolve(path)
	if err != nil {
		t.Fatal(err)
	}
	if ap.Existed {
		t.Fatal("expected Existed false for a path that doesn't exist yet")
	}
	if ap.ParentInode == 0 {
		t.Fatal("expected the parent directory's inode to be captured")
	}
}

func TestResolveRejectsSymlink(t *testing.T) {
	dir := t.TempDir()
	target := filepath.Join(dir, "target.txt")
	if err := os.WriteFile(target, []byte("hi"), 0o644); err != nil {
		t.Fatal(err)
	}
	link := filepath.Join(dir, "link.txt")
	if err := os.Symlink(target, link); err != nil {
		t.Skipf("symlinks unsupported: %v", err)
	}

	_, err := Resolve(link)
	var verr *VerifyError
	if !errors.As(err, &verr) || verr.Kind != VerifySymlink {
		t.Fatalf("expected VerifySymlink error, got %v", err)
	}
}

func TestVerifyAndOpenExistingFileSucceeds(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "file.txt")
	if err := os.WriteFile(path, []byte("hello"), 0o644); err != nil {
		t.Fatal(err)
	}

	ap, err := Resolve(path)
	if err != nil {
		t.Fatal(err)
	}
	f, err := VerifyAndOpen(ap, os.O_RDONLY, 0)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
}

func TestVerifyAndOpenDetectsInodeSwap(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "file.txt")
	if err := os.WriteFile(path, []byte("hello"), 0o644); err != nil {
		t.Fatal(err)
	}

	ap, err := Resolve(path)
	if err != nil {
		t.Fatal(err)
	}

	// Simulate a TOCTOU swap: move the approved file aside and create a
	// new one at the same path between approval and use. The original
	// stays on disk, so the new file cannot reuse its inode.
	if err := os.Rename(path, path+".orig"); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte("different content"), 0o644); err != nil {
		t.Fatal(err)
	}

	_, err = VerifyAndOpen(ap, os.O_RDONLY, 0)
	var verr *VerifyError
	if !errors.As(err, &verr) || (verr.Kind != VerifyInodeMismatch && verr.Kind != VerifyDeleted) {
		t.Fatalf("expected an inode mismatch or deletion error, got %v", err)
	}
}

func TestVerifyAndOpenDetectsDeletion(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "file.txt")
	if err := os.WriteFile(path, []byte("hello"), 0o644); err != nil {
		t.Fatal(err)
	}

	ap, err := Resolve(path)
	if err != nil {
		t.Fatal(err)
	}
	if err := os.Remove(path); err != nil {
		t.Fatal(err)
	}

	_, err = VerifyAndOpen(ap, os.O_RDONLY, 0)
	var verr *VerifyError
	if !errors.As(err, &verr) || verr.Kind != VerifyDeleted {
		t.Fatalf("expected VerifyDeleted, got %v", err)
	}
}

func TestVerifyAndOpenNewFileCreatesExclusively(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "new.txt")

	ap, err := Resolve(path)
	if err != nil {
		t.Fatal(err)
	}
	f, err := VerifyAndOpen(ap, os.O_WRONLY, 0o644)
	if err != nil {
		t.Fatal(err)
	}
	f.Close()

	if _, err := os.Stat(path); err != nil {
		t.Fatalf("expected file to have been created: %v", err)
	}
}

func TestVerifyAndOpenNewFileAlreadyExistsFails(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "new.txt")

	ap, err := Resolve(path)
	if err != nil {
		t.Fatal(err)
	}

	// Someone else creates the file between approval and use.
	if err := os.WriteFile(path, []byte("raced"), 0o644); err != nil {
		t.Fatal(err)
	}

	_, err = VerifyAndOpen(ap, os.O_WRONLY, 0o644)
	var verr *VerifyError
	if !errors.As(err, &verr) || verr.Kind != VerifyAlreadyExists {
		t.Fatalf("expected VerifyAlreadyExists, got %v", err)
	}
}

func TestVerifyAndOpenDetectsParentChanged(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "new.txt")

	ap, err := Resolve(path)
	if err != nil {
		t.Fatal(err)
	}

	// Simulate the parent directory being replaced between approval and
	// use by corrupting the captured parent inode.
	ap.ParentInode = ap.ParentInode + 999999

	_, err = VerifyAndOpen(ap, os.O_WRONLY, 0o644)
	var verr *VerifyError
	if !errors.As(err, &verr) || verr.Kind != VerifyParentChanged {
		t.Fatalf("expected VerifyParentChanged, got %v", err)
	}
}
