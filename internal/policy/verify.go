package policy

import (
	"errors"
	"os"
	"path/filepath"
	"syscall"
)

// VerifyErrorKind classifies why VerifyAndOpen refused to open a path.
type VerifyErrorKind string

const (
	VerifySymlink        VerifyErrorKind = "symlink"
	VerifyDeleted        VerifyErrorKind = "deleted"
	VerifyOpenFailed     VerifyErrorKind = "open_failed"
	VerifyStatFailed     VerifyErrorKind = "stat_failed"
	VerifyInodeMismatch  VerifyErrorKind = "inode_mismatch"
	VerifyParentChanged  VerifyErrorKind = "parent_changed"
	VerifyAlreadyExists  VerifyErrorKind = "already_exists"
	VerifyCreateFailed   VerifyErrorKind = "create_failed"
)

// VerifyError reports a VerifyAndOpen failure.
type VerifyError struct {
	Kind VerifyErrorKind
	Path string
	Err  error
}

func (e *VerifyError) Error() string {
	if e.Err != nil {
		return string(e.Kind) + ": " + e.Path + ": " + e.Err.Error()
	}
	return string(e.Kind) + ": " + e.Path
}

func (e *VerifyError) Unwrap() error { return e.Err }

// ApprovedPath records the filesystem identity approved at prompt time, so
// a later use of the same approval can detect a TOCTOU swap: the path was
// deleted and replaced, or a symlink was substituted, between approval and
// use.
type ApprovedPath struct {
	UserPath           string
	ResolvedPath       string
	Device             uint64
	Inode              uint64
	ParentDevice       uint64
	ParentInode        uint64
	Existed            bool
	ResolvedParentPath string
}

// Resolve stats userPath (without following a final symlink) and captures
// its identity, or — if it doesn't exist — the identity of its parent
// directory, so a subsequent VerifyAndOpen can confirm neither has changed.
func Resolve(userPath string) (ApprovedPath, error) {
	resolved, err := filepath.Abs(userPath)
	if err != nil {
		return ApprovedPath{}, &VerifyError{Kind: VerifyStatFailed, Path: userPath, Err: err}
	}

	ap := ApprovedPath{UserPath: userPath, ResolvedPath: resolved}

	lst, err := os.Lstat(resolved)
	switch {
	case err == nil:
		if lst.Mode()&os.ModeSymlink != 0 {
			return ApprovedPath{}, &VerifyError{Kind: VerifySymlink, Path: resolved}
		}
		st, ok := lst.Sys().(*syscall.Stat_t)
		if !ok {
			return ApprovedPath{}, &VerifyError{Kind: VerifyStatFailed, Path: resolved}
		}
		ap.Existed = true
		ap.Device = uint64(st.Dev)
		ap.Inode = st.Ino
	case os.IsNotExist(err):
		ap.Existed = false
	default:
		return ApprovedPath{}, &VerifyError{Kind: VerifyStatFailed, Path: resolved, Err: err}
	}

	parent := filepath.Dir(resolved)
	pst, err := os.Lstat(parent)
	if err != nil {
		return ApprovedPath{}, &VerifyError{Kind: VerifyStatFailed, Path: parent, Err: err}
	}
	st, ok := pst.Sys().(*syscall.Stat_t)
	if !ok {
		return ApprovedPath{}, &VerifyError{Kind: VerifyStatFailed, Path: parent}
	}
	ap.ResolvedParentPath = parent
	ap.ParentDevice = uint64(st.Dev)
	ap.ParentInode = st.Ino

	return ap, nil
}

// VerifyAndOpen re-verifies ap immediately before use and opens the file,
// closing the TOCTOU window between approval and the actual file
// operation. For an existing file it opens with O_NOFOLLOW and compares
// the resulting fd's device/inode against ap; for a new file it verifies
// the parent directory is unchanged and creates the file exclusively so a
// concurrent create can't be silently overwritten.
func VerifyAndOpen(ap ApprovedPath, flag int, perm os.FileMode) (*os.File, error) {
	if ap.Existed {
		f, err := os.OpenFile(ap.ResolvedPath, flag|syscall.O_NOFOLLOW, perm)
		if err != nil {
			if errors.Is(err, syscall.ELOOP) {
				return nil, &VerifyError{Kind: VerifySymlink, Path: ap.ResolvedPath, Err: err}
			}
			if os.IsNotExist(err) {
				return nil, &VerifyError{Kind: VerifyDeleted, Path: ap.ResolvedPath, Err: err}
			}
			return nil, &VerifyError{Kind: VerifyOpenFailed, Path: ap.ResolvedPath, Err: err}
		}
		info, err := f.Stat()
		if err != nil {
			f.Close()
			return nil, &VerifyError{Kind: VerifyStatFailed, Path: ap.ResolvedPath, Err: err}
		}
		st, ok := info.Sys().(*syscall.Stat_t)
		if !ok {
			f.Close()
			return nil, &VerifyError{Kind: VerifyStatFailed, Path: ap.ResolvedPath}
		}
		if uint64(st.Dev) != ap.Device || st.Ino != ap.Inode {
			f.Close()
			return nil, &VerifyError{Kind: VerifyInodeMismatch, Path: ap.ResolvedPath}
		}
		return f, nil
	}

	pst, err := os.Lstat(ap.ResolvedParentPath)
	if err != nil {
		return nil, &VerifyError{Kind: VerifyStatFailed, Path: ap.ResolvedParentPath, Err: err}
	}
	pstat, ok := pst.Sys().(*syscall.Stat_t)
	if !ok {
		return nil, &VerifyError{Kind: VerifyStatFailed, Path: ap.ResolvedParentPath}
	}
	if uint64(pstat.Dev) != ap.ParentDevice || pstat.Ino != ap.ParentInode {
		return nil, &VerifyError{Kind: VerifyParentChanged, Path: ap.ResolvedParentPath}
	}

	f, err := os.OpenFile(ap.ResolvedPath, flag|os.O_CREATE|os.O_EXCL|syscall.O_NOFOLLOW, perm)
	if err != nil {
		if os.IsExist(err) {
			return nil, &VerifyError{Kind: VerifyAlreadyExists, Path: ap.ResolvedPath, Err: err}
		}
		return nil, &VerifyError{Kind: VerifyCreateFailed, Path: ap.ResolvedPath, Err: err}
	}
	return f, nil
}
