/*
package filesystem decides what a loaded image may open. Shims resolve the
image's own path names through an FS instead of the host's filesystem
directly, so an integrator can sandbox a process under a directory or serve
it entirely from memory.
*/
package filesystem

import (
	"io/fs"
	"os"
)

type FileFlag int

const (
	O_RDONLY = FileFlag(os.O_RDONLY)
	O_WRONLY = FileFlag(os.O_WRONLY)
	O_RDWR   = FileFlag(os.O_RDWR)
	O_APPEND = FileFlag(os.O_APPEND)
	O_CREATE = FileFlag(os.O_CREATE)
	O_EXCL   = FileFlag(os.O_EXCL)
	O_TRUNC  = FileFlag(os.O_TRUNC)
)

// FS opens files by the names the image uses, foreign separators and drive
// prefixes included.
type FS interface {
	OpenFile(name string, flag FileFlag, perm fs.FileMode) (File, error)
}

type File interface {
	Close() error
	Stat() (fs.FileInfo, error)
}

// ReadFile and WriteFile are the capabilities shims assert before
// translating an I/O request.
type ReadFile interface {
	File
	Read(b []byte) (n int, err error)
}

type WriteFile interface {
	File
	Write(b []byte) (n int, err error)
}
