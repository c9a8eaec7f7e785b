package filesystem

import (
	"io/fs"
	"os"
	"path/filepath"
)

type hostFS struct{}

// Host passes names straight to the host filesystem. It suits trusted
// images and tests that hand the image native paths.
func Host() FS {
	return hostFS{}
}

func (hostFS) OpenFile(name string, flag FileFlag, perm fs.FileMode) (File, error) {
	return os.OpenFile(name, int(flag), perm)
}

type dirFS string

// Dir confines the image under root: every foreign name translates to a
// path inside it.
func Dir(root string) FS {
	return dirFS(root)
}

func (d dirFS) OpenFile(name string, flag FileFlag, perm fs.FileMode) (File, error) {
	rel := Translate(name)
	if rel == "" {
		return nil, fs.ErrNotExist
	}
	return os.OpenFile(filepath.Join(string(d), filepath.FromSlash(rel)), int(flag), perm)
}
