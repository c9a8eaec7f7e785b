package filesystem

import (
	"path"
	"strings"
)

// Translate maps a foreign path name onto a rooted slash path: the
// extended-length prefix and drive letter drop, backslashes become
// separators, and dot segments collapse against the root so the result
// can never escape it. An empty result means the name resolved to the
// root itself.
func Translate(name string) string {
	name = strings.TrimPrefix(name, `\\?\`)
	if len(name) >= 2 && name[1] == ':' {
		name = name[2:]
	}
	name = strings.ReplaceAll(name, `\`, "/")
	return strings.TrimPrefix(path.Clean("/"+name), "/")
}
