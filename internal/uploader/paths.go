package uploader

import (
	"path/filepath"
	"strings"

	"golang.org/x/text/unicode/norm"
)

// RemoteDir maps a directory's path relative to the local root onto the
// cloud namespace. The local root itself ("." or "") maps to cloudRoot
// unchanged.
func RemoteDir(cloudRoot, relPath string) string {
	if relPath == "." || relPath == "" {
		return cloudRoot
	}

	return toSlash(join(cloudRoot, filepath.ToSlash(relPath)))
}

// RemoteFile returns the remote path of a file named name inside remoteDir.
func RemoteFile(remoteDir, name string) string {
	return toSlash(join(remoteDir, name))
}

// join appends elem to base with one separator and no cleaning, so a child
// path always starts with its parent's remote path exactly as it was sent
// ("./dest" stays "./dest/sub", not "dest/sub"). An absolute elem replaces
// base.
func join(base, elem string) string {
	switch {
	case strings.HasPrefix(elem, "/"), base == "":
		return elem
	case strings.HasSuffix(base, "/"), strings.HasSuffix(base, `\`):
		return base + elem
	default:
		return base + "/" + elem
	}
}

// toSlash forces "/" separators. filepath.ToSlash only rewrites the host
// separator, so a backslash inside a cloud root given on Unix would survive.
func toSlash(p string) string {
	return strings.ReplaceAll(p, `\`, "/")
}

func (u *Uploader) normalize(s string) string {
	if !u.nfc {
		return s
	}

	return norm.NFC.String(s)
}
