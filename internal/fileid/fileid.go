// Package fileid derives object-store keys for uploaded files.
package fileid

import (
	"path"
	"strconv"
	"strings"
)

const fallbackName = "upload"

// BlobKey returns the object-store key for a user's upload: "<userID>/<base name>".
// Directory components and traversal segments in filename are dropped, so the key
// always stays inside the user's prefix. Uploading the same name again reuses the key.
func BlobKey(userID int64, filename string) string {
	return strconv.FormatInt(userID, 10) + "/" + BaseName(filename)
}

// BaseName returns the last path element of a client-supplied filename, accepting
// both slash styles. Empty, "." and ".." names become "upload".
func BaseName(filename string) string {
	name := path.Base(strings.ReplaceAll(strings.TrimSpace(filename), "\\", "/"))
	switch name {
	case "", ".", "..", "/":
		return fallbackName
	}
	return name
}
