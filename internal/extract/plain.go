package extract

import (
	"bytes"
	"unicode/utf8"
)

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// extractPlain decodes content as UTF-8, dropping a leading byte order mark.
// Invalid sequences are replaced with U+FFFD.
func extractPlain(content []byte) string {
	content = bytes.TrimPrefix(content, utf8BOM)
	if !utf8.Valid(content) {
		content = bytes.ToValidUTF8(content, []byte("\ufffd"))
	}
	return string(content)
}
