package sync

import (
	"crypto/md5"
	"encoding/hex"
)

// ContentHash returns a fast digest of compose content, used to key
// the result caches and to gate the heavy pass.
func ContentHash(text, html, subject string) string {
	h := md5.New()
	h.Write([]byte(subject))
	h.Write([]byte{0})
	h.Write([]byte(text))
	h.Write([]byte{0})
	h.Write([]byte(html))
	return hex.EncodeToString(h.Sum(nil))
}
