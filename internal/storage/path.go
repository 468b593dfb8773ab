// Package storage defines path conventions for capture artifacts.
// Concrete blob stores live in the subpackages local, gcs, and memory.
package storage

import (
	"crypto/sha1" // #nosec G505 -- path keys, not a security boundary
	"encoding/hex"
	"strings"
	"time"
)

// DefaultTimestampLayout is the production timestamp pattern. It is
// part of the persisted-data contract; changing it orphans existing
// artifacts.
const DefaultTimestampLayout = "%y%m%d.%H%M%S"

// PathPrefix derives the storage location for one capture:
// "{hex(sha1(url))}/{timestamp}/". All four artifacts of the capture
// are written beneath it.
func PathPrefix(url string, ts time.Time, layout string) string {
	if layout == "" {
		layout = DefaultTimestampLayout
	}
	sum := sha1.Sum([]byte(url)) // #nosec G401
	return hex.EncodeToString(sum[:]) + "/" + FormatTimestamp(ts, layout) + "/"
}

// FormatTimestamp renders ts using strftime-style directives. The
// subset below covers every layout stored data has ever used; unknown
// directives pass through literally.
func FormatTimestamp(ts time.Time, layout string) string {
	var sb strings.Builder
	for i := 0; i < len(layout); i++ {
		if layout[i] != '%' || i+1 >= len(layout) {
			sb.WriteByte(layout[i])
			continue
		}
		i++
		switch layout[i] {
		case 'Y':
			sb.WriteString(ts.Format("2006"))
		case 'y':
			sb.WriteString(ts.Format("06"))
		case 'm':
			sb.WriteString(ts.Format("01"))
		case 'd':
			sb.WriteString(ts.Format("02"))
		case 'H':
			sb.WriteString(ts.Format("15"))
		case 'M':
			sb.WriteString(ts.Format("04"))
		case 'S':
			sb.WriteString(ts.Format("05"))
		case '%':
			sb.WriteByte('%')
		default:
			sb.WriteByte('%')
			sb.WriteByte(layout[i])
		}
	}
	return sb.String()
}
