package filestore

import "strings"

// escapePath maps a StreamPath onto a safe, reversible filename component:
// "/" becomes "_", and literal "_" is doubled first so the mapping can be
// inverted. This is the escaping scheme named in spec.md section 6 ("Path
// escaping replaces / with a reserved separator that never appears in
// decoded paths").
func escapePath(path string) string {
	doubled := strings.ReplaceAll(path, "_", "__")
	return strings.ReplaceAll(doubled, "/", "_")
}

// unescapePath inverts escapePath.
func unescapePath(escaped string) string {
	var b strings.Builder
	b.Grow(len(escaped))
	for i := 0; i < len(escaped); i++ {
		if escaped[i] == '_' {
			if i+1 < len(escaped) && escaped[i+1] == '_' {
				b.WriteByte('_')
				i++
				continue
			}
			b.WriteByte('/')
			continue
		}
		b.WriteByte(escaped[i])
	}
	return b.String()
}
