package s3io

import (
	"path"
	"strings"
)

// MaxNameLen caps the sanitized filename portion of an object key.
const MaxNameLen = 128

// SanitizeFilename keeps only the base name and replaces every character
// outside [A-Za-z0-9_.-] with an underscore. Long names are cut from the
// stem so the extension survives.
func SanitizeFilename(name string) string {
	name = strings.ReplaceAll(strings.TrimSpace(name), `\`, "/")
	name = path.Base(name)
	if name == "." || name == "/" || name == ".." {
		name = ""
	}

	var b strings.Builder
	b.Grow(len(name))
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_', r == '.', r == '-':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	clean := b.String()
	if clean == "" {
		return "file"
	}
	if len(clean) <= MaxNameLen {
		return clean
	}

	ext := path.Ext(clean)
	if len(ext) >= MaxNameLen {
		return clean[:MaxNameLen]
	}
	return clean[:MaxNameLen-len(ext)] + ext
}

// BuildKey constructs the object key "{prefix}/{id}-{sanitized filename}".
func BuildKey(prefix, id, filename string) string {
	return strings.Trim(prefix, "/") + "/" + id + "-" + SanitizeFilename(filename)
}

// ParseKey splits a key built by BuildKey back into its id and filename.
func ParseKey(prefix, key string) (id, filename string, ok bool) {
	rest, found := strings.CutPrefix(key, strings.Trim(prefix, "/")+"/")
	if !found || strings.Contains(rest, "/") {
		return "", "", false
	}
	id, filename, found = strings.Cut(rest, "-")
	if !found || id == "" || filename == "" {
		return "", "", false
	}
	return id, filename, true
}
