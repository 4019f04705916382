// Package validate provides functions to validate upload intents, object keys and emails.
package validate

import (
	"errors"
	"fmt"
	"mime"
	"path"
	"regexp"
	"strings"
)

// Sentinel errors, one per caller-fixable failure.
var (
	ErrRequired        = errors.New("filename, content type and a positive size are required")
	ErrUnsupportedType = errors.New("unsupported file type")
	ErrTooLarge        = errors.New("file too large")
	ErrInvalidEmail    = errors.New("invalid email")
	ErrInvalidKey      = errors.New("object key outside upload prefix")
)

var emailRx = regexp.MustCompile(`^[A-Za-z0-9._%+\-]+@[A-Za-z0-9.\-]+\.[A-Za-z]{2,}$`)

const maxEmailLen = 254

// Family groups the content types and filename extensions accepted together.
type Family struct {
	Name         string
	ContentTypes []string
	Extensions   []string
}

// Known families, selectable by name from configuration.
var (
	PDF = Family{
		Name:         "pdf",
		ContentTypes: []string{"application/pdf", "application/x-pdf"},
		Extensions:   []string{".pdf"},
	}
	DOCX = Family{
		Name:         "docx",
		ContentTypes: []string{"application/vnd.openxmlformats-officedocument.wordprocessingml.document"},
		Extensions:   []string{".docx"},
	}
	Text = Family{
		Name:         "txt",
		ContentTypes: []string{"text/plain"},
		Extensions:   []string{".txt"},
	}
)

var families = map[string]Family{PDF.Name: PDF, DOCX.Name: DOCX, Text.Name: Text}

// Families resolves family names such as "pdf".
func Families(names []string) ([]Family, error) {
	out := make([]Family, 0, len(names))
	for _, n := range names {
		f, ok := families[strings.ToLower(strings.TrimSpace(n))]
		if !ok {
			return nil, fmt.Errorf("unknown file type %q", n)
		}
		out = append(out, f)
	}
	return out, nil
}

// Required checks the fields every intent must carry.
func Required(filename, contentType string, size int64) error {
	if strings.TrimSpace(filename) == "" || strings.TrimSpace(contentType) == "" || size <= 0 {
		return ErrRequired
	}
	return nil
}

// NormalizeContentType lowercases and strips parameters ("; charset=...").
func NormalizeContentType(ct string) string {
	ct = strings.TrimSpace(ct)
	if mt, _, err := mime.ParseMediaType(ct); err == nil {
		return mt
	}
	if i := strings.IndexByte(ct, ';'); i >= 0 {
		ct = ct[:i]
	}
	return strings.ToLower(strings.TrimSpace(ct))
}

// TypeAndExtension finds the family of contentType and checks the filename
// extension belongs to that same family.
func TypeAndExtension(filename, contentType string, allowed []Family) (Family, error) {
	ct := NormalizeContentType(contentType)
	ext := strings.ToLower(path.Ext(strings.TrimSpace(filename)))
	for _, f := range allowed {
		if contains(f.ContentTypes, ct) {
			if contains(f.Extensions, ext) {
				return f, nil
			}
			return Family{}, ErrUnsupportedType
		}
	}
	return Family{}, ErrUnsupportedType
}

// Size checks the declared size against the ceiling.
func Size(size, max int64) error {
	if size > max {
		return ErrTooLarge
	}
	return nil
}

// Email checks an address against a strict syntactic pattern.
func Email(email string) error {
	email = strings.TrimSpace(email)
	if email == "" || len(email) > maxEmailLen || !emailRx.MatchString(email) {
		return ErrInvalidEmail
	}
	return nil
}

// ObjectKey checks key sits directly under prefix without path tricks.
func ObjectKey(key, prefix string) error {
	p := strings.Trim(prefix, "/") + "/"
	rest, ok := strings.CutPrefix(key, p)
	if !ok || rest == "" || strings.Contains(rest, "/") || strings.Contains(rest, "..") {
		return ErrInvalidKey
	}
	return nil
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}
