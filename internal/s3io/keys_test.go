package s3io

import (
	"regexp"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSanitizeFilename(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"resume.pdf", "resume.pdf"},
		{"My Resume (final).pdf", "My_Resume__final_.pdf"},
		{"../../etc/passwd", "passwd"},
		{`C:\Users\jane\cv.pdf`, "cv.pdf"},
		{"résumé.pdf", "r_sum_.pdf"},
		{"", "file"},
		{"..", "file"},
		{"/", "file"},
	}
	for _, tc := range tests {
		assert.Equalf(t, tc.want, SanitizeFilename(tc.in), "SanitizeFilename(%q)", tc.in)
	}
}

func TestSanitizeFilename_LengthCapKeepsExtension(t *testing.T) {
	got := SanitizeFilename(strings.Repeat("a", 300) + ".pdf")
	assert.Len(t, got, MaxNameLen)
	assert.True(t, strings.HasSuffix(got, ".pdf"))
}

func TestBuildAndParseKey(t *testing.T) {
	key := BuildKey("/uploads/", "01HZX3J4K5M6N7P8Q9R0S1T2V3", "resume.pdf")
	assert.Equal(t, "uploads/01HZX3J4K5M6N7P8Q9R0S1T2V3-resume.pdf", key)
	assert.Regexp(t, regexp.MustCompile(`^uploads/.+resume\.pdf$`), key)

	id, name, ok := ParseKey("uploads", key)
	assert.True(t, ok)
	assert.Equal(t, "01HZX3J4K5M6N7P8Q9R0S1T2V3", id)
	assert.Equal(t, "resume.pdf", name)

	for _, bad := range []string{"other/01H-resume.pdf", "uploads/nodash", "uploads/a/b-c.pdf", "uploads/-x.pdf"} {
		_, _, ok := ParseKey("uploads", bad)
		assert.Falsef(t, ok, "%q", bad)
	}
}
