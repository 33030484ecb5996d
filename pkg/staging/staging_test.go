package staging

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSanitizeKeyPart(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"report.pdf", "report.pdf"},
		{"my file (1).pdf", "my_file__1_.pdf"},
		{"user-42", "user-42"},
		{"a/b\\c", "a_b_c"},
		{"héllo.txt", "h_llo.txt"},
		{"", ""},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, SanitizeKeyPart(tt.in), "input %q", tt.in)
	}
}

func TestSanitizeHeaderValue(t *testing.T) {
	assert.Equal(t, "report.pdf", SanitizeHeaderValue("report.pdf"))
	assert.Equal(t, "ab", SanitizeHeaderValue("a\x00\x1fb"))
	assert.Equal(t, "caf.txt", SanitizeHeaderValue("café.txt"))
	assert.Equal(t, "with space", SanitizeHeaderValue("with space"))
}

func TestPendingKey(t *testing.T) {
	key := PendingKey("user-1", "temp_abc", "report.pdf")
	assert.Equal(t, "user-1/pending/temp_abc/report.pdf", key)
}

func TestFinalKey(t *testing.T) {
	key := FinalKey("user-1", "BlobXYZ123", "my report.pdf")
	assert.Equal(t, "user-1/BlobXYZ123/my_report.pdf", key)
}
