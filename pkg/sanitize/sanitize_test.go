package sanitize

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMessageBody(t *testing.T) {
	assert.Equal(t, "hello\nworld", MessageBody("  hello\x00\nworld\x07  "))
	assert.Equal(t, "tab\there", MessageBody("tab\there"))
	assert.Equal(t, "", MessageBody("   "))
	assert.Equal(t, "a�b", MessageBody("a\xffb"))
}

func TestAttachmentRef(t *testing.T) {
	ref, ok := AttachmentRef(" users/42/photo.jpg ")
	assert.True(t, ok)
	assert.Equal(t, "users/42/photo.jpg", ref)

	for _, bad := range []string{"", "/etc/passwd", "a/../b", "a\\b"} {
		_, ok := AttachmentRef(bad)
		assert.False(t, ok, bad)
	}
}

func TestRuneLength(t *testing.T) {
	assert.Equal(t, 5, RuneLength("héllo"))
}
