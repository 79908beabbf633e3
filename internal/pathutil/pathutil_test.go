package pathutil

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCleanRootsAndResolvesDotDot(t *testing.T) {
	assert.Equal(t, "/", Clean(""))
	assert.Equal(t, "/a/b", Clean("a/b"))
	assert.Equal(t, "/a", Clean("/a/b/.."))
}

func TestJoinConcatenates(t *testing.T) {
	assert.Equal(t, "/dir/name.txt", Join("/dir", "name.txt"))
	assert.Equal(t, "/name.txt", Join("/", "name.txt"))
}

func TestParentDir(t *testing.T) {
	assert.Equal(t, "/a/b", ParentDir("/a/b/c.txt"))
	assert.Equal(t, "/", ParentDir("/c.txt"))
}

func TestBase(t *testing.T) {
	assert.Equal(t, "c.txt", Base("/a/b/c.txt"))
}

func TestValidateSegmentRejectsControlCharacters(t *testing.T) {
	assert.NoError(t, ValidateSegment("normal-name.txt"))

	err := ValidateSegment("evil\r\nDELE other.txt")
	assert.Error(t, err)
	var invalid *InvalidPathError
	assert.ErrorAs(t, err, &invalid)
}
