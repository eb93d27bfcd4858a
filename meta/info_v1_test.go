package meta

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestInfoV1ValidateRejectsBadPieceLength(t *testing.T) {
	info := &InfoV1{Name: "x", PieceLength: 0}
	assert.Error(t, info.Validate())
}

func TestInfoV1ValidateRejectsMismatchedPieceCount(t *testing.T) {
	info := &InfoV1{
		Name:        "x",
		PieceLength: 100,
		Pieces:      make([]byte, 40), // 2 pieces, room for <=200 bytes
		Length:      999,
	}
	assert.Error(t, info.Validate())
}

func TestInfoV1ValidateAcceptsExactMultiple(t *testing.T) {
	info := &InfoV1{
		Name:        "x",
		PieceLength: 100,
		Pieces:      make([]byte, 40), // 2 pieces
		Length:      200,
	}
	assert.NoError(t, info.Validate())
}

func TestInfoV1ValidateAcceptsPartialLastPiece(t *testing.T) {
	info := &InfoV1{
		Name:        "x",
		PieceLength: 100,
		Pieces:      make([]byte, 40), // 2 pieces
		Length:      150,
	}
	assert.NoError(t, info.Validate())
}

func TestInfoV1UpvertedFilesSingleFile(t *testing.T) {
	info := &InfoV1{Name: "x", Length: 42}
	files := info.UpvertedFiles()
	assert.Len(t, files, 1)
	assert.EqualValues(t, 42, files[0].Length)
}

func TestFileInfoV1Attrs(t *testing.T) {
	fi := FileInfoV1{Attr: "xl"}
	assert.True(t, fi.IsExecutable())
	assert.True(t, fi.IsSymlink())
	assert.False(t, fi.IsPadding())
	assert.False(t, fi.IsHidden())
}
