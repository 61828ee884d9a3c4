package snapshot

import (
	"errors"
	"testing"
)

func TestValidateImage(t *testing.T) {
	good := append([]byte("SQLite format 3\x00"), make([]byte, 84)...)
	if err := ValidateImage(good); err != nil {
		t.Fatalf("expected ok, got %v", err)
	}
	bads := [][]byte{
		nil,
		[]byte("SQLite"),
		[]byte("PK\x03\x04 not a database at all"),
		[]byte("SQLite format 2\x00xxxx"),
	}
	for i, b := range bads {
		if err := ValidateImage(b); !errors.Is(err, ErrCorrupt) {
			t.Fatalf("case %d: expected ErrCorrupt, got %v", i, err)
		}
	}
}
