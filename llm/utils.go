package llm

import (
	"crypto/rand"
	"encoding/binary"
	"encoding/hex"
	"time"
)

// NewBatchID returns a 24 hex character id: a 4 byte unix timestamp
// followed by 8 random bytes.
func NewBatchID() string {
	return newBatchIDAt(time.Now())
}

func newBatchIDAt(t time.Time) string {
	id := make([]byte, 12)
	binary.BigEndian.PutUint32(id[:4], uint32(t.Unix()))
	_, _ = rand.Read(id[4:])
	return hex.EncodeToString(id)
}

func IsBatchID(s string) bool {
	_, err := hex.DecodeString(s)
	return err == nil && len(s) == 24
}

func EnsureBatchID(s string) string {
	if !IsBatchID(s) {
		return NewBatchID()
	}
	return s
}
