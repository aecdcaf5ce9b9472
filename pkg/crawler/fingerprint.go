package crawler

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// Fingerprint derives the deduplication key for a message. It is a
// deterministic digest of the message id, the conversation id and the
// text, so the same message observed on any ingestion path collapses to
// the same key.
func Fingerprint(messageID int, chatID int64, text string) string {
	sum := sha256.Sum256([]byte(fmt.Sprintf("%d_%d_%s", messageID, chatID, text)))
	return hex.EncodeToString(sum[:])
}
