package store

import (
	"crypto/md5"
	"encoding/hex"
	"strings"
)

// GroupHash computes the grouping hash for an event. Events sharing a hash within
// a project belong to the same group. An empty fingerprint groups by message.
func GroupHash(fingerprint []string, message string) string {
	if len(fingerprint) == 0 {
		fingerprint = []string{message}
	}
	sum := md5.Sum([]byte(strings.Join(fingerprint, "\x00")))
	return hex.EncodeToString(sum[:])
}
