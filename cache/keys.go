// ABOUTME: Key layout for the badger-backed cache
// ABOUTME: Entry keys by partition and an expiry index ordered by big-endian timestamp
package cache

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"time"
)

var (
	entryPrefix   = []byte("entry/")
	expiryPrefix  = []byte("exp/")
	pendingPrefix = []byte("pending/")
)

func entryKey(partition, key string) []byte {
	return []byte(fmt.Sprintf("%s%s/%s", entryPrefix, partition, key))
}

func partitionPrefix(partition string) []byte {
	return []byte(fmt.Sprintf("%s%s/", entryPrefix, partition))
}

// expiryKey sorts by expiry first so a sweep can stop at the first live entry.
func expiryKey(expiresAt time.Time, partition, key string) []byte {
	buf := make([]byte, 0, len(expiryPrefix)+9+len(partition)+1+len(key))
	buf = append(buf, expiryPrefix...)
	buf = binary.BigEndian.AppendUint64(buf, uint64(expiresAt.UnixNano()))
	buf = append(buf, '/')
	buf = append(buf, partition...)
	buf = append(buf, '/')
	buf = append(buf, key...)
	return buf
}

// parseExpiryKey splits an index key into its expiry and entry coordinates.
func parseExpiryKey(k []byte) (time.Time, string, string, error) {
	rest, ok := bytes.CutPrefix(k, expiryPrefix)
	if !ok || len(rest) < 9 || rest[8] != '/' {
		return time.Time{}, "", "", fmt.Errorf("malformed expiry key %q", k)
	}
	ts := time.Unix(0, int64(binary.BigEndian.Uint64(rest[:8])))
	partition, key, ok := bytes.Cut(rest[9:], []byte{'/'})
	if !ok {
		return time.Time{}, "", "", fmt.Errorf("malformed expiry key %q", k)
	}
	return ts, string(partition), string(key), nil
}

func hotKey(partition, key string) string {
	return partition + "/" + key
}
