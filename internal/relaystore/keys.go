package relaystore

import "encoding/binary"

var (
	recPrefix  = []byte("rec/")
	tsPrefix   = []byte("ts/")
	addrPrefix = []byte("addr/")
)

func keyRecord(id string) []byte {
	return append(append(make([]byte, 0, len(recPrefix)+len(id)), recPrefix...), id...)
}

func keyAddr(identity string) []byte {
	return append(append(make([]byte, 0, len(addrPrefix)+len(identity)), addrPrefix...), identity...)
}

// keyTS sorts by created_at, then id. Negative timestamps clamp to 0.
func keyTS(createdAt int64, id string) []byte {
	k := keyTSBound(createdAt)
	k = append(k, '/')
	return append(k, id...)
}

func keyTSBound(createdAt int64) []byte {
	if createdAt < 0 {
		createdAt = 0
	}
	k := make([]byte, 0, len(tsPrefix)+8+1+64)
	k = append(k, tsPrefix...)
	return binary.BigEndian.AppendUint64(k, uint64(createdAt))
}

// idFromTSKey extracts the id from a time-index key.
func idFromTSKey(k []byte) string {
	off := len(tsPrefix) + 8 + 1
	if len(k) < off {
		return ""
	}
	return string(k[off:])
}
