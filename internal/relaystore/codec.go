package relaystore

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"hash/crc32"

	"github.com/rzbill/spotsync/internal/record"
)

// Value encoding: varint headerLen | header | payload | crc32c(header|payload)
// header = created_at_be8 | kind_be4, payload = record JSON.

var castagnoli = crc32.MakeTable(crc32.Castagnoli)

var errCorrupt = errors.New("relaystore: corrupt record")

func encodeRecord(r record.Record) ([]byte, error) {
	payload, err := json.Marshal(r)
	if err != nil {
		return nil, err
	}
	var header [12]byte
	binary.BigEndian.PutUint64(header[:8], uint64(r.CreatedAt))
	binary.BigEndian.PutUint32(header[8:], uint32(r.Kind))

	out := make([]byte, 0, binary.MaxVarintLen64+len(header)+len(payload)+4)
	out = binary.AppendUvarint(out, uint64(len(header)))
	out = append(out, header[:]...)
	out = append(out, payload...)
	crc := crc32.Update(0, castagnoli, header[:])
	crc = crc32.Update(crc, castagnoli, payload)
	return binary.BigEndian.AppendUint32(out, crc), nil
}

func decodeRecord(b []byte) (record.Record, error) {
	if len(b) < 1+4 {
		return record.Record{}, errCorrupt
	}
	hlen, n := binary.Uvarint(b)
	if n <= 0 || n+int(hlen)+4 > len(b) {
		return record.Record{}, errCorrupt
	}
	header := b[n : n+int(hlen)]
	payload := b[n+int(hlen) : len(b)-4]
	crc := crc32.Update(0, castagnoli, header)
	crc = crc32.Update(crc, castagnoli, payload)
	if crc != binary.BigEndian.Uint32(b[len(b)-4:]) {
		return record.Record{}, errCorrupt
	}
	var r record.Record
	if err := json.Unmarshal(payload, &r); err != nil {
		return record.Record{}, errCorrupt
	}
	return r, nil
}
