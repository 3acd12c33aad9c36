package table

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/lnsp/tuplestore/tuple"
)

// ErrDeleted is returned when decoding a tombstone record.
var ErrDeleted = errors.New("record is deleted")

// Metadata stores metadata on a record value.
type Metadata struct {
	Version int64
	Delete  bool
}

// metadataSize is the encoded size of Metadata.
const metadataSize = 9

// ReadFrom parses the given metadata into the source struct.
func (md *Metadata) ReadFrom(rd io.Reader) error {
	if err := binary.Read(rd, binary.BigEndian, &md.Version); err != nil {
		return err
	}
	if err := binary.Read(rd, binary.BigEndian, &md.Delete); err != nil {
		return err
	}
	return nil
}

// Bytes returns the binary representation of the record's metadata.
func (md *Metadata) Bytes() []byte {
	buffer := bytes.NewBuffer(make([]byte, 0, metadataSize))
	binary.Write(buffer, binary.BigEndian, md.Version)
	binary.Write(buffer, binary.BigEndian, md.Delete)
	return buffer.Bytes()
}

// Record is an entry in a table. Data holds the data encoding of a tuple.
// Byte-wise comparison of two encoded records orders them by version.
type Record struct {
	Metadata
	Data []byte
}

// NewRecord encodes the values of t as a record of the given version.
func NewRecord(version int64, t *tuple.Tuple) *Record {
	return &Record{
		Metadata: Metadata{Version: version},
		Data:     tuple.EncodeData(t),
	}
}

// Tombstone returns a deletion marker of the given version.
func Tombstone(version int64) *Record {
	return &Record{Metadata: Metadata{Version: version, Delete: true}}
}

// FromBytes reconstructs the record from the given raw bytes.
func (record *Record) FromBytes(data []byte) error {
	buffer := bytes.NewBuffer(data)
	if err := record.Metadata.ReadFrom(buffer); err != nil {
		return err
	}
	record.Data = buffer.Bytes()
	return nil
}

// Bytes returns the binary representation of this object.
func (record *Record) Bytes() []byte {
	buffer := bytes.NewBuffer(make([]byte, 0, metadataSize+len(record.Data)))
	buffer.Write(record.Metadata.Bytes())
	buffer.Write(record.Data)
	return buffer.Bytes()
}

// Decode loads the record data into t.
func (record *Record) Decode(t *tuple.Tuple) error {
	if record.Delete {
		return ErrDeleted
	}
	if err := tuple.DecodeData(t, record.Data); err != nil {
		return fmt.Errorf("decode record version %d: %w", record.Version, err)
	}
	return nil
}

// Latest returns the record with the highest version among the raw values,
// or nil if there are none.
func Latest(values [][]byte) (*Record, error) {
	var latest []byte
	for _, v := range values {
		if latest == nil || bytes.Compare(v, latest) > 0 {
			latest = v
		}
	}
	if latest == nil {
		return nil, nil
	}
	record := &Record{}
	if err := record.FromBytes(latest); err != nil {
		return nil, err
	}
	return record, nil
}
