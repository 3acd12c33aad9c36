package table

import (
	"bytes"
	"errors"
	"testing"

	"github.com/lnsp/tuplestore/tuple"
	"github.com/stretchr/testify/assert"
)

func TestRecordBytes(t *testing.T) {
	tt := []struct {
		Name     string
		Record   Record
		Expected []byte
	}{
		{
			Name: "basic record",
			Record: Record{
				Metadata: Metadata{
					127,
					false,
				},
				Data: []byte{1, 2, 3, 4},
			},
			Expected: []byte{0, 0, 0, 0, 0, 0, 0, 127, 0, 1, 2, 3, 4},
		},
		{
			Name: "deleted record",
			Record: Record{
				Metadata: Metadata{
					128,
					true,
				},
				Data: []byte{5, 6, 7, 8},
			},
			Expected: []byte{0, 0, 0, 0, 0, 0, 0, 128, 1, 5, 6, 7, 8},
		},
	}
	for _, tc := range tt {
		t.Run(tc.Name, func(t *testing.T) {
			b := tc.Record.Bytes()
			assert.Equal(t, tc.Expected, b)
			r := Record{}
			assert.Nil(t, r.FromBytes(tc.Expected))
			assert.Equal(t, tc.Record, r)
		})
	}
	// Test for invalid bytes
	t.Run("invalid bytes", func(t *testing.T) {
		r := Record{}
		b := []byte{1, 2, 3, 4}
		assert.NotNil(t, r.FromBytes(b))
	})
	// Make sure that value comparison works fine
	t.Run("record comparison", func(t *testing.T) {
		r1 := Record{Metadata: Metadata{Version: 256}, Data: []byte{'x'}}
		r2 := Record{Metadata: Metadata{Version: 255}, Data: []byte{'y'}}
		assert.Equal(t, 1, bytes.Compare(r1.Bytes(), r2.Bytes()))
	})
}

func TestRecordTuple(t *testing.T) {
	tup, err := tuple.Make("rec", tuple.ScalarField{Kind: tuple.Int32, Name: "a"}, tuple.TextField{Name: "b", Capacity: 8})
	assert.NoError(t, err)
	tuple.Put(tup, 0, int32(42))
	tup.PutText(1, "hi")

	record := NewRecord(3, tup)
	assert.Equal(t, append([]byte{0, 0, 0, 0, 0, 0, 0, 3, 0}, tuple.EncodeData(tup)...), record.Bytes())

	decoded := tuple.New(tup.Schema())
	assert.NoError(t, record.Decode(decoded))
	assert.Equal(t, int32(42), tuple.Get[int32](decoded, 0))
	assert.Equal(t, "hi", decoded.Text(1))

	t.Run("tombstone", func(t *testing.T) {
		assert.True(t, errors.Is(Tombstone(4).Decode(decoded), ErrDeleted))
	})
	t.Run("wrong schema", func(t *testing.T) {
		other, err := tuple.Make("other", tuple.ScalarField{Kind: tuple.Int64, Name: "a"})
		assert.NoError(t, err)
		assert.True(t, errors.Is(record.Decode(other), tuple.ErrDataLength))
	})
}

func TestLatest(t *testing.T) {
	values := [][]byte{
		(&Record{Metadata: Metadata{Version: 2}, Data: []byte("two")}).Bytes(),
		Tombstone(7).Bytes(),
		(&Record{Metadata: Metadata{Version: 5}, Data: []byte("five")}).Bytes(),
	}
	latest, err := Latest(values)
	assert.NoError(t, err)
	assert.Equal(t, int64(7), latest.Version)
	assert.True(t, latest.Delete)

	latest, err = Latest(values[:1])
	assert.NoError(t, err)
	assert.Equal(t, []byte("two"), latest.Data)

	latest, err = Latest(nil)
	assert.NoError(t, err)
	assert.Nil(t, latest)
}
