package backup

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/bsontype"
)

// IDField is the primary-key field every exported document must carry.
const IDField = "_id"

// maxDocumentSize is MongoDB's 16MiB document limit plus the headroom the
// server allows for internal fields.
const maxDocumentSize = 16*1024*1024 + 16*1024

// DocumentID is the primary key of one exported document. It keeps the raw
// BSON value so any _id type (ObjectId, int, string, subdocument) survives
// the round trip into the delete filter unchanged.
type DocumentID struct {
	value bson.RawValue
}

func NewDocumentID(v bson.RawValue) DocumentID {
	return DocumentID{value: bson.RawValue{Type: v.Type, Value: append([]byte(nil), v.Value...)}}
}

// IDOf builds a DocumentID from a Go value, mostly for tests and fakes.
func IDOf(v interface{}) (DocumentID, error) {
	t, data, err := bson.MarshalValue(v)
	if err != nil {
		return DocumentID{}, err
	}
	return DocumentID{value: bson.RawValue{Type: t, Value: data}}, nil
}

func (id DocumentID) Value() bson.RawValue {
	return id.value
}

func (id DocumentID) Equal(other DocumentID) bool {
	return id.value.Equal(other.value)
}

func (id DocumentID) String() string {
	return id.value.String()
}

func (id DocumentID) MarshalBSONValue() (bsontype.Type, []byte, error) {
	return id.value.Type, id.value.Value, nil
}

// ReadDocumentIDsFile opens a dump file and reads every document's _id.
func ReadDocumentIDsFile(path string) ([]DocumentID, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open dump file: %w", err)
	}
	defer f.Close()

	return ReadDocumentIDs(f)
}

// ReadDocumentIDs streams a concatenated BSON document file and returns the
// _id of each document in file order. Only one document is held in memory
// at a time.
func ReadDocumentIDs(r io.Reader) ([]DocumentID, error) {
	br := bufio.NewReader(r)
	var ids []DocumentID

	for n := 0; ; n++ {
		header, err := br.Peek(4)
		if err != nil {
			if errors.Is(err, io.EOF) && len(header) == 0 {
				return ids, nil
			}
			return nil, fmt.Errorf("document %d: truncated length prefix: %w", n, err)
		}

		// bson.ReadDocument allocates whatever the prefix claims, so bound it first.
		size := int64(int32(binary.LittleEndian.Uint32(header)))
		if size < 5 || size > maxDocumentSize {
			return nil, fmt.Errorf("document %d: invalid length %d", n, size)
		}

		raw, err := bson.ReadDocument(br)
		if err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
				return nil, fmt.Errorf("document %d: truncated body: %w", n, err)
			}
			return nil, fmt.Errorf("document %d: malformed: %w", n, err)
		}
		if err := raw.Validate(); err != nil {
			return nil, fmt.Errorf("document %d: malformed: %w", n, err)
		}

		id, err := raw.LookupErr(IDField)
		if err != nil {
			return nil, fmt.Errorf("document %d: missing %s field", n, IDField)
		}
		ids = append(ids, NewDocumentID(id))
	}
}
