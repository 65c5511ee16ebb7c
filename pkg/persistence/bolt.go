package persistence

import (
	"encoding/binary"
	"errors"
	"fmt"
	"time"

	"github.com/fxamacker/cbor/v2"
	bolt "go.etcd.io/bbolt"

	"github.com/mash-protocol/mash-reporting/pkg/eventlog"
	"github.com/mash-protocol/mash-reporting/pkg/path"
	"github.com/mash-protocol/mash-reporting/pkg/wire"
)

var (
	bucketCounters   = []byte("counters")
	bucketAttributes = []byte("attributes")
	keyEventNumber   = []byte("event_number")
)

// ErrCorrupt is returned for a stored record that cannot be decoded.
var ErrCorrupt = errors.New("corrupt persisted record")

// BoltStore keeps reporting state in a bbolt database.
type BoltStore struct {
	db *bolt.DB
}

// OpenBoltStore opens or creates the database at path.
func OpenBoltStore(path string) (*BoltStore, error) {
	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("open bolt db: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		for _, b := range [][]byte{bucketCounters, bucketAttributes} {
			if _, err := tx.CreateBucketIfNotExists(b); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("create buckets: %w", err)
	}

	return &BoltStore{db: db}, nil
}

// Close closes the database.
func (s *BoltStore) Close() error {
	return s.db.Close()
}

// EventCounter returns the event number reservation stored in s.
func (s *BoltStore) EventCounter() *BoltCounter {
	return &BoltCounter{db: s.db, key: keyEventNumber}
}

// BoltCounter is an eventlog.CounterStore backed by a bbolt key.
type BoltCounter struct {
	db  *bolt.DB
	key []byte
}

var _ eventlog.CounterStore = (*BoltCounter)(nil)

// Load returns the stored value, or 0 if nothing was stored yet.
func (c *BoltCounter) Load() (uint64, error) {
	var v uint64
	err := c.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketCounters).Get(c.key)
		if data == nil {
			return nil
		}
		if len(data) != 8 {
			return fmt.Errorf("%w: counter %s has %d bytes", ErrCorrupt, c.key, len(data))
		}
		v = binary.BigEndian.Uint64(data)
		return nil
	})
	return v, err
}

// Store replaces the stored value. It returns once the value is synced.
func (c *BoltCounter) Store(v uint64) error {
	return c.db.Update(func(tx *bolt.Tx) error {
		var buf [8]byte
		binary.BigEndian.PutUint64(buf[:], v)
		return tx.Bucket(bucketCounters).Put(c.key, buf[:])
	})
}

// attributeKey orders keys by endpoint, cluster and attribute.
func attributeKey(p path.AttributePath) []byte {
	key := make([]byte, 10)
	binary.BigEndian.PutUint16(key[0:], uint16(p.Endpoint))
	binary.BigEndian.PutUint32(key[2:], uint32(p.Cluster))
	binary.BigEndian.PutUint32(key[6:], uint32(p.Attribute))
	return key
}

func parseAttributeKey(key []byte) (path.AttributePath, error) {
	if len(key) != 10 {
		return path.AttributePath{}, fmt.Errorf("%w: attribute key of %d bytes", ErrCorrupt, len(key))
	}
	return path.NewAttributePath(
		path.EndpointID(binary.BigEndian.Uint16(key[0:])),
		path.ClusterID(binary.BigEndian.Uint32(key[2:])),
		path.AttributeID(binary.BigEndian.Uint32(key[6:])),
	), nil
}

// SaveAttribute stores the encoded value of the concrete attribute at p.
func (s *BoltStore) SaveAttribute(p path.AttributePath, value any) error {
	if !p.IsConcrete() || p.HasListIndex() {
		return fmt.Errorf("save attribute %s: path is not a whole concrete attribute", p)
	}
	data, err := wire.Marshal(value)
	if err != nil {
		return fmt.Errorf("save attribute %s: %w", p, err)
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketAttributes).Put(attributeKey(p), data)
	})
}

// Attributes returns every stored attribute value.
func (s *BoltStore) Attributes() (map[path.AttributePath]cbor.RawMessage, error) {
	out := make(map[path.AttributePath]cbor.RawMessage)
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketAttributes).ForEach(func(k, v []byte) error {
			p, err := parseAttributeKey(k)
			if err != nil {
				return err
			}
			// v is only valid inside the transaction.
			out[p] = append(cbor.RawMessage(nil), v...)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// DeleteAttribute removes a stored value.
func (s *BoltStore) DeleteAttribute(p path.AttributePath) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketAttributes).Delete(attributeKey(p))
	})
}
