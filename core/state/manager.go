package state

import (
	"bytes"
	"errors"
	"fmt"
	"math/big"
	"reflect"
	"sort"
	"sync"

	"github.com/ethereum/go-ethereum/rlp"
	"github.com/holiman/uint256"
	"lukechampine.com/blake3"

	"usdsvault/core/events"
	"usdsvault/storage"
)

var (
	// ErrAmountOverflow is returned when an amount does not fit in 256 bits.
	ErrAmountOverflow = errors.New("state: amount exceeds 256 bits")
	// ErrNegativeAmount is returned when a negative amount is persisted.
	ErrNegativeAmount = errors.New("state: amount must not be negative")
	// ErrInvalidSnapshot is returned when reverting to an unknown snapshot.
	ErrInvalidSnapshot = errors.New("state: invalid snapshot id")
)

type dirtyValue struct {
	value   []byte
	deleted bool
}

type journalEntry struct {
	key     string
	prev    dirtyValue
	hadPrev bool
}

type snapshot struct {
	journal int
	events  int
}

// Manager is the execution environment shared by every protocol module. Writes
// are staged in an in-memory overlay on top of the backing database and only
// reach disk on Commit. Every write is journaled so a failing operation can be
// rolled back as a unit through Atomic.
type Manager struct {
	mu        sync.Mutex
	db        storage.Database
	dirty     map[string]dirtyValue
	journal   []journalEntry
	snapshots []snapshot
	pending   []events.Event
	emitter   events.Emitter
}

// NewManager creates a state manager backed by db.
func NewManager(db storage.Database) *Manager {
	return &Manager{
		db:      db,
		dirty:   make(map[string]dirtyValue),
		emitter: events.NoopEmitter{},
	}
}

// SetEmitter configures where committed events are forwarded.
func (m *Manager) SetEmitter(emitter events.Emitter) {
	if m == nil {
		return
	}
	if emitter == nil {
		emitter = events.NoopEmitter{}
	}
	m.emitter = emitter
}

// ValidateAmount rejects negative values and values that cannot be represented
// as a uint256.
func ValidateAmount(amount *big.Int) error {
	if amount == nil {
		return nil
	}
	if amount.Sign() < 0 {
		return ErrNegativeAmount
	}
	if _, overflow := uint256.FromBig(amount); overflow {
		return ErrAmountOverflow
	}
	return nil
}

func (m *Manager) read(key []byte) ([]byte, error) {
	if m == nil {
		return nil, fmt.Errorf("state manager unavailable")
	}
	if v, ok := m.dirty[string(key)]; ok {
		if v.deleted {
			return nil, nil
		}
		return v.value, nil
	}
	if m.db == nil {
		return nil, nil
	}
	data, err := m.db.Get(key)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, nil
	}
	return data, err
}

func (m *Manager) write(key []byte, value []byte, deleted bool) {
	k := string(key)
	prev, had := m.dirty[k]
	m.journal = append(m.journal, journalEntry{key: k, prev: prev, hadPrev: had})
	m.dirty[k] = dirtyValue{value: value, deleted: deleted}
}

// KVPut stores an arbitrary RLP-encodable value under the provided key.
func (m *Manager) KVPut(key []byte, value interface{}) error {
	if m == nil {
		return fmt.Errorf("state manager unavailable")
	}
	if len(key) == 0 {
		return fmt.Errorf("kv: key must not be empty")
	}
	encoded, err := rlp.EncodeToBytes(value)
	if err != nil {
		return err
	}
	m.write(key, encoded, false)
	return nil
}

// KVGet loads the value stored under key into out. The boolean return indicates
// whether the key existed.
func (m *Manager) KVGet(key []byte, out interface{}) (bool, error) {
	data, err := m.read(key)
	if err != nil {
		return false, err
	}
	if len(data) == 0 {
		return false, nil
	}
	if out == nil {
		return true, nil
	}
	if err := rlp.DecodeBytes(data, out); err != nil {
		return false, err
	}
	return true, nil
}

// KVDelete removes key from the state.
func (m *Manager) KVDelete(key []byte) error {
	if m == nil {
		return fmt.Errorf("state manager unavailable")
	}
	m.write(key, nil, true)
	return nil
}

// KVAppend appends value to the RLP-encoded list stored at key when it is not
// already present.
func (m *Manager) KVAppend(key []byte, value []byte) error {
	var list [][]byte
	if _, err := m.KVGet(key, &list); err != nil {
		return err
	}
	for _, existing := range list {
		if bytes.Equal(existing, value) {
			return nil
		}
	}
	list = append(list, append([]byte(nil), value...))
	return m.KVPut(key, list)
}

// KVGetList decodes the RLP list stored at key into out. Missing keys yield an
// empty slice.
func (m *Manager) KVGetList(key []byte, out interface{}) error {
	if out == nil {
		return fmt.Errorf("kv: output must not be nil")
	}
	ok, err := m.KVGet(key, out)
	if err != nil {
		return err
	}
	if !ok {
		rv := reflect.ValueOf(out)
		if rv.Kind() == reflect.Ptr && !rv.IsNil() {
			elem := rv.Elem()
			if elem.Kind() == reflect.Slice {
				elem.Set(reflect.MakeSlice(elem.Type(), 0, 0))
			}
		}
	}
	return nil
}

// AppendEvent buffers ev until the state is committed. Events written inside a
// reverted snapshot are dropped with it.
func (m *Manager) AppendEvent(ev events.Event) {
	if m == nil || ev == nil {
		return
	}
	m.pending = append(m.pending, ev)
}

// PendingEvents returns the events buffered since the last commit.
func (m *Manager) PendingEvents() []events.Event {
	if m == nil {
		return nil
	}
	return append([]events.Event(nil), m.pending...)
}

// Snapshot records the current journal position.
func (m *Manager) Snapshot() int {
	m.snapshots = append(m.snapshots, snapshot{journal: len(m.journal), events: len(m.pending)})
	return len(m.snapshots) - 1
}

// RevertToSnapshot undoes every write and event recorded after id.
func (m *Manager) RevertToSnapshot(id int) error {
	if id < 0 || id >= len(m.snapshots) {
		return ErrInvalidSnapshot
	}
	snap := m.snapshots[id]
	for i := len(m.journal) - 1; i >= snap.journal; i-- {
		entry := m.journal[i]
		if entry.hadPrev {
			m.dirty[entry.key] = entry.prev
		} else {
			delete(m.dirty, entry.key)
		}
	}
	m.journal = m.journal[:snap.journal]
	m.pending = m.pending[:snap.events]
	m.snapshots = m.snapshots[:id]
	return nil
}

// Atomic runs fn and reverts all of its writes and events when it fails. On
// success its snapshot is released and the writes fold into the enclosing one.
func (m *Manager) Atomic(fn func() error) error {
	if m == nil {
		return fmt.Errorf("state manager unavailable")
	}
	id := m.Snapshot()
	if err := fn(); err != nil {
		if revertErr := m.RevertToSnapshot(id); revertErr != nil {
			return errors.Join(err, revertErr)
		}
		return err
	}
	m.snapshots = m.snapshots[:id]
	if len(m.snapshots) == 0 {
		m.journal = m.journal[:0]
	}
	return nil
}

// Commit flushes the overlay to the database in a single batch, forwards the
// buffered events to the emitter and returns a digest of the written set.
func (m *Manager) Commit() ([32]byte, error) {
	var digest [32]byte
	if m == nil {
		return digest, fmt.Errorf("state manager unavailable")
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	keys := make([]string, 0, len(m.dirty))
	for k := range m.dirty {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	hasher := blake3.New(32, nil)
	var batch storage.Batch
	if m.db != nil {
		batch = m.db.NewBatch()
	}
	for _, k := range keys {
		v := m.dirty[k]
		hasher.Write([]byte(k))
		if v.deleted {
			hasher.Write([]byte{0})
			if batch != nil {
				batch.Delete([]byte(k))
			}
			continue
		}
		hasher.Write([]byte{1})
		hasher.Write(v.value)
		if batch != nil {
			batch.Put([]byte(k), v.value)
		}
	}
	if batch != nil {
		if err := batch.Write(); err != nil {
			return digest, fmt.Errorf("state: commit: %w", err)
		}
	}
	copy(digest[:], hasher.Sum(nil))

	committed := m.pending
	m.dirty = make(map[string]dirtyValue)
	m.journal = nil
	m.snapshots = nil
	m.pending = nil
	for _, ev := range committed {
		m.emitter.Emit(ev)
	}
	return digest, nil
}

// Discard drops every uncommitted write and event.
func (m *Manager) Discard() {
	if m == nil {
		return
	}
	m.dirty = make(map[string]dirtyValue)
	m.journal = nil
	m.snapshots = nil
	m.pending = nil
}

// Dirty reports the number of staged keys.
func (m *Manager) Dirty() int {
	if m == nil {
		return 0
	}
	return len(m.dirty)
}
