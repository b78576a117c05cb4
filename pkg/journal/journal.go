package journal

import (
	"bytes"
	"encoding/binary"
	"encoding/gob"
	"errors"
	"fmt"
	"sync"
	"time"

	"example.com/lumen/pkg/tokens"
	"github.com/holiman/uint256"
	bolt "go.etcd.io/bbolt"
)

const (
	eventsBucket  = "events"
	holdersBucket = "holders"
)

// Errors
var (
	ErrJournalClosed = errors.New("journal closed")
	ErrCorruptRecord = errors.New("corrupt journal record")
)

// Entry is a recorded ledger event.
type Entry struct {
	Seq      uint64
	Recorded time.Time
	tokens.Event
}

// record is the stored form of an Entry.
type record struct {
	Kind     string
	From     [20]byte
	To       [20]byte
	Amount   string
	Recorded int64
}

// Journal is an append-only bolt log of ledger events. It satisfies
// tokens.EventSink.
type Journal struct {
	mu  sync.RWMutex
	db  *bolt.DB
	now func() time.Time
}

// Open opens or creates the journal file at path.
func Open(path string) (*Journal, error) {
	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("open journal: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists([]byte(eventsBucket)); err != nil {
			return err
		}
		_, err := tx.CreateBucketIfNotExists([]byte(holdersBucket))
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("init journal: %w", err)
	}

	return &Journal{db: db, now: time.Now}, nil
}

// Record appends ev and indexes it under both of its holders.
func (j *Journal) Record(ev tokens.Event) error {
	j.mu.RLock()
	defer j.mu.RUnlock()

	if j.db == nil {
		return ErrJournalClosed
	}

	rec := record{
		Kind:     string(ev.Kind),
		From:     ev.From,
		To:       ev.To,
		Amount:   "0",
		Recorded: j.now().UnixNano(),
	}
	if ev.Amount != nil {
		rec.Amount = ev.Amount.Dec()
	}
	data, err := serialize(rec)
	if err != nil {
		return err
	}

	return j.db.Update(func(tx *bolt.Tx) error {
		events := tx.Bucket([]byte(eventsBucket))
		seq, err := events.NextSequence()
		if err != nil {
			return err
		}
		key := seqKey(seq)
		if err := events.Put(key, data); err != nil {
			return err
		}

		holders := tx.Bucket([]byte(holdersBucket))
		if err := holders.Put(holderKey(ev.From, seq), []byte{}); err != nil {
			return err
		}
		if ev.To != ev.From {
			return holders.Put(holderKey(ev.To, seq), []byte{})
		}
		return nil
	})
}

// Events returns up to limit entries starting at sequence from, oldest
// first. A limit of zero or less means no limit.
func (j *Journal) Events(from uint64, limit int) ([]Entry, error) {
	j.mu.RLock()
	defer j.mu.RUnlock()

	if j.db == nil {
		return nil, ErrJournalClosed
	}

	var out []Entry
	err := j.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket([]byte(eventsBucket)).Cursor()
		for k, v := c.Seek(seqKey(from)); k != nil; k, v = c.Next() {
			if limit > 0 && len(out) >= limit {
				break
			}
			entry, err := deserialize(binary.BigEndian.Uint64(k), v)
			if err != nil {
				return err
			}
			out = append(out, entry)
		}
		return nil
	})
	return out, err
}

// EventsFor returns the most recent entries touching holder, newest first.
func (j *Journal) EventsFor(holder tokens.Holder, limit int) ([]Entry, error) {
	j.mu.RLock()
	defer j.mu.RUnlock()

	if j.db == nil {
		return nil, ErrJournalClosed
	}

	var out []Entry
	err := j.db.View(func(tx *bolt.Tx) error {
		events := tx.Bucket([]byte(eventsBucket))
		c := tx.Bucket([]byte(holdersBucket)).Cursor()

		prefix := holder.Bytes()
		// Seek past the last key with this prefix, then walk backwards.
		end := holderKey(holder, ^uint64(0))
		k, _ := c.Seek(end)
		if k == nil {
			k, _ = c.Last()
		} else if !bytes.Equal(k, end) {
			k, _ = c.Prev()
		}

		for ; k != nil && bytes.HasPrefix(k, prefix); k, _ = c.Prev() {
			if limit > 0 && len(out) >= limit {
				break
			}
			seq := binary.BigEndian.Uint64(k[len(prefix):])
			entry, err := deserialize(seq, events.Get(seqKey(seq)))
			if err != nil {
				return err
			}
			out = append(out, entry)
		}
		return nil
	})
	return out, err
}

// Len returns the number of recorded events.
func (j *Journal) Len() (int, error) {
	j.mu.RLock()
	defer j.mu.RUnlock()

	if j.db == nil {
		return 0, ErrJournalClosed
	}
	var n int
	err := j.db.View(func(tx *bolt.Tx) error {
		n = tx.Bucket([]byte(eventsBucket)).Stats().KeyN
		return nil
	})
	return n, err
}

// Close safely closes the journal database
func (j *Journal) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()

	if j.db == nil {
		return nil
	}
	err := j.db.Close()
	j.db = nil
	return err
}

func seqKey(seq uint64) []byte {
	key := make([]byte, 8)
	binary.BigEndian.PutUint64(key, seq)
	return key
}

func holderKey(holder tokens.Holder, seq uint64) []byte {
	return append(holder.Bytes(), seqKey(seq)...)
}

func serialize(rec record) ([]byte, error) {
	var buffer bytes.Buffer
	if err := gob.NewEncoder(&buffer).Encode(rec); err != nil {
		return nil, err
	}
	return buffer.Bytes(), nil
}

func deserialize(seq uint64, data []byte) (Entry, error) {
	if data == nil {
		return Entry{}, fmt.Errorf("%w: sequence %d missing", ErrCorruptRecord, seq)
	}

	var rec record
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&rec); err != nil {
		return Entry{}, fmt.Errorf("%w: sequence %d: %v", ErrCorruptRecord, seq, err)
	}
	amount, err := uint256.FromDecimal(rec.Amount)
	if err != nil {
		return Entry{}, fmt.Errorf("%w: sequence %d amount: %v", ErrCorruptRecord, seq, err)
	}

	return Entry{
		Seq:      seq,
		Recorded: time.Unix(0, rec.Recorded),
		Event: tokens.Event{
			Kind:   tokens.EventKind(rec.Kind),
			From:   rec.From,
			To:     rec.To,
			Amount: amount,
		},
	}, nil
}
