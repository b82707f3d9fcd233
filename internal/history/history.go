// Package history keeps a small BadgerDB log of past conversions so a rerun
// on identical input can be checked against the previous outputs.
package history

import (
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/dgraph-io/badger/v4"
	"github.com/goccy/go-json"

	"github.com/23skdu/longbow-nnue/internal/logger"
)

const keyPrefix = "conversion/"

// Record describes the latest conversion of one input/settings pair.
type Record struct {
	RunID       string            `json:"run_id"`
	Fingerprint string            `json:"fingerprint"`
	InputSize   int64             `json:"input_size"`
	HiddenSize  int               `json:"hidden_size"`
	Buckets     int               `json:"buckets"`
	Outputs     map[string]string `json:"outputs"` // path -> xxhash digest
	Runs        int               `json:"runs"`
	CreatedAt   time.Time         `json:"created_at"`
}

// Store wraps BadgerDB for conversion records.
type Store struct {
	db *badger.DB
}

// Open opens (or creates) the store in dir.
func Open(dir string) (*Store, error) {
	return open(badger.DefaultOptions(dir))
}

// OpenInMemory opens a store that lives only as long as the process.
func OpenInMemory() (*Store, error) {
	return open(badger.DefaultOptions("").WithInMemory(true))
}

func open(opts badger.Options) (*Store, error) {
	db, err := badger.Open(opts.WithLogger(logger.Badger()))
	if err != nil {
		return nil, fmt.Errorf("failed to open history store: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Fingerprint identifies an input document converted with the given
// settings string.
func Fingerprint(input []byte, settings string) string {
	d := xxhash.New()
	_, _ = d.Write(input)
	_, _ = d.WriteString("\x00")
	_, _ = d.WriteString(settings)
	return FormatDigest(d.Sum64())
}

func FormatDigest(sum uint64) string {
	return fmt.Sprintf("%016x", sum)
}

// Lookup returns the record for fingerprint, or nil if there is none.
func (s *Store) Lookup(fingerprint string) (*Record, error) {
	var rec *Record
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(keyPrefix + fingerprint))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			rec = &Record{}
			return json.Unmarshal(val, rec)
		})
	})
	if err != nil {
		return nil, fmt.Errorf("failed to read history: %w", err)
	}
	return rec, nil
}

// Put stores rec, replacing any earlier record with the same fingerprint
// and carrying its run count forward.
func (s *Store) Put(rec *Record) error {
	err := s.db.Update(func(txn *badger.Txn) error {
		key := []byte(keyPrefix + rec.Fingerprint)
		rec.Runs = 1
		item, err := txn.Get(key)
		switch {
		case errors.Is(err, badger.ErrKeyNotFound):
		case err != nil:
			return err
		default:
			var prev Record
			if err := item.Value(func(val []byte) error { return json.Unmarshal(val, &prev) }); err != nil {
				return err
			}
			rec.Runs = prev.Runs + 1
		}

		data, err := json.Marshal(rec)
		if err != nil {
			return err
		}
		return txn.Set(key, data)
	})
	if err != nil {
		return fmt.Errorf("failed to write history: %w", err)
	}
	return nil
}

// List returns every record, oldest first.
func (s *Store) List() ([]*Record, error) {
	var out []*Record
	err := s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		prefix := []byte(keyPrefix)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			rec := &Record{}
			if err := it.Item().Value(func(val []byte) error { return json.Unmarshal(val, rec) }); err != nil {
				return err
			}
			out = append(out, rec)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list history: %w", err)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

// Diff lists the outputs of cur whose digest differs from prev. Paths
// missing from prev are not reported.
func Diff(prev, cur *Record) []string {
	var changed []string
	for path, digest := range cur.Outputs {
		if old, ok := prev.Outputs[path]; ok && old != digest {
			changed = append(changed, path)
		}
	}
	sort.Strings(changed)
	return changed
}

// Settings are the conversion parameters that affect the output bytes.
type Settings struct {
	QA, QB      int
	BigOutput   bool
	Header      bool
	Name        string
	Activation  string
	Mode        string
	FeatureName string
	OutputName  string
}

func (s Settings) String() string {
	return strings.Join([]string{
		strconv.Itoa(s.QA),
		strconv.Itoa(s.QB),
		strconv.FormatBool(s.BigOutput),
		strconv.FormatBool(s.Header),
		s.Name,
		s.Activation,
		s.Mode,
		s.FeatureName,
		s.OutputName,
	}, "/")
}
