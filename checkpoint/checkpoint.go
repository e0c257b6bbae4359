// checkpoint keeps run summaries in a bolt database. Summaries are
// saved periodically during long runs, so an interrupted run leaves a
// record of how far it got.
package checkpoint

import (
	"encoding/json"
	"sort"
	"time"

	"github.com/op/go-logging"
	"github.com/pkg/errors"

	bolt "go.etcd.io/bbolt"

	"bitbucket.org/Davydov/gokombine/sampler"
)

// log is the global logging variable.
var log = logging.MustGetLogger("checkpoint")

// RUNS is the bucket name for run summaries.
var RUNS = []byte("runs")

// RunSummary describes a sampler run.
type RunSummary struct {
	// ID is the unique run id.
	ID string `json:"id"`
	// Started is the run start time.
	Started time.Time `json:"started"`
	// Updated is the time of the last save.
	Updated  time.Time `json:"updated"`
	NWalkers int       `json:"nWalkers"`
	Dim      int       `json:"dim"`
	Names    []string  `json:"names,omitempty"`
	Seed     int64     `json:"seed"`
	// Iterations is the number of committed iterations.
	Iterations int `json:"iterations"`
	// AcceptanceFraction is the mean acceptance fraction over all
	// iterations.
	AcceptanceFraction float64               `json:"acceptanceFraction"`
	BurnIn             *sampler.BurnInReport `json:"burnIn,omitempty"`
	// Mean is the mean walker position after the last iteration.
	Mean []float64 `json:"mean,omitempty"`
	// Final is true for finished (or failed) runs.
	Final bool `json:"final"`
	// Error is the text of the error which stopped the run.
	Error string `json:"error,omitempty"`
	// FailedBatch is the candidate batch which failed to evaluate.
	FailedBatch [][]float64 `json:"failedBatch,omitempty"`
}

// Store saves and loads run summaries.
type Store struct {
	db      *bolt.DB
	last    time.Time
	seconds float64
}

// NewStore creates a new Store. Old reports true if the last save
// was more than seconds ago. A nil db gives a store which saves
// nothing.
func NewStore(db *bolt.DB, seconds float64) (s *Store) {
	s = &Store{
		db:      db,
		seconds: seconds,
	}
	return
}

// Open opens (or creates) a bolt database and returns a store on it.
func Open(path string, seconds float64) (*Store, error) {
	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: 10 * time.Second})
	if err != nil {
		return nil, errors.Wrapf(err, "opening %s", path)
	}
	return NewStore(db, seconds), nil
}

// Close closes the database.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Save saves the run summary under its id.
func (s *Store) Save(r *RunSummary) error {
	// Even if saving fails, we do not want to run this code too often.
	s.SetNow()
	if r.ID == "" {
		return errors.New("run summary without id")
	}
	r.Updated = s.last
	dataB, err := json.Marshal(r)
	if err != nil {
		log.Error("Error serializing run summary", err)
		return err
	}
	err = SaveData(s.db, []byte(r.ID), dataB)
	if err != nil {
		log.Error("Error saving run summary", err)
	}
	return err
}

// Load returns the run summary with the given id, or nil if there is
// none.
func (s *Store) Load(id string) (*RunSummary, error) {
	b, err := LoadData(s.db, []byte(id))
	if err != nil || b == nil {
		return nil, err
	}
	var r *RunSummary
	if err := json.Unmarshal(b, &r); err != nil {
		return nil, errors.Wrapf(err, "run %s", id)
	}
	if r.Final {
		log.Noticef("Found finished run %s (iter=%v)", r.ID, r.Iterations)
	} else {
		log.Noticef("Found unfinished run %s (iter=%v)", r.ID, r.Iterations)
	}
	return r, nil
}

// List returns all the run summaries ordered by start time.
func (s *Store) List() ([]*RunSummary, error) {
	var res []*RunSummary
	if s.db == nil {
		return nil, nil
	}
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(RUNS)
		if b == nil {
			return nil
		}
		return b.ForEach(func(k, v []byte) error {
			var r RunSummary
			if err := json.Unmarshal(v, &r); err != nil {
				return errors.Wrapf(err, "run %s", k)
			}
			res = append(res, &r)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	sort.SliceStable(res, func(i, j int) bool {
		return res[i].Started.Before(res[j].Started)
	})
	return res, nil
}

// Old returns true if last save time too long ago.
func (s *Store) Old() bool {
	return time.Since(s.last).Seconds() > s.seconds
}

// SetNow sets last save time to now.
func (s *Store) SetNow() {
	s.last = time.Now()
}

// SaveData saves values in bolt database.
func SaveData(db *bolt.DB, key []byte, data []byte) error {
	if db == nil {
		return nil
	}
	err := db.Update(func(tx *bolt.Tx) error {
		b, err := tx.CreateBucketIfNotExists(RUNS)
		if err != nil {
			return err
		}

		err = b.Put(key, data)
		return err
	})
	return err
}

// LoadData loads data from bolt database.
func LoadData(db *bolt.DB, key []byte) ([]byte, error) {
	var data []byte
	if db == nil {
		return nil, nil
	}
	err := db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(RUNS)
		if b == nil {
			return nil
		}

		// v is only valid during the transaction
		if v := b.Get(key); v != nil {
			data = append([]byte(nil), v...)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return data, nil
}
