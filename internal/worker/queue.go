package worker

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/dgraph-io/badger/v4/options"
)

const (
	jobPrefix  = "job/"
	deadPrefix = "dead/"
)

// ErrJobNotFound is returned when a job key does not exist.
var ErrJobNotFound = errors.New("job not found")

// Job is one unit of background ingestion work.
type Job struct {
	ID          string    `json:"id"`
	DocumentID  string    `json:"document_id"`
	FileURL     string    `json:"file_url"`
	Filename    string    `json:"filename"`
	ContentType string    `json:"content_type"`
	Attempts    int       `json:"attempts"`
	EnqueuedAt  time.Time `json:"enqueued_at"`
}

// DeadLetter is a job that will not be retried.
type DeadLetter struct {
	Job      Job       `json:"job"`
	Reason   string    `json:"reason"`
	FailedAt time.Time `json:"failed_at"`
}

// Queue persists pending jobs and dead letters in BadgerDB.
type Queue struct {
	db     *badger.DB
	logger *slog.Logger
}

// badgerLogger routes badger's internal logging through slog.
type badgerLogger struct {
	logger *slog.Logger
}

var _ badger.Logger = (*badgerLogger)(nil)

func (bl *badgerLogger) Errorf(msg string, items ...any) {
	bl.logger.Error(fmt.Sprintf(msg, items...))
}

func (bl *badgerLogger) Warningf(msg string, items ...any) {
	bl.logger.Warn(fmt.Sprintf(msg, items...))
}

func (bl *badgerLogger) Infof(msg string, items ...any) {
	bl.logger.Debug(fmt.Sprintf(msg, items...))
}

func (bl *badgerLogger) Debugf(msg string, items ...any) {
	bl.logger.Debug(fmt.Sprintf(msg, items...))
}

// OpenQueue opens the queue stored in dir, creating the directory if needed.
// With inMemory set, dir is ignored and nothing survives Close.
func OpenQueue(dir string, inMemory bool) (*Queue, error) {
	var opts badger.Options
	if inMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create queue directory: %w", err)
		}
		opts = badger.DefaultOptions(dir)
	}

	logger := slog.Default().With("component", "queue")
	opts.Logger = &badgerLogger{logger: logger}
	opts.Compression = options.None

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open queue: %w", err)
	}

	return &Queue{db: db, logger: logger}, nil
}

// Close closes the underlying database.
func (q *Queue) Close() error {
	return q.db.Close()
}

// Put stores job under its ID, replacing any previous version.
func (q *Queue) Put(job Job) error {
	if job.ID == "" {
		return fmt.Errorf("job id is required")
	}
	raw, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("failed to encode job: %w", err)
	}
	return q.db.Update(func(txn *badger.Txn) error {
		return txn.Set(jobKey(job.ID), raw)
	})
}

// Get returns a pending job. Returns ErrJobNotFound if it is absent.
func (q *Queue) Get(id string) (Job, error) {
	var job Job
	err := q.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(jobKey(id))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return ErrJobNotFound
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &job)
		})
	})
	return job, err
}

// Remove deletes a pending job. Removing an absent job is not an error.
func (q *Queue) Remove(id string) error {
	return q.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(jobKey(id))
	})
}

// Pending returns every stored job, oldest first.
func (q *Queue) Pending() ([]Job, error) {
	jobs := []Job{}
	err := q.scan(jobPrefix, func(val []byte) error {
		var job Job
		if err := json.Unmarshal(val, &job); err != nil {
			return fmt.Errorf("failed to decode job: %w", err)
		}
		jobs = append(jobs, job)
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.SliceStable(jobs, func(i, j int) bool {
		return jobs[i].EnqueuedAt.Before(jobs[j].EnqueuedAt)
	})
	return jobs, nil
}

// Bury moves job to the dead-letter keyspace in one transaction.
func (q *Queue) Bury(job Job, reason string) error {
	raw, err := json.Marshal(DeadLetter{Job: job, Reason: reason, FailedAt: time.Now().UTC()})
	if err != nil {
		return fmt.Errorf("failed to encode dead letter: %w", err)
	}
	return q.db.Update(func(txn *badger.Txn) error {
		if err := txn.Delete(jobKey(job.ID)); err != nil {
			return err
		}
		return txn.Set([]byte(deadPrefix+job.ID), raw)
	})
}

// DeadLetters returns every buried job, oldest failure first.
func (q *Queue) DeadLetters() ([]DeadLetter, error) {
	letters := []DeadLetter{}
	err := q.scan(deadPrefix, func(val []byte) error {
		var dl DeadLetter
		if err := json.Unmarshal(val, &dl); err != nil {
			return fmt.Errorf("failed to decode dead letter: %w", err)
		}
		letters = append(letters, dl)
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.SliceStable(letters, func(i, j int) bool {
		return letters[i].FailedAt.Before(letters[j].FailedAt)
	})
	return letters, nil
}

func (q *Queue) scan(prefix string, fn func(val []byte) error) error {
	return q.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(prefix)
		iter := txn.NewIterator(opts)
		defer iter.Close()

		for iter.Rewind(); iter.Valid(); iter.Next() {
			if err := iter.Item().Value(fn); err != nil {
				return err
			}
		}
		return nil
	})
}

func jobKey(id string) []byte {
	return []byte(jobPrefix + id)
}
