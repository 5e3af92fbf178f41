package storage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/dgraph-io/badger/v3"

	"github.com/eleven-am/orchestra/internal/domain"
	"github.com/eleven-am/orchestra/internal/xjson"
)

const executionPrefix = "execution:"

// HistoryStore keeps finished executions in badger. Every record carries a TTL
// equal to the configured retention, which bounds the history window.
type HistoryStore struct {
	db        *badger.DB
	retention time.Duration
	logger    *slog.Logger

	closeOnce sync.Once
	stop      chan struct{}
	done      chan struct{}
}

func NewHistoryStore(config domain.HistoryConfig, logger *slog.Logger) (*HistoryStore, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if config.Retention <= 0 {
		config.Retention = domain.DefaultHistoryConfig().Retention
	}

	var opts badger.Options
	if config.Dir == "" {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if err := os.MkdirAll(config.Dir, 0755); err != nil {
			return nil, fmt.Errorf("create history directory %s: %w", config.Dir, err)
		}
		opts = badger.DefaultOptions(config.Dir)
	}
	opts.Logger = &badgerLogger{logger: logger.With("component", "badger-history")}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open history store: %w", err)
	}

	s := &HistoryStore{
		db:        db,
		retention: config.Retention,
		logger:    logger.With("component", "history"),
		stop:      make(chan struct{}),
		done:      make(chan struct{}),
	}

	if config.Dir == "" {
		close(s.done)
	} else {
		go s.runGarbageCollection(5 * time.Minute)
	}

	s.logger.Info("history store opened", "dir", config.Dir, "retention", config.Retention)
	return s, nil
}

func executionKey(executionID string) []byte {
	return []byte(executionPrefix + executionID)
}

func (s *HistoryStore) Record(ctx context.Context, status *domain.ExecutionStatus) error {
	if status == nil || status.ExecutionID == "" {
		return errors.New("execution status requires an id")
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	data, err := xjson.Marshal(status)
	if err != nil {
		return fmt.Errorf("encode execution %s: %w", status.ExecutionID, err)
	}

	err = s.db.Update(func(txn *badger.Txn) error {
		entry := badger.NewEntry(executionKey(status.ExecutionID), data).WithTTL(s.retention)
		return txn.SetEntry(entry)
	})
	if err != nil {
		if errors.Is(err, badger.ErrDBClosed) {
			return domain.ErrClosed
		}
		return fmt.Errorf("record execution %s: %w", status.ExecutionID, err)
	}

	s.logger.Debug("execution recorded", "execution_id", status.ExecutionID, "status", status.Status)
	return nil
}

func (s *HistoryStore) Get(ctx context.Context, executionID string) (*domain.ExecutionStatus, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var status domain.ExecutionStatus
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(executionKey(executionID))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return xjson.Unmarshal(val, &status)
		})
	})

	switch {
	case err == nil:
		return &status, nil
	case errors.Is(err, badger.ErrKeyNotFound):
		return nil, domain.NewExecutionNotFoundError(executionID)
	case errors.Is(err, badger.ErrDBClosed):
		return nil, domain.ErrClosed
	default:
		return nil, fmt.Errorf("read execution %s: %w", executionID, err)
	}
}

// List returns every retained execution ordered by start time.
func (s *HistoryStore) List(ctx context.Context) ([]*domain.ExecutionStatus, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var results []*domain.ExecutionStatus
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchSize = 100
		opts.Prefix = []byte(executionPrefix)

		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			item := it.Item()
			var status domain.ExecutionStatus
			if err := item.Value(func(val []byte) error {
				return xjson.Unmarshal(val, &status)
			}); err != nil {
				s.logger.Error("failed to decode execution", "key", string(item.Key()), "error", err)
				continue
			}
			results = append(results, &status)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list executions: %w", err)
	}

	sort.Slice(results, func(i, j int) bool {
		return results[i].StartTime.Before(results[j].StartTime)
	})
	return results, nil
}

func (s *HistoryStore) Close() error {
	var err error
	s.closeOnce.Do(func() {
		select {
		case <-s.done:
		default:
			close(s.stop)
			<-s.done
		}
		err = s.db.Close()
		s.logger.Info("history store closed")
	})
	return err
}

func (s *HistoryStore) runGarbageCollection(interval time.Duration) {
	defer close(s.done)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
			lsm, vlog := s.db.Size()
			s.logger.Debug("running garbage collection", "lsm_size", lsm, "vlog_size", vlog)

			if err := s.db.RunValueLogGC(0.5); err != nil && !errors.Is(err, badger.ErrNoRewrite) {
				s.logger.Error("garbage collection failed", "error", err)
			}
		}
	}
}

type badgerLogger struct {
	logger *slog.Logger
}

func (l *badgerLogger) Errorf(f string, v ...interface{}) {
	l.logger.Error(fmt.Sprintf(f, v...))
}

func (l *badgerLogger) Warningf(f string, v ...interface{}) {
	l.logger.Warn(fmt.Sprintf(f, v...))
}

func (l *badgerLogger) Infof(f string, v ...interface{}) {
	l.logger.Debug(fmt.Sprintf(f, v...))
}

func (l *badgerLogger) Debugf(f string, v ...interface{}) {
	l.logger.Debug(fmt.Sprintf(f, v...))
}
