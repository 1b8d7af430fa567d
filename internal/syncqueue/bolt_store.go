package syncqueue

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	platformerrors "github.com/jmgilman/go/errors"
	"go.etcd.io/bbolt"
)

var (
	// bucketTasks: seq(big-endian) -> task JSON，游标顺序即 FIFO 顺序
	bucketTasks = []byte("tasks")
	// bucketIndex: task id -> seq
	bucketIndex = []byte("task_index")
)

// BoltStore 是基于 bbolt 的 Store 实现。
type BoltStore struct {
	db *bbolt.DB
}

var _ Store = (*BoltStore)(nil)

// Open 打开（必要时创建）队列数据库。
func Open(path string) (*BoltStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create sync db dir: %w", err)
	}
	db, err := bbolt.Open(path, 0o600, &bbolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open boltdb: %w", err)
	}

	store := &BoltStore{db: db}
	if err := store.initBuckets(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize buckets: %w", err)
	}
	return store, nil
}

// Close closes the database connection
func (s *BoltStore) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *BoltStore) initBuckets() error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists(bucketTasks); err != nil {
			return fmt.Errorf("failed to create tasks bucket: %w", err)
		}
		if _, err := tx.CreateBucketIfNotExists(bucketIndex); err != nil {
			return fmt.Errorf("failed to create index bucket: %w", err)
		}
		return nil
	})
}

func (s *BoltStore) Append(ctx context.Context, task Task) (Task, error) {
	if err := ctx.Err(); err != nil {
		return Task{}, err
	}
	if task.ID == "" {
		return Task{}, platformerrors.New(platformerrors.CodeInvalidInput, "task id required")
	}
	err := s.db.Update(func(tx *bbolt.Tx) error {
		tasks := tx.Bucket(bucketTasks)
		index := tx.Bucket(bucketIndex)
		if index.Get([]byte(task.ID)) != nil {
			return platformerrors.Newf(platformerrors.CodeAlreadyExists, "task %s already queued", task.ID)
		}
		seq, err := tasks.NextSequence()
		if err != nil {
			return err
		}
		task.Seq = seq
		return putTask(tasks, index, task)
	})
	if err != nil {
		return Task{}, wrapDB(err, "append task")
	}
	return task, nil
}

func (s *BoltStore) List(ctx context.Context) ([]Task, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var out []Task
	err := s.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketTasks).ForEach(func(_, v []byte) error {
			var task Task
			if err := json.Unmarshal(v, &task); err != nil {
				return fmt.Errorf("decode task: %w", err)
			}
			out = append(out, task)
			return nil
		})
	})
	if err != nil {
		return nil, wrapDB(err, "list tasks")
	}
	return out, nil
}

func (s *BoltStore) Get(ctx context.Context, id string) (Task, error) {
	if err := ctx.Err(); err != nil {
		return Task{}, err
	}
	var task Task
	err := s.db.View(func(tx *bbolt.Tx) error {
		seqKey := tx.Bucket(bucketIndex).Get([]byte(id))
		if seqKey == nil {
			return ErrTaskNotFound
		}
		data := tx.Bucket(bucketTasks).Get(seqKey)
		if data == nil {
			return ErrTaskNotFound
		}
		return json.Unmarshal(data, &task)
	})
	if err != nil {
		return Task{}, wrapDB(err, "get task")
	}
	return task, nil
}

func (s *BoltStore) Update(ctx context.Context, task Task) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	err := s.db.Update(func(tx *bbolt.Tx) error {
		tasks := tx.Bucket(bucketTasks)
		index := tx.Bucket(bucketIndex)
		seqKey := index.Get([]byte(task.ID))
		if seqKey == nil {
			return ErrTaskNotFound
		}
		// Seq 由存储分配，更新时保持原值
		task.Seq = binary.BigEndian.Uint64(seqKey)
		return putTask(tasks, index, task)
	})
	return wrapDB(err, "update task")
}

func (s *BoltStore) Delete(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	err := s.db.Update(func(tx *bbolt.Tx) error {
		index := tx.Bucket(bucketIndex)
		seqKey := index.Get([]byte(id))
		if seqKey == nil {
			return ErrTaskNotFound
		}
		if err := tx.Bucket(bucketTasks).Delete(seqKey); err != nil {
			return err
		}
		return index.Delete([]byte(id))
	})
	return wrapDB(err, "delete task")
}

func putTask(tasks, index *bbolt.Bucket, task Task) error {
	data, err := json.Marshal(task)
	if err != nil {
		return fmt.Errorf("encode task: %w", err)
	}
	key := seqKey(task.Seq)
	if err := tasks.Put(key, data); err != nil {
		return err
	}
	return index.Put([]byte(task.ID), key)
}

func seqKey(seq uint64) []byte {
	key := make([]byte, 8)
	binary.BigEndian.PutUint64(key, seq)
	return key
}

// wrapDB 保留 ErrTaskNotFound 与已分类错误，其余存储错误归为可重试的 CodeDatabase。
func wrapDB(err error, op string) error {
	if err == nil {
		return nil
	}
	if err == ErrTaskNotFound {
		return ErrTaskNotFound
	}
	var platformErr platformerrors.PlatformError
	if platformerrors.As(err, &platformErr) {
		return err
	}
	return platformerrors.Wrap(err, platformerrors.CodeDatabase, op)
}
