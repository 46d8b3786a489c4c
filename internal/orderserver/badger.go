package orderserver

import (
	"context"
	"encoding/json"
	"errors"
	"strings"

	badger "github.com/dgraph-io/badger/v4"

	"github.com/granola/granola/internal/domain"
	"github.com/granola/granola/internal/ordersvc"
)

var orderKeyPrefix = []byte("orders/")

func orderKey(id string) []byte {
	return append(append([]byte(nil), orderKeyPrefix...), id...)
}

// BadgerRepo KV 存储：orders/<id> -> 订单 JSON
type BadgerRepo struct {
	db *badger.DB
}

// OpenBadger 打开 badger；inMemory 时忽略 path
func OpenBadger(path string, inMemory bool) (*BadgerRepo, error) {
	if !inMemory && strings.TrimSpace(path) == "" {
		return nil, errors.New("badger: path is required")
	}
	opts := badger.DefaultOptions(path).WithLogger(nil)
	if inMemory {
		opts = badger.DefaultOptions("").WithInMemory(true).WithLogger(nil)
	}
	db, err := badger.Open(opts)
	if err != nil {
		return nil, err
	}
	return &BadgerRepo{db: db}, nil
}

func (r *BadgerRepo) List(ctx context.Context) ([]domain.Order, error) {
	out := make([]domain.Order, 0)
	err := r.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()
		for it.Seek(orderKeyPrefix); it.ValidForPrefix(orderKeyPrefix); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			err := it.Item().Value(func(val []byte) error {
				var dto ordersvc.OrderDTO
				if err := json.Unmarshal(val, &dto); err != nil {
					return err
				}
				o, err := dto.ToDomain()
				if err != nil {
					return err
				}
				out = append(out, o)
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (r *BadgerRepo) Insert(_ context.Context, o domain.Order) error {
	val, err := json.Marshal(ordersvc.NewOrderDTO(o))
	if err != nil {
		return err
	}
	return r.db.Update(func(txn *badger.Txn) error {
		return txn.Set(orderKey(o.ID), val)
	})
}

func (r *BadgerRepo) Delete(_ context.Context, id string) (bool, error) {
	found := false
	err := r.db.Update(func(txn *badger.Txn) error {
		if _, err := txn.Get(orderKey(id)); err != nil {
			if errors.Is(err, badger.ErrKeyNotFound) {
				return nil
			}
			return err
		}
		found = true
		return txn.Delete(orderKey(id))
	})
	return found, err
}

func (r *BadgerRepo) Count(ctx context.Context) (int, error) {
	n := 0
	err := r.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Seek(orderKeyPrefix); it.ValidForPrefix(orderKeyPrefix); it.Next() {
			n++
		}
		return nil
	})
	return n, err
}

func (r *BadgerRepo) Close() error {
	if r.db == nil {
		return nil
	}
	return r.db.Close()
}
