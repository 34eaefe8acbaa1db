package ledger

import (
	"context"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shadowlend/shadowlend-backend/pkg/kv"
)

// Repository persists one entry list per Key. Put replaces the list; an
// empty list removes it.
type Repository interface {
	Get(ctx context.Context, key Key) ([]Entry, error)
	Put(ctx context.Context, key Key, entries []Entry) error
}

// OwnerLister enumerates owners that currently have at least one list.
type OwnerLister interface {
	Owners(ctx context.Context) ([]common.Address, error)
}

const (
	kvNamespace = "ledger:"
	ownersKey   = kvNamespace + "owners"
)

// KVRepository stores lists under the browser-era key names so exported data
// can be loaded as is:
//
//	ledger:latestAaveZKsyncDeposits-<owner>
//	ledger:latestAaveZKsyncBorrows-<owner>
type KVRepository struct {
	store kv.Store
}

func NewKVRepository(store kv.Store) *KVRepository {
	return &KVRepository{store: store}
}

func storageKey(key Key) string {
	name := "latestAaveZKsyncDeposits-"
	if key.Kind == KindBorrow {
		name = "latestAaveZKsyncBorrows-"
	}
	return kvNamespace + name + key.Owner.Hex()
}

func (r *KVRepository) Get(ctx context.Context, key Key) ([]Entry, error) {
	data, err := r.store.Get(ctx, storageKey(key))
	if err != nil {
		if errors.Is(err, kv.ErrNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("load %s: %w", key, err)
	}
	return Decode(data), nil
}

func (r *KVRepository) Put(ctx context.Context, key Key, entries []Entry) error {
	owner := []byte(key.Owner.Hex())
	if len(entries) == 0 {
		if _, err := r.store.Del(ctx, storageKey(key)); err != nil {
			return fmt.Errorf("delete %s: %w", key, err)
		}
		remaining, err := r.store.Exists(ctx,
			storageKey(Key{Owner: key.Owner, Kind: KindDeposit}),
			storageKey(Key{Owner: key.Owner, Kind: KindBorrow}),
		)
		if err != nil {
			return fmt.Errorf("check %s: %w", key, err)
		}
		if remaining == 0 {
			if _, err := r.store.SRem(ctx, ownersKey, owner); err != nil {
				return fmt.Errorf("unindex owner: %w", err)
			}
		}
		return nil
	}

	data, err := Encode(entries)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	if err := r.store.Set(ctx, storageKey(key), data); err != nil {
		return fmt.Errorf("store %s: %w", key, err)
	}
	if _, err := r.store.SAdd(ctx, ownersKey, owner); err != nil {
		return fmt.Errorf("index owner: %w", err)
	}
	return nil
}

func (r *KVRepository) Owners(ctx context.Context) ([]common.Address, error) {
	members, err := r.store.SMembers(ctx, ownersKey)
	if err != nil {
		return nil, fmt.Errorf("list owners: %w", err)
	}
	owners := make([]common.Address, 0, len(members))
	for _, m := range members {
		if common.IsHexAddress(string(m)) {
			owners = append(owners, common.HexToAddress(string(m)))
		}
	}
	return owners, nil
}
