package redisstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	"github.com/redis/go-redis/v9"

	"github.com/kode4food/paisley/internal/persistence"
)

// insertScript creates a row only if it does not already exist
var insertScript = redis.NewScript(`
	if redis.call("EXISTS", KEYS[1]) == 1 then
		return 0
	end
	redis.call("HSET", KEYS[1], "data", ARGV[1], "rev", ARGV[2])
	return 1
`)

// updateScript replaces a row's payload only while the stored revision
// still matches the expected one. An expected revision of -1 skips the
// check for kinds that are not revisioned
var updateScript = redis.NewScript(`
	local rev = redis.call("HGET", KEYS[1], "rev")
	if not rev then
		return 0
	end
	if ARGV[2] ~= "-1" and rev ~= ARGV[2] then
		return 0
	end
	redis.call("HSET", KEYS[1], "data", ARGV[1], "rev", ARGV[3])
	return 1
`)

func (s *Store) Insert(
	ctx context.Context, obj persistence.PersistentObject,
) error {
	data, err := json.Marshal(obj)
	if err != nil {
		return err
	}
	rev := 0
	if r, ok := obj.(persistence.Revisioned); ok {
		rev = r.Revision()
	}
	key := s.rowKey(obj.Kind(), obj.ID())
	ok, err := insertScript.Run(
		ctx, s.client, []string{key}, data, rev,
	).Int()
	if err != nil {
		return err
	}
	if ok == 0 {
		return fmt.Errorf("%w: %s %s",
			persistence.ErrDuplicateID, obj.Kind(), obj.ID())
	}

	pipe := s.client.Pipeline()
	pipe.SAdd(ctx, s.allKey(obj.Kind()), obj.ID())
	s.addIndexes(ctx, pipe, obj)
	_, err = pipe.Exec(ctx)
	return err
}

func (s *Store) Update(
	ctx context.Context, obj persistence.PersistentObject, expectedRev int,
) (bool, error) {
	old, err := s.SelectByID(ctx, obj.Kind(), obj.ID())
	if err != nil {
		if errors.Is(err, persistence.ErrNotFound) {
			return false, nil
		}
		return false, err
	}
	data, err := json.Marshal(obj)
	if err != nil {
		return false, err
	}
	key := s.rowKey(obj.Kind(), obj.ID())
	ok, err := updateScript.Run(
		ctx, s.client, []string{key},
		data, strconv.Itoa(expectedRev), strconv.Itoa(expectedRev+1),
	).Int()
	if err != nil || ok == 0 {
		return false, err
	}

	pipe := s.client.Pipeline()
	s.removeIndexes(ctx, pipe, old)
	s.addIndexes(ctx, pipe, obj)
	if _, err := pipe.Exec(ctx); err != nil {
		return false, err
	}
	return true, nil
}

func (s *Store) Delete(
	ctx context.Context, obj persistence.PersistentObject,
) error {
	old, err := s.SelectByID(ctx, obj.Kind(), obj.ID())
	if err != nil {
		if errors.Is(err, persistence.ErrNotFound) {
			return nil
		}
		return err
	}
	pipe := s.client.Pipeline()
	pipe.Del(ctx, s.rowKey(obj.Kind(), obj.ID()))
	pipe.SRem(ctx, s.allKey(obj.Kind()), obj.ID())
	s.removeIndexes(ctx, pipe, old)
	_, err = pipe.Exec(ctx)
	return err
}

func (s *Store) SelectByID(
	ctx context.Context, kind persistence.Kind, id string,
) (persistence.PersistentObject, error) {
	row, err := s.client.HGetAll(ctx, s.rowKey(kind, id)).Result()
	if err != nil {
		return nil, err
	}
	if len(row) == 0 {
		return nil, fmt.Errorf("%w: %s %s", persistence.ErrNotFound, kind, id)
	}
	return s.restore(kind, id, row)
}

func (s *Store) SelectList(
	ctx context.Context, q persistence.Query,
) ([]persistence.PersistentObject, error) {
	ids, err := s.queryIDs(ctx, q)
	if err != nil {
		return nil, err
	}
	res := make([]persistence.PersistentObject, 0, len(ids))
	for _, id := range ids {
		obj, err := s.SelectByID(ctx, q.Kind, id)
		if err != nil {
			if errors.Is(err, persistence.ErrNotFound) {
				// stale index entry
				continue
			}
			return nil, err
		}
		res = append(res, obj)
	}
	return res, nil
}

func (s *Store) queryIDs(
	ctx context.Context, q persistence.Query,
) ([]string, error) {
	if !q.ByScore {
		return s.client.SMembers(
			ctx, s.plainKey(q.Kind, q.Index, q.Value),
		).Result()
	}
	max := "+inf"
	if !q.Until.IsZero() {
		max = strconv.FormatInt(q.Until.UnixMilli(), 10)
	}
	return s.client.ZRangeByScore(ctx, s.rankedKey(q.Kind, q.Index),
		&redis.ZRangeBy{
			Min:   "-inf",
			Max:   max,
			Count: int64(q.Limit),
		},
	).Result()
}

func (s *Store) restore(
	kind persistence.Kind, id string, row map[string]string,
) (persistence.PersistentObject, error) {
	info, ok := s.kinds[kind]
	if !ok {
		return nil, fmt.Errorf("%w: %s",
			persistence.ErrKindNotRegistered, kind)
	}
	data, ok := row["data"]
	if !ok {
		return nil, fmt.Errorf("%w: %s %s", ErrRowCorrupt, kind, id)
	}
	obj := info.New()
	if err := json.Unmarshal([]byte(data), obj); err != nil {
		return nil, err
	}
	obj.SetID(id)
	if r, ok := obj.(persistence.Revisioned); ok {
		rev, _ := strconv.Atoi(row["rev"])
		r.SetRevision(rev)
	}
	return obj, nil
}

func (s *Store) addIndexes(
	ctx context.Context, pipe redis.Pipeliner,
	obj persistence.PersistentObject,
) {
	for _, ix := range s.objectIndexes(obj) {
		if ix.Ranked {
			pipe.ZAdd(ctx, s.indexKey(obj.Kind(), ix), redis.Z{
				Score:  ix.Score,
				Member: obj.ID(),
			})
		} else {
			pipe.SAdd(ctx, s.indexKey(obj.Kind(), ix), obj.ID())
		}
	}
}

func (s *Store) removeIndexes(
	ctx context.Context, pipe redis.Pipeliner,
	obj persistence.PersistentObject,
) {
	for _, ix := range s.objectIndexes(obj) {
		if ix.Ranked {
			pipe.ZRem(ctx, s.indexKey(obj.Kind(), ix), obj.ID())
		} else {
			pipe.SRem(ctx, s.indexKey(obj.Kind(), ix), obj.ID())
		}
	}
}

func (s *Store) objectIndexes(
	obj persistence.PersistentObject,
) []persistence.Index {
	info, ok := s.kinds[obj.Kind()]
	if !ok || info.Indexes == nil {
		return nil
	}
	return info.Indexes(obj)
}
