package colstore

import (
	"context"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/cespare/xxhash/v2"
	"github.com/hatlonely/secidx/errs"
	"github.com/hatlonely/secidx/kv/store"
	"github.com/hatlonely/secidx/ref"
	"github.com/pkg/errors"
	"github.com/vmihailenco/msgpack/v5"
)

const stripes = 64

type KVColumnStoreOptions struct {
	// Store 底层键值存储，值类型为 []byte
	Store *ref.TypeOptions `cfg:"store"`

	// 每张源表的文档分片数
	Shards int `cfg:"shards" def:"16" validate:"min=1"`
}

// KVColumnStore 用键值存储模拟宽列分区
//
//	doc|{database}.{table}|{shard} -> map[文档 ID]*Document
//	idx|{索引表}|{桶}              -> []*IndexEntry，按 (Key, DocumentID) 排序
//	idxmeta|{索引表}               -> 已使用的桶
//
// 同一个键的读改写由按 xxhash 选择的条带锁串行化
type KVColumnStore struct {
	store  store.Store[string, []byte]
	shards int
	locks  [stripes]sync.Mutex
}

func NewKVColumnStoreWithOptions(options *KVColumnStoreOptions) (*KVColumnStore, error) {
	if options == nil {
		options = &KVColumnStoreOptions{}
	}

	storeOptions := options.Store
	if storeOptions == nil {
		storeOptions = &ref.TypeOptions{Namespace: store.Namespace, Type: "SyncMapStore"}
	}
	s, err := store.NewStoreWithOptions[string, []byte](storeOptions)
	if err != nil {
		return nil, errors.WithMessage(err, "create kv store failed")
	}
	return NewKVColumnStore(s, options.Shards), nil
}

func NewKVColumnStore(s store.Store[string, []byte], shards int) *KVColumnStore {
	if shards <= 0 {
		shards = 16
	}
	return &KVColumnStore{store: s, shards: shards}
}

func (s *KVColumnStore) lock(key string) func() {
	mu := &s.locks[xxhash.Sum64String(key)%stripes]
	mu.Lock()
	return mu.Unlock
}

func (s *KVColumnStore) shardKey(database, table string, shard int) string {
	return "doc|" + database + "." + table + "|" + strconv.Itoa(shard)
}

func (s *KVColumnStore) documentKey(database, table, id string) string {
	return s.shardKey(database, table, int(xxhash.Sum64String(id)%uint64(s.shards)))
}

func partitionKey(physicalTable string, bucket int64) string {
	return "idx|" + physicalTable + "|" + strconv.FormatInt(bucket, 10)
}

func metaKey(physicalTable string) string {
	return "idxmeta|" + physicalTable
}

// load 读取并解码，键不存在时返回零值
func load[T any](ctx context.Context, s store.Store[string, []byte], key string) (T, error) {
	var v T
	buf, err := s.Get(ctx, key)
	if err != nil {
		if errors.Is(err, store.ErrKeyNotFound) {
			return v, nil
		}
		return v, errors.WithMessagef(err, "get %s failed", key)
	}
	if err := msgpack.Unmarshal(buf, &v); err != nil {
		return v, errors.Wrapf(err, "msgpack.Unmarshal %s failed", key)
	}
	return v, nil
}

func save(ctx context.Context, s store.Store[string, []byte], key string, v any) error {
	buf, err := msgpack.Marshal(v)
	if err != nil {
		return errors.Wrapf(err, "msgpack.Marshal %s failed", key)
	}
	if err := s.Set(ctx, key, buf); err != nil {
		return errors.WithMessagef(err, "set %s failed", key)
	}
	return nil
}

func (s *KVColumnStore) PutDocument(ctx context.Context, database, table string, doc *Document) error {
	if doc == nil || doc.ID == "" {
		return errs.Contract("document id is required")
	}
	key := s.documentKey(database, table, doc.ID)
	defer s.lock(key)()

	shard, err := load[map[string]*Document](ctx, s.store, key)
	if err != nil {
		return err
	}
	if shard == nil {
		shard = map[string]*Document{}
	}
	shard[doc.ID] = doc
	return save(ctx, s.store, key, shard)
}

func (s *KVColumnStore) GetDocument(ctx context.Context, database, table, id string) (*Document, error) {
	shard, err := load[map[string]*Document](ctx, s.store, s.documentKey(database, table, id))
	if err != nil {
		return nil, err
	}
	doc, ok := shard[id]
	if !ok {
		return nil, errs.NotFound("document %s not found in %s.%s", id, database, table)
	}
	return doc, nil
}

func (s *KVColumnStore) DeleteDocument(ctx context.Context, database, table, id string) error {
	key := s.documentKey(database, table, id)
	defer s.lock(key)()

	shard, err := load[map[string]*Document](ctx, s.store, key)
	if err != nil {
		return err
	}
	if _, ok := shard[id]; !ok {
		return nil
	}
	delete(shard, id)
	if len(shard) == 0 {
		return errors.WithMessagef(s.store.Del(ctx, key), "del %s failed", key)
	}
	return save(ctx, s.store, key, shard)
}

// ScanDocuments 按分片顺序遍历，分片内按 ID 排序
func (s *KVColumnStore) ScanDocuments(ctx context.Context, database, table string, fn func(doc *Document) error) error {
	for i := 0; i < s.shards; i++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		shard, err := load[map[string]*Document](ctx, s.store, s.shardKey(database, table, i))
		if err != nil {
			return err
		}
		ids := make([]string, 0, len(shard))
		for id := range shard {
			ids = append(ids, id)
		}
		sort.Strings(ids)
		for _, id := range ids {
			if err := fn(shard[id]); err != nil {
				return err
			}
		}
	}
	return nil
}

func (s *KVColumnStore) CountDocuments(ctx context.Context, database, table string) (int64, error) {
	var n int64
	for i := 0; i < s.shards; i++ {
		shard, err := load[map[string]*Document](ctx, s.store, s.shardKey(database, table, i))
		if err != nil {
			return 0, err
		}
		n += int64(len(shard))
	}
	return n, nil
}

func (s *KVColumnStore) PutIndexEntry(ctx context.Context, physicalTable string, bucket int64, entry *IndexEntry) error {
	if entry == nil || entry.DocumentID == "" {
		return errs.Contract("index entry document id is required")
	}
	key := partitionKey(physicalTable, bucket)
	unlock := s.lock(key)
	rows, err := load[[]*IndexEntry](ctx, s.store, key)
	if err != nil {
		unlock()
		return err
	}
	isNew := len(rows) == 0
	rows = removeEntry(rows, entry.DocumentID)
	i := sort.Search(len(rows), func(i int) bool {
		return entryLess(entry, rows[i])
	})
	rows = append(rows, nil)
	copy(rows[i+1:], rows[i:])
	rows[i] = entry
	err = save(ctx, s.store, key, rows)
	unlock()
	if err != nil {
		return err
	}

	if isNew {
		return s.addBucket(ctx, physicalTable, bucket)
	}
	return nil
}

func entryLess(a, b *IndexEntry) bool {
	if a.Key != b.Key {
		return uint64(a.Key) < uint64(b.Key)
	}
	return a.DocumentID < b.DocumentID
}

func removeEntry(rows []*IndexEntry, documentID string) []*IndexEntry {
	out := rows[:0]
	for _, r := range rows {
		if r.DocumentID != documentID {
			out = append(out, r)
		}
	}
	return out
}

func (s *KVColumnStore) addBucket(ctx context.Context, physicalTable string, bucket int64) error {
	key := metaKey(physicalTable)
	defer s.lock(key)()

	buckets, err := load[[]int64](ctx, s.store, key)
	if err != nil {
		return err
	}
	i := sort.Search(len(buckets), func(i int) bool { return buckets[i] >= bucket })
	if i < len(buckets) && buckets[i] == bucket {
		return nil
	}
	buckets = append(buckets, 0)
	copy(buckets[i+1:], buckets[i:])
	buckets[i] = bucket
	return save(ctx, s.store, key, buckets)
}

func (s *KVColumnStore) DeleteIndexEntry(ctx context.Context, physicalTable string, bucket int64, documentID string) error {
	key := partitionKey(physicalTable, bucket)
	defer s.lock(key)()

	rows, err := load[[]*IndexEntry](ctx, s.store, key)
	if err != nil {
		return err
	}
	n := len(rows)
	rows = removeEntry(rows, documentID)
	if len(rows) == n {
		return nil
	}
	return save(ctx, s.store, key, rows)
}

func (s *KVColumnStore) ScanPartition(ctx context.Context, physicalTable string, bucket int64) ([]*IndexEntry, error) {
	return load[[]*IndexEntry](ctx, s.store, partitionKey(physicalTable, bucket))
}

// Buckets 索引表已使用的桶，升序
func (s *KVColumnStore) Buckets(ctx context.Context, physicalTable string) ([]int64, error) {
	return load[[]int64](ctx, s.store, metaKey(physicalTable))
}

func (s *KVColumnStore) DropIndexTable(ctx context.Context, physicalTable string) error {
	buckets, err := s.Buckets(ctx, physicalTable)
	if err != nil {
		return err
	}
	keys := make([]string, 0, len(buckets)+1)
	for _, b := range buckets {
		keys = append(keys, partitionKey(physicalTable, b))
	}
	keys = append(keys, metaKey(physicalTable))

	results, err := s.store.BatchDel(ctx, keys)
	if err != nil {
		return errors.WithMessagef(err, "drop index table %s failed", physicalTable)
	}
	var failed []string
	for i, err := range results {
		if err != nil {
			failed = append(failed, keys[i])
		}
	}
	if len(failed) > 0 {
		return errors.Errorf("drop index table %s failed for keys [%s]", physicalTable, strings.Join(failed, ", "))
	}
	return nil
}

func (s *KVColumnStore) Close() error {
	return s.store.Close()
}
