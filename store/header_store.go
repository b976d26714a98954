package store

import (
	"fmt"

	dbm "github.com/cometbft/cometbft-db"
	"github.com/google/orderedcode"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/holiman/uint256"
	"github.com/pkg/errors"

	hlssync "github.com/hlsnet/hls-core/libs/sync"
	"github.com/hlsnet/hls-core/types"
)

const (
	// key prefixes
	prefixHeader        = int64(0)
	prefixScore         = int64(1)
	prefixCanonicalHash = int64(2)
	prefixCanonicalHead = int64(3)

	defaultHeaderCacheSize = 1024
)

var (
	// ErrHeaderNotFound is returned when a header is not in the store.
	ErrHeaderNotFound = errors.New("header not found")
	// ErrUnknownParent is returned when persisting a header whose parent is
	// not in the store.
	ErrUnknownParent = errors.New("unknown parent")
	// ErrNoCanonicalHead is returned by GetCanonicalHead before InitGenesis.
	ErrNoCanonicalHead = errors.New("no canonical head")
	// ErrGenesisMismatch is returned by InitGenesis when the store was
	// initialised with a different genesis header.
	ErrGenesisMismatch = errors.New("genesis header mismatch")
)

/*
HeaderStore keeps every header it was handed together with its score (the
total difficulty from genesis up to and including the header) and the
canonical chain, which is the chain ending in the highest scoring header.

Stored entries:
  - header:    hash -> encoded header
  - score:     hash -> total difficulty
  - canonical: number -> hash of the canonical header at that height
  - head:      hash of the canonical head

Reads are safe for concurrent use. Writers are serialized by the store.
*/
type HeaderStore struct {
	db dbm.DB

	mtx         hlssync.Mutex // serializes writers
	headerCache *lru.Cache[types.Hash, *types.BlockHeader]
	scoreCache  *lru.Cache[types.Hash, *uint256.Int]
}

// Option sets an optional parameter on the HeaderStore.
type Option func(*headerStoreOptions)

type headerStoreOptions struct {
	cacheSize int
}

// WithCacheSize sets the number of headers and scores kept in memory.
func WithCacheSize(size int) Option {
	return func(o *headerStoreOptions) { o.cacheSize = size }
}

// NewHeaderStore returns a HeaderStore backed by db.
func NewHeaderStore(db dbm.DB, options ...Option) (*HeaderStore, error) {
	opts := headerStoreOptions{cacheSize: defaultHeaderCacheSize}
	for _, option := range options {
		option(&opts)
	}
	headerCache, err := lru.New[types.Hash, *types.BlockHeader](opts.cacheSize)
	if err != nil {
		return nil, fmt.Errorf("header cache: %w", err)
	}
	scoreCache, err := lru.New[types.Hash, *uint256.Int](opts.cacheSize)
	if err != nil {
		return nil, fmt.Errorf("score cache: %w", err)
	}
	return &HeaderStore{
		db:          db,
		headerCache: headerCache,
		scoreCache:  scoreCache,
	}, nil
}

// InitGenesis stores genesis as the canonical head of an empty store. It is a
// no-op if the store already holds the same genesis header.
func (hs *HeaderStore) InitGenesis(genesis *types.BlockHeader) error {
	if genesis.Number != types.GenesisBlockNumber {
		return fmt.Errorf("genesis header has number %d", genesis.Number)
	}
	if err := genesis.ValidateBasic(); err != nil {
		return fmt.Errorf("invalid genesis header: %w", err)
	}

	hs.mtx.Lock()
	defer hs.mtx.Unlock()

	existing, err := hs.GetCanonicalHash(types.GenesisBlockNumber)
	switch {
	case err == nil:
		if existing != genesis.Hash() {
			return errors.Wrapf(ErrGenesisMismatch, "stored %v, given %v", existing, genesis.Hash())
		}
		return nil
	case !errors.Is(err, ErrHeaderNotFound):
		return err
	}

	batch := hs.db.NewBatch()
	defer batch.Close()

	score := genesis.Difficulty.Clone()
	if err := hs.writeHeader(batch, genesis, score); err != nil {
		return err
	}
	if err := batch.Set(canonicalHashKey(genesis.Number), genesis.Hash().Bytes()); err != nil {
		return err
	}
	if err := batch.Set(canonicalHeadKey(), genesis.Hash().Bytes()); err != nil {
		return err
	}
	if err := batch.WriteSync(); err != nil {
		return errors.Wrap(err, "write genesis")
	}
	hs.headerCache.Add(genesis.Hash(), genesis)
	hs.scoreCache.Add(genesis.Hash(), score)
	return nil
}

// GetCanonicalHead returns the head of the canonical chain.
func (hs *HeaderStore) GetCanonicalHead() (*types.BlockHeader, error) {
	bz, err := hs.db.Get(canonicalHeadKey())
	if err != nil {
		return nil, err
	}
	if len(bz) == 0 {
		return nil, ErrNoCanonicalHead
	}
	return hs.GetBlockHeaderByHash(types.BytesToHash(bz))
}

// GetCanonicalHash returns the hash of the canonical header at number.
func (hs *HeaderStore) GetCanonicalHash(number uint64) (types.Hash, error) {
	bz, err := hs.db.Get(canonicalHashKey(number))
	if err != nil {
		return types.Hash{}, err
	}
	if len(bz) == 0 {
		return types.Hash{}, errors.Wrapf(ErrHeaderNotFound, "no canonical header at #%d", number)
	}
	return types.BytesToHash(bz), nil
}

// GetCanonicalBlockHeaderByNumber returns the canonical header at number.
func (hs *HeaderStore) GetCanonicalBlockHeaderByNumber(number uint64) (*types.BlockHeader, error) {
	hash, err := hs.GetCanonicalHash(number)
	if err != nil {
		return nil, err
	}
	return hs.GetBlockHeaderByHash(hash)
}

// GetBlockHeaderByHash returns the header with the given hash or
// ErrHeaderNotFound.
func (hs *HeaderStore) GetBlockHeaderByHash(hash types.Hash) (*types.BlockHeader, error) {
	if h, ok := hs.headerCache.Get(hash); ok {
		return h, nil
	}
	bz, err := hs.db.Get(headerKey(hash))
	if err != nil {
		return nil, err
	}
	if len(bz) == 0 {
		return nil, errors.Wrapf(ErrHeaderNotFound, "hash %v", hash)
	}
	h, err := types.HeaderFromBytes(bz)
	if err != nil {
		return nil, errors.Wrapf(err, "corrupted header %v", hash)
	}
	hs.headerCache.Add(hash, h)
	return h, nil
}

// HeaderExists reports whether a header with the given hash is stored.
func (hs *HeaderStore) HeaderExists(hash types.Hash) (bool, error) {
	if hs.headerCache.Contains(hash) {
		return true, nil
	}
	return hs.db.Has(headerKey(hash))
}

// GetScore returns the total difficulty of the chain ending in hash.
func (hs *HeaderStore) GetScore(hash types.Hash) (*uint256.Int, error) {
	if score, ok := hs.scoreCache.Get(hash); ok {
		return score.Clone(), nil
	}
	bz, err := hs.db.Get(scoreKey(hash))
	if err != nil {
		return nil, err
	}
	if len(bz) == 0 {
		return nil, errors.Wrapf(ErrHeaderNotFound, "no score for %v", hash)
	}
	score := new(uint256.Int).SetBytes(bz)
	hs.scoreCache.Add(hash, score)
	return score.Clone(), nil
}

// PersistHeader stores a single header. See PersistHeaderChain.
func (hs *HeaderStore) PersistHeader(h *types.BlockHeader) (newCanonical, oldCanonical []*types.BlockHeader, err error) {
	return hs.PersistHeaderChain([]*types.BlockHeader{h})
}

/*
PersistHeaderChain stores a contiguous run of headers. The parent of the first
header must already be stored. If the score of the last header exceeds the
score of the canonical head, the run becomes the new canonical chain: entries
above the new head are removed and entries that disagree with the new chain
are rewritten back to the common ancestor.

It returns the headers that became canonical and the ones that stopped being
canonical, both in ascending order. All entries are written in a single batch.
*/
func (hs *HeaderStore) PersistHeaderChain(headers []*types.BlockHeader) (newCanonical, oldCanonical []*types.BlockHeader, err error) {
	if len(headers) == 0 {
		return nil, nil, nil
	}
	for i := 1; i < len(headers); i++ {
		if headers[i].Number != headers[i-1].Number+1 || headers[i].ParentHash != headers[i-1].Hash() {
			return nil, nil, fmt.Errorf("non contiguous headers: item %d is %v, item %d is %v",
				i-1, headers[i-1], i, headers[i])
		}
	}

	hs.mtx.Lock()
	defer hs.mtx.Unlock()

	first := headers[0]
	parentScore, err := hs.GetScore(first.ParentHash)
	if errors.Is(err, ErrHeaderNotFound) {
		return nil, nil, errors.Wrapf(ErrUnknownParent, "header %v has parent %v", first, first.ParentHash)
	} else if err != nil {
		return nil, nil, err
	}

	batch := hs.db.NewBatch()
	defer batch.Close()

	pending := make(map[types.Hash]*types.BlockHeader, len(headers))
	scores := make([]*uint256.Int, len(headers))
	score := parentScore
	for i, h := range headers {
		score = new(uint256.Int).Add(score, h.Difficulty)
		scores[i] = score
		pending[h.Hash()] = h
		if err := hs.writeHeader(batch, h, score); err != nil {
			return nil, nil, err
		}
	}

	head, err := hs.GetCanonicalHead()
	if err != nil {
		return nil, nil, err
	}
	headScore, err := hs.GetScore(head.Hash())
	if err != nil {
		return nil, nil, err
	}

	last := headers[len(headers)-1]
	if score.Gt(headScore) {
		newCanonical, oldCanonical, err = hs.reorg(batch, head, last, pending)
		if err != nil {
			return nil, nil, err
		}
	}

	if err := batch.WriteSync(); err != nil {
		return nil, nil, errors.Wrap(err, "write headers")
	}
	for i, h := range headers {
		hs.headerCache.Add(h.Hash(), h)
		hs.scoreCache.Add(h.Hash(), scores[i])
	}
	return newCanonical, oldCanonical, nil
}

// reorg makes newHead the canonical head in batch. Headers not yet written
// to the db are looked up in pending.
func (hs *HeaderStore) reorg(
	batch dbm.Batch,
	oldHead, newHead *types.BlockHeader,
	pending map[types.Hash]*types.BlockHeader,
) (newCanonical, oldCanonical []*types.BlockHeader, err error) {
	lookup := func(hash types.Hash) (*types.BlockHeader, error) {
		if h, ok := pending[hash]; ok {
			return h, nil
		}
		return hs.GetBlockHeaderByHash(hash)
	}

	// Delete any canonical number assignments above the new head
	for n := newHead.Number + 1; n <= oldHead.Number; n++ {
		old, err := hs.GetCanonicalBlockHeaderByNumber(n)
		if err != nil {
			return nil, nil, err
		}
		oldCanonical = append(oldCanonical, old)
		if err := batch.Delete(canonicalHashKey(n)); err != nil {
			return nil, nil, err
		}
	}

	// Overwrite any stale canonical number assignments, going backwards
	// until the chains meet
	cur := newHead
	var displaced []*types.BlockHeader
	for {
		canonical, err := hs.GetCanonicalHash(cur.Number)
		if err == nil && canonical == cur.Hash() {
			break
		}
		if err == nil {
			old, err := hs.GetBlockHeaderByHash(canonical)
			if err != nil {
				return nil, nil, err
			}
			displaced = append(displaced, old)
		} else if !errors.Is(err, ErrHeaderNotFound) {
			return nil, nil, err
		}
		if err := batch.Set(canonicalHashKey(cur.Number), cur.Hash().Bytes()); err != nil {
			return nil, nil, err
		}
		newCanonical = append(newCanonical, cur)
		if cur.Number == types.GenesisBlockNumber {
			break
		}
		if cur, err = lookup(cur.ParentHash); err != nil {
			return nil, nil, err
		}
	}
	if err := batch.Set(canonicalHeadKey(), newHead.Hash().Bytes()); err != nil {
		return nil, nil, err
	}

	reverse(newCanonical)
	reverse(displaced)
	return newCanonical, append(displaced, oldCanonical...), nil
}

func (hs *HeaderStore) writeHeader(batch dbm.Batch, h *types.BlockHeader, score *uint256.Int) error {
	bz, err := h.MarshalBinary()
	if err != nil {
		return errors.Wrapf(err, "encode header %v", h)
	}
	if err := batch.Set(headerKey(h.Hash()), bz); err != nil {
		return err
	}
	scoreBz := score.Bytes32()
	return batch.Set(scoreKey(h.Hash()), scoreBz[:])
}

func reverse(headers []*types.BlockHeader) {
	for i, j := 0, len(headers)-1; i < j; i, j = i+1, j-1 {
		headers[i], headers[j] = headers[j], headers[i]
	}
}

//-----------------------------------------------------------------------------

func headerKey(hash types.Hash) []byte {
	return mustEncodeKey(prefixHeader, string(hash[:]))
}

func scoreKey(hash types.Hash) []byte {
	return mustEncodeKey(prefixScore, string(hash[:]))
}

func canonicalHashKey(number uint64) []byte {
	return mustEncodeKey(prefixCanonicalHash, number)
}

func canonicalHeadKey() []byte {
	return mustEncodeKey(prefixCanonicalHead)
}

func mustEncodeKey(prefix int64, items ...interface{}) []byte {
	key, err := orderedcode.Append(nil, append([]interface{}{prefix}, items...)...)
	if err != nil {
		panic(err)
	}
	return key
}
