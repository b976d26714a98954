package mock

import (
	"context"

	hlssync "github.com/hlsnet/hls-core/libs/sync"
	"github.com/hlsnet/hls-core/types"
)

// ChainResponder serves headers out of chain, where chain[i] is the header at
// number i.
func ChainResponder(chain []*types.BlockHeader) Responder {
	return func(_ context.Context, req Request) ([]*types.BlockHeader, error) {
		return selectHeaders(chain, req), nil
	}
}

// ScriptedResponder answers the n-th request with batches[n] and every request
// after the last batch with no headers.
func ScriptedResponder(batches ...[]*types.BlockHeader) Responder {
	var (
		mtx  hlssync.Mutex
		next int
	)
	return func(_ context.Context, _ Request) ([]*types.BlockHeader, error) {
		mtx.Lock()
		defer mtx.Unlock()
		if next >= len(batches) {
			return nil, nil
		}
		batch := batches[next]
		next++
		return batch, nil
	}
}

// ErrorResponder fails every request with err.
func ErrorResponder(err error) Responder {
	return func(context.Context, Request) ([]*types.BlockHeader, error) {
		return nil, err
	}
}

// StallingResponder never answers; it returns once ctx is done.
func StallingResponder() Responder {
	return func(ctx context.Context, _ Request) ([]*types.BlockHeader, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}
}

func selectHeaders(chain []*types.BlockHeader, req Request) []*types.BlockHeader {
	if req.Max <= 0 || req.StartAt >= uint64(len(chain)) {
		return nil
	}
	step := uint64(req.Skip) + 1
	headers := make([]*types.BlockHeader, 0, req.Max)
	for n := req.StartAt; len(headers) < req.Max; {
		headers = append(headers, chain[n])
		if req.Reverse {
			if n < step {
				break
			}
			n -= step
		} else {
			n += step
			if n >= uint64(len(chain)) {
				break
			}
		}
	}
	return headers
}
