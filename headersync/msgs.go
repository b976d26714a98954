package headersync

import (
	"errors"
	"fmt"

	"github.com/holiman/uint256"

	"github.com/hlsnet/hls-core/p2p"
	"github.com/hlsnet/hls-core/types"
)

const (
	// MaxHeaderBatchSize is the maximum number of headers per request.
	MaxHeaderBatchSize = 192
)

// NewBlockMsg announces a new head.
type NewBlockMsg struct {
	Hash   types.Hash
	Number uint64
	TD     *uint256.Int
}

// GetBlockHeadersMsg requests Max headers starting at StartAt, every Skip+1
// blocks, in descending order if Reverse is set.
type GetBlockHeadersMsg struct {
	RequestID uint64
	StartAt   uint64
	Max       int
	Skip      int
	Reverse   bool
}

// BlockHeadersMsg answers a GetBlockHeadersMsg.
type BlockHeadersMsg struct {
	RequestID uint64
	Headers   []*types.BlockHeader
}

// ValidateMsg validates a headersync message.
func ValidateMsg(m p2p.Message) error {
	if m == nil {
		return errors.New("message cannot be nil")
	}

	switch msg := m.(type) {
	case *NewBlockMsg:
		if msg.TD == nil {
			return errors.New("nil total difficulty")
		}
		if msg.Hash.IsZero() {
			return errors.New("empty block hash")
		}
		return nil
	case *GetBlockHeadersMsg:
		if msg.Max < 1 {
			return errors.New("max must be at least 1")
		}
		if msg.Max > MaxHeaderBatchSize {
			return fmt.Errorf("max %d exceeds max batch size %d", msg.Max, MaxHeaderBatchSize)
		}
		if msg.Skip < 0 {
			return errors.New("negative skip")
		}
		return nil
	case *BlockHeadersMsg:
		if len(msg.Headers) > MaxHeaderBatchSize {
			return fmt.Errorf("headers count %d exceeds max batch size %d", len(msg.Headers), MaxHeaderBatchSize)
		}
		for i, h := range msg.Headers {
			if h == nil {
				return fmt.Errorf("header at index %d is nil", i)
			}
			if err := h.ValidateBasic(); err != nil {
				return fmt.Errorf("header at index %d: %w", i, err)
			}
		}
		return nil
	default:
		return fmt.Errorf("unknown message type: %T", msg)
	}
}
