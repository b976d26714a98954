// Package consensus verifies that header chains received from peers are
// linked, well formed and carry valid proof of work seals.
package consensus

import (
	"errors"
	"fmt"
	"math/rand/v2"
	"time"

	hlssync "github.com/hlsnet/hls-core/libs/sync"
	"github.com/hlsnet/hls-core/types"
)

var (
	// ErrInvalidChain is returned when headers do not link to each other or
	// carry invalid fields.
	ErrInvalidChain = errors.New("invalid header chain")
	// ErrInvalidSeal is returned when a sampled header fails the seal check.
	ErrInvalidSeal = errors.New("invalid seal")
)

// ChainValidator validates a run of headers against the header they extend.
type ChainValidator interface {
	// ValidateChain checks that headers extend parent. Seals are verified for
	// a random sample of one header per sealCheckRate headers plus the last
	// one; a rate of 1 or less verifies every seal.
	ValidateChain(parent *types.BlockHeader, headers []*types.BlockHeader, sealCheckRate int) error
}

// Validator is the proof of work ChainValidator.
type Validator struct {
	mtx  hlssync.Mutex
	rand *rand.Rand
}

var _ ChainValidator = (*Validator)(nil)

// Option sets an optional parameter on the Validator.
type Option func(*Validator)

// WithRand sets the source used to pick the sampled seal checks.
func WithRand(r *rand.Rand) Option {
	return func(v *Validator) { v.rand = r }
}

// NewValidator returns a new Validator.
func NewValidator(options ...Option) *Validator {
	now := uint64(time.Now().UnixNano())
	v := &Validator{rand: rand.New(rand.NewPCG(now, now>>1))}
	for _, option := range options {
		option(v)
	}
	return v
}

// ValidateChain implements ChainValidator.
func (v *Validator) ValidateChain(parent *types.BlockHeader, headers []*types.BlockHeader, sealCheckRate int) error {
	if parent == nil {
		return fmt.Errorf("%w: nil parent", ErrInvalidChain)
	}
	if len(headers) == 0 {
		return nil
	}

	prev := parent
	for i, h := range headers {
		if err := validateLink(prev, h); err != nil {
			return fmt.Errorf("%w: item %d: %v", ErrInvalidChain, i, err)
		}
		prev = h
	}

	for i, check := range v.sealChecks(len(headers), sealCheckRate) {
		if !check {
			continue
		}
		if err := VerifySeal(headers[i]); err != nil {
			return err
		}
	}
	return nil
}

func validateLink(parent, h *types.BlockHeader) error {
	if h.Number != parent.Number+1 {
		return fmt.Errorf("header %v does not follow #%d", h, parent.Number)
	}
	if h.ParentHash != parent.Hash() {
		return fmt.Errorf("header %v has parent %v, want %v", h, h.ParentHash, parent.Hash())
	}
	if h.Time < parent.Time {
		return fmt.Errorf("header %v time %d is before parent time %d", h, h.Time, parent.Time)
	}
	return h.ValidateBasic()
}

// sealChecks picks one random index per window of rate headers. The last
// header is always checked.
func (v *Validator) sealChecks(n, rate int) []bool {
	seals := make([]bool, n)
	if rate <= 1 {
		for i := range seals {
			seals[i] = true
		}
		return seals
	}

	v.mtx.Lock()
	for i := 0; i <= n/rate; i++ {
		index := i*rate + v.rand.IntN(rate)
		if index >= n {
			index = n - 1
		}
		seals[index] = true
	}
	v.mtx.Unlock()

	seals[n-1] = true
	return seals
}
