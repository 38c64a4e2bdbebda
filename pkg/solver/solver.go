// Package solver computes proofs for Anubis challenges. The
// proof-of-work variants fan the nonce search out across parallel
// workers; the time-based variants are pure functions of the
// descriptor whose cost is the wall-clock wait enforced by the origin.
package solver

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"runtime"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gatelift/gatelift/pkg/challenge"
)

// ErrSolveTimeout is returned when a proof-of-work search exhausts its
// attempt ceiling without finding a valid nonce. The caller may retry
// with a freshly fetched challenge.
var ErrSolveTimeout = errors.New("solve attempt ceiling exceeded")

// progressStride controls how often a worker reports progress. Matches
// the reporting cadence the reference clients use.
const progressStride = 16 * 1024

// Options tunes a single solve.
type Options struct {
	// Workers is the proof-of-work fan-out. 0 means GOMAXPROCS.
	Workers int

	// MaxAttempts bounds the nonce search. 0 means unbounded; the
	// context deadline is then the only ceiling.
	MaxAttempts uint64

	// Progress, when set, receives the current nonce at a fixed
	// stride. It is called from worker goroutines and must not
	// block; feed a buffered channel or drop on the floor.
	Progress func(nonce uint64)
}

// Result is the computed proof for one descriptor.
type Result struct {
	// Hash is the proof value submitted to the origin: the winning
	// digest for PoW, the single digest for preact, the echoed
	// payload for metarefresh.
	Hash       string
	Data       string
	Difficulty int
	Nonce      uint64
	Attempts   uint64
	Elapsed    time.Duration
}

// Solve computes a proof for the descriptor. Unknown algorithms are
// rejected by the challenge parser and never reach here.
func Solve(ctx context.Context, desc *challenge.Descriptor, opts Options) (*Result, error) {
	start := time.Now()
	switch desc.Algorithm() {
	case challenge.AlgoPreact:
		res := solvePreact(desc)
		res.Elapsed = time.Since(start)
		return res, nil
	case challenge.AlgoMetaRefresh:
		res := solveMetaRefresh(desc)
		res.Elapsed = time.Since(start)
		return res, nil
	default:
		return solvePoW(ctx, desc, opts, start)
	}
}

// solvePreact hashes the payload once. Deterministic; the origin
// enforces the wait, not the hash.
func solvePreact(desc *challenge.Descriptor) *Result {
	sum := sha256.Sum256([]byte(desc.Challenge.RandomData))
	return &Result{
		Hash:       hex.EncodeToString(sum[:]),
		Data:       desc.Challenge.RandomData,
		Difficulty: desc.Rules.Difficulty,
		Attempts:   1,
	}
}

// solveMetaRefresh echoes the payload unchanged.
func solveMetaRefresh(desc *challenge.Descriptor) *Result {
	return &Result{
		Hash:       desc.Challenge.RandomData,
		Data:       desc.Challenge.RandomData,
		Difficulty: desc.Rules.Difficulty,
		Attempts:   1,
	}
}

// solvePoW finds a nonce whose digest clears the difficulty. Workers
// stride the nonce space by worker count starting at their own index;
// the first winner publishes its result and cancels the siblings.
func solvePoW(ctx context.Context, desc *challenge.Descriptor, opts Options, start time.Time) (*Result, error) {
	workers := opts.Workers
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var (
		found    atomic.Bool
		attempts atomic.Uint64
		wg       sync.WaitGroup
		resultCh = make(chan *Result, 1)
	)

	data := desc.Challenge.RandomData
	difficulty := desc.Rules.Difficulty

	for id := 0; id < workers; id++ {
		wg.Add(1)
		go func(id uint64) {
			defer wg.Done()

			buf := make([]byte, 0, len(data)+20)
			buf = append(buf, data...)
			dataLen := len(buf)

			var local uint64
			defer func() { attempts.Add(local) }()

			done := ctx.Done()
			for nonce := id; ; nonce += uint64(workers) {
				if opts.MaxAttempts > 0 && nonce >= opts.MaxAttempts {
					return
				}
				if found.Load() {
					return
				}
				if nonce%1024 == id {
					select {
					case <-done:
						return
					default:
					}
				}

				buf = strconv.AppendUint(buf[:dataLen], nonce, 10)
				sum := sha256.Sum256(buf)
				local++

				if CheckNibbles(sum[:], difficulty) {
					if found.CompareAndSwap(false, true) {
						resultCh <- &Result{
							Hash:       hex.EncodeToString(sum[:]),
							Data:       data,
							Difficulty: difficulty,
							Nonce:      nonce,
						}
						cancel()
					}
					return
				}

				if opts.Progress != nil && nonce%progressStride == id {
					opts.Progress(nonce)
				}
			}
		}(uint64(id))
	}

	wg.Wait()

	select {
	case res := <-resultCh:
		res.Attempts = attempts.Load()
		res.Elapsed = time.Since(start)
		return res, nil
	default:
	}

	// The winner is the only path that cancels ctx before this point,
	// and it always leaves a result behind. A bare cancellation is the
	// caller's timeout or abort.
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return nil, ErrSolveTimeout
}

// CheckNibbles reports whether the digest has at least difficulty
// leading zero hexadecimal nibbles. The odd-difficulty case inspects
// only the high half of the next byte.
func CheckNibbles(digest []byte, difficulty int) bool {
	if difficulty <= 0 {
		return true
	}
	full := difficulty / 2
	if len(digest) < full {
		return false
	}
	for _, b := range digest[:full] {
		if b != 0 {
			return false
		}
	}
	if difficulty%2 != 0 {
		if len(digest) <= full {
			return false
		}
		if digest[full]>>4 != 0 {
			return false
		}
	}
	return true
}
