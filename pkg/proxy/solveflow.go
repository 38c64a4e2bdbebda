package proxy

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gatelift/gatelift/pkg/challenge"
	"github.com/gatelift/gatelift/pkg/models"
	"github.com/gatelift/gatelift/pkg/solver"
	"github.com/gatelift/gatelift/pkg/submit"
)

// RedemptionError reports that the origin refused a proof. It carries
// the origin's final response so the caller sees the origin's own
// status and body instead of an opaque failure.
type RedemptionError struct {
	Result *upstreamResult
}

func (e *RedemptionError) Error() string {
	return fmt.Sprintf("redemption rejected with status %d", e.Result.status)
}

// fetchThrough runs the per-request state machine: cache lookup, direct
// fetch on a hit, and the parse/solve/redeem pipeline on a miss.
func (s *Server) fetchThrough(ctx context.Context, host, targetURL string, log *slog.Logger) (*upstreamResult, error) {
	if rec, ok := s.cache.Get(host); ok {
		if s.met != nil {
			s.met.CacheHitsTotal.Inc()
		}
		res, err := s.fetch(ctx, host, targetURL, rec.Token)
		if err != nil {
			return nil, err
		}
		if !isChallengePage(res.body) {
			s.countRequest("cache_hit")
			return res, nil
		}
		// Stale token: the origin is gating us again despite the
		// cached cookie.
		log.Warn("cached token no longer accepted")
		s.cache.Invalidate(ctx, host)
	} else if s.met != nil {
		s.met.CacheMissesTotal.Inc()
	}

	res, err := s.fetch(ctx, host, targetURL, "")
	if err != nil {
		return nil, err
	}

	parsed, err := challenge.Parse(res.body)
	if err != nil {
		var pe *challenge.ParseError
		switch {
		case errors.Is(err, challenge.ErrNoChallenge):
			s.countRequest("direct")
			return res, nil
		case errors.As(err, &pe):
			// Marker present but descriptor unreadable. Relay the
			// page as-is rather than guessing at a solver.
			log.Warn("challenge page with unreadable descriptor", "err", err)
			s.countRequest("parse_failure")
			return res, nil
		default:
			return nil, err
		}
	}

	log.Info("challenge detected",
		"version", parsed.Version,
		"algorithm", parsed.Descriptor.Algorithm(),
		"difficulty", parsed.Descriptor.Rules.Difficulty)

	// Concurrent misses for one host coalesce: one request drives the
	// solve, the rest reuse its token.
	v, err, _ := s.group.Do(host, func() (any, error) {
		return s.solveAndRedeem(ctx, host, targetURL, parsed, log)
	})
	if err != nil {
		var rej *RedemptionError
		if errors.As(err, &rej) {
			s.countRequest("redemption_rejected")
			return rej.Result, nil
		}
		return nil, err
	}
	rec := v.(models.TokenRecord)

	out, err := s.fetch(ctx, host, targetURL, rec.Token)
	if err != nil {
		return nil, err
	}
	s.countRequest("solved")
	return out, nil
}

// solveAndRedeem exchanges a challenge for a session token. One bounded
// retry covers both a timed-out search and a rejected proof; the retry
// always starts from a freshly fetched challenge in case the first
// descriptor went stale.
func (s *Server) solveAndRedeem(ctx context.Context, host, originalURL string, parsed *challenge.Parsed, log *slog.Logger) (models.TokenRecord, error) {
	var lastErr error
	for attempt := 0; attempt < 2; attempt++ {
		if attempt > 0 {
			res, err := s.fetch(ctx, host, originalURL, "")
			if err != nil {
				return models.TokenRecord{}, err
			}
			fresh, err := challenge.Parse(res.body)
			if errors.Is(err, challenge.ErrNoChallenge) {
				// The origin stopped gating between attempts;
				// nothing to redeem.
				return models.TokenRecord{}, nil
			}
			if err != nil {
				return models.TokenRecord{}, err
			}
			parsed = fresh
		}

		rec, err := s.attemptSolve(ctx, host, originalURL, parsed, log)
		if err == nil {
			return rec, nil
		}
		lastErr = err

		var rej *RedemptionError
		if !errors.Is(err, solver.ErrSolveTimeout) && !errors.As(err, &rej) {
			return models.TokenRecord{}, err
		}
		log.Warn("solve attempt failed, refetching challenge", "err", err)
	}
	return models.TokenRecord{}, lastErr
}

// attemptSolve runs one solve, honors the descriptor's minimum wait,
// submits the proof, and caches the returned token.
func (s *Server) attemptSolve(ctx context.Context, host, originalURL string, parsed *challenge.Parsed, log *slog.Logger) (models.TokenRecord, error) {
	desc := parsed.Descriptor
	algo := desc.Algorithm()
	start := time.Now()

	solveCtx := ctx
	if s.cfg.Solver.Timeout > 0 {
		var cancel context.CancelFunc
		solveCtx, cancel = context.WithTimeout(ctx, s.cfg.Solver.Timeout)
		defer cancel()
	}

	result, err := solver.Solve(solveCtx, desc, solver.Options{
		Workers:     s.cfg.Solver.Workers,
		MaxAttempts: s.cfg.Solver.MaxAttempts,
	})
	if err != nil {
		s.countSolve(algo, "timeout")
		s.recordSolve(models.SolveRecord{
			Host:       host,
			Algorithm:  algo,
			Difficulty: desc.Rules.Difficulty,
			ElapsedMS:  time.Since(start).Milliseconds(),
			Outcome:    models.OutcomeTimeout,
			Version:    parsed.Version,
		})
		if solveCtx.Err() != nil && ctx.Err() == nil {
			// The solver ran out of time, not the request.
			err = solver.ErrSolveTimeout
		}
		return models.TokenRecord{}, err
	}
	s.countSolve(algo, "ok")
	if s.met != nil {
		s.met.SolveDuration.WithLabelValues(algo).Observe(result.Elapsed.Seconds())
	}
	log.Info("challenge solved",
		"algorithm", algo,
		"nonce", result.Nonce,
		"attempts", result.Attempts,
		"elapsed", result.Elapsed)

	// Redeeming before the minimum wait has elapsed gets rejected by
	// the origin.
	if remaining := desc.MinWait() - time.Since(start); remaining > 0 {
		select {
		case <-time.After(remaining):
		case <-ctx.Done():
			return models.TokenRecord{}, ctx.Err()
		}
	}

	elapsedMS := time.Since(start).Milliseconds()
	submitURL := submit.Build(s.cfg.Upstream.Scheme, host, desc, result, originalURL, elapsedMS)

	res, err := s.fetch(ctx, host, submitURL, "")
	if err != nil {
		return models.TokenRecord{}, err
	}
	if res.status != http.StatusFound {
		s.countRedemption("rejected")
		s.recordSolve(models.SolveRecord{
			Host:       host,
			Algorithm:  algo,
			Difficulty: desc.Rules.Difficulty,
			Nonce:      result.Nonce,
			Attempts:   result.Attempts,
			ElapsedMS:  elapsedMS,
			Outcome:    models.OutcomeRejected,
			Version:    parsed.Version,
		})
		return models.TokenRecord{}, &RedemptionError{Result: res}
	}
	s.countRedemption("ok")

	token, expiresAt := cookieToken(res.cookies)
	rec := models.TokenRecord{
		Host:      host,
		Token:     token,
		Version:   parsed.Version,
		IssuedAt:  time.Now(),
		ExpiresAt: expiresAt,
	}
	if token != "" {
		if err := s.cache.Put(ctx, rec); err != nil {
			log.Error("token cache put failed", "err", err)
		}
	}
	s.recordSolve(models.SolveRecord{
		Host:       host,
		Algorithm:  algo,
		Difficulty: desc.Rules.Difficulty,
		Nonce:      result.Nonce,
		Attempts:   result.Attempts,
		ElapsedMS:  elapsedMS,
		Outcome:    models.OutcomeRedeemed,
		Version:    parsed.Version,
	})
	return rec, nil
}

// cookieToken flattens the redemption response cookies into a Cookie
// header value and returns the earliest declared expiry, if any.
func cookieToken(cookies []*http.Cookie) (string, time.Time) {
	var parts []string
	var expiresAt time.Time
	now := time.Now()
	for _, c := range cookies {
		if c.Name == "" {
			continue
		}
		parts = append(parts, c.Name+"="+c.Value)

		var exp time.Time
		switch {
		case c.MaxAge > 0:
			exp = now.Add(time.Duration(c.MaxAge) * time.Second)
		case !c.Expires.IsZero():
			exp = c.Expires
		}
		if !exp.IsZero() && (expiresAt.IsZero() || exp.Before(expiresAt)) {
			expiresAt = exp
		}
	}
	return strings.Join(parts, "; "), expiresAt
}

// isChallengePage reports whether a body parses as a valid challenge.
func isChallengePage(body []byte) bool {
	_, err := challenge.Parse(body)
	return err == nil
}

func (s *Server) countSolve(algo, result string) {
	if s.met != nil {
		s.met.SolvesTotal.WithLabelValues(algo, result).Inc()
	}
}

func (s *Server) countRedemption(result string) {
	if s.met != nil {
		s.met.RedemptionsTotal.WithLabelValues(result).Inc()
	}
}

func (s *Server) recordSolve(rec models.SolveRecord) {
	if s.hist == nil {
		return
	}
	go func() {
		if err := s.hist.Record(context.Background(), rec); err != nil {
			s.log.Error("solve history record failed", "err", err)
		}
	}()
}
