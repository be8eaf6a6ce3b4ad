// Package scrape looks up company financials on third-party registry sites.
// A Runner tries each locale's sources in order, extracts figures with a
// two-tier extractor and retries the whole chain with backoff.
package scrape

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
	"golang.org/x/time/rate"

	"github.com/sells-group/enrichment-cli/internal/apperr"
	"github.com/sells-group/enrichment-cli/internal/ratelimit"
	"github.com/sells-group/enrichment-cli/internal/resilience"
)

// DefaultMinFields is how many populated fields one source must yield to
// stop the chain.
const DefaultMinFields = 2

var (
	// errInsufficient marks a chain pass that should be retried.
	errInsufficient = eris.New("scrape: no source yielded sufficient data")
	errNoData       = eris.New("scrape: no source had data")
)

// Request identifies the company to look up and the caller asking.
type Request struct {
	Locale      Locale
	BusinessID  string
	CompanyName string
	// CallerKey identifies the caller for throttling. Empty skips the check.
	CallerKey string
}

// RunnerConfig tunes a Runner.
type RunnerConfig struct {
	// Retries is how many times the whole chain is re-run after an
	// insufficient pass that saw transient failures.
	Retries int
	// InitialBackoff is the delay before the first chain retry.
	InitialBackoff time.Duration
	// MinFields stops the chain once one source yields this many fields.
	MinFields int
	// HostInterval spaces requests to the same source. Zero disables it.
	HostInterval time.Duration
	// Breaker configures the per-source circuit breakers.
	Breaker resilience.CircuitBreakerConfig
	// LookupTimeout bounds one shared chain walk once its callers are gone.
	LookupTimeout time.Duration
}

// Runner executes fallback-chain lookups.
type Runner struct {
	catalog  Catalog
	fetcher  Fetcher
	limiter  *ratelimit.Limiter
	breakers *resilience.SourceBreakers
	cfg      RunnerConfig
	group    singleflight.Group

	hostMu sync.Mutex
	hosts  map[string]*rate.Limiter

	// nowFunc and sleep allow test injection.
	nowFunc func() time.Time
	sleep   func(ctx context.Context, d time.Duration) error
}

// NewRunner wires a Runner. limiter may be nil.
func NewRunner(catalog Catalog, fetcher Fetcher, limiter *ratelimit.Limiter, cfg RunnerConfig) *Runner {
	if cfg.MinFields <= 0 {
		cfg.MinFields = DefaultMinFields
	}
	if cfg.Retries < 0 {
		cfg.Retries = 0
	}
	if cfg.InitialBackoff <= 0 {
		cfg.InitialBackoff = time.Second
	}
	if cfg.LookupTimeout <= 0 {
		cfg.LookupTimeout = 2 * time.Minute
	}
	return &Runner{
		catalog:  catalog,
		fetcher:  fetcher,
		limiter:  limiter,
		breakers: resilience.NewSourceBreakers(cfg.Breaker),
		cfg:      cfg,
		hosts:    make(map[string]*rate.Limiter),
		nowFunc:  time.Now,
		sleep:    resilience.SleepContext,
	}
}

// Available reports whether locale has a chain and lists its sources.
func (r *Runner) Available(locale Locale) (bool, []string) {
	names := r.catalog.SourceNames(locale)
	return len(names) > 0, names
}

// Breakers exposes the per-source circuit state.
func (r *Runner) Breakers() *resilience.SourceBreakers {
	return r.breakers
}

// Lookup runs the fallback chain. A malformed identifier yields NotFound
// without any request. The only error returned is *apperr.RateLimitExceeded
// (or a context error); every other condition is an Outcome.
func (r *Runner) Lookup(ctx context.Context, req Request) (Outcome, error) {
	id, err := ValidateIdentifier(req.Locale, req.BusinessID)
	if err != nil {
		return NotFound{Reason: err.Error(), Err: err}, nil
	}
	if err := r.limiter.Allow(req.CallerKey); err != nil {
		return nil, err
	}

	// The shared walk is detached from whichever caller started it, so one
	// caller going away does not fail the others. Each caller still stops
	// waiting on its own context.
	key := string(id.Locale) + ":" + id.Compact
	ch := r.group.DoChan(key, func() (any, error) {
		runCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.cfg.LookupTimeout)
		defer cancel()
		return r.run(runCtx, id, req.CompanyName)
	})
	select {
	case <-ctx.Done():
		return nil, eris.Wrapf(ctx.Err(), "scrape: lookup %s", key)
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		if res.Shared {
			zap.L().Debug("scrape: shared in-flight lookup", zap.String("key", key))
		}
		return res.Val.(Outcome), nil
	}
}

// tally summarizes one walk through the chain.
type tally struct {
	sufficient  bool
	transient   bool
	attempted   int
	unreachable int
	lastErr     error
}

func (r *Runner) run(ctx context.Context, id Identifier, companyName string) (Outcome, error) {
	var (
		merged  Fields
		sources []string
		last    tally
	)

	retry := resilience.RetryConfig{
		MaxAttempts:    1 + r.cfg.Retries,
		InitialBackoff: r.cfg.InitialBackoff,
		MaxBackoff:     30 * time.Second,
		Multiplier:     2,
		JitterFraction: 0.2,
		ShouldRetry:    func(err error) bool { return errors.Is(err, errInsufficient) },
		Sleep:          r.sleep,
		OnRetry: func(attempt int, _ error) {
			zap.L().Info("scrape: retrying chain",
				zap.String("locale", string(id.Locale)),
				zap.String("business_id", id.Canonical),
				zap.Int("attempt", attempt),
			)
		},
	}

	err := resilience.Do(ctx, retry, func(ctx context.Context) error {
		last = r.walk(ctx, id, companyName, &merged, &sources)
		if last.sufficient {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if last.transient {
			return errInsufficient
		}
		return errNoData
	})
	if err != nil && ctx.Err() != nil {
		return nil, eris.Wrap(ctx.Err(), "scrape: lookup")
	}

	if merged.Currency == "" && len(merged.Financials) > 0 {
		merged.Currency = r.catalog[id.Locale].Currency
	}
	merged.finalize(r.nowFunc())

	switch {
	case last.sufficient:
		return Found{Fields: merged, Sources: sources}, nil
	case merged.Populated() > 0:
		return PartialFound{Fields: merged, Missing: merged.Missing(), Sources: sources}, nil
	case last.attempted > 0 && last.unreachable == last.attempted:
		return TransportError{Kind: apperr.KindOf(last.lastErr), Err: last.lastErr}, nil
	}
	return NotFound{Reason: "no source had data for " + id.Canonical}, nil
}

// walk tries every source once, merging what each yields into merged.
func (r *Runner) walk(ctx context.Context, id Identifier, companyName string, merged *Fields, sources *[]string) tally {
	var p tally
	for _, src := range r.catalog.Sources(id.Locale) {
		if ctx.Err() != nil {
			return p
		}
		p.attempted++
		log := zap.L().With(zap.String("source", src.Name), zap.String("business_id", id.Canonical))

		breaker := r.breakers.Get(src.Name)
		if err := breaker.Allow(); err != nil {
			log.Debug("scrape: source circuit open, skipping")
			p.unreachable++
			p.lastErr = &apperr.UpstreamTimeout{Source: src.Name, Err: err}
			continue
		}
		if err := r.politeness(src.Name).Wait(ctx); err != nil {
			return p
		}

		target := src.URL(id, companyName)
		page, err := r.fetcher.Fetch(ctx, src.Name, target)
		breaker.Record(err)
		if err != nil {
			log.Debug("scrape: candidate failed, advancing", zap.String("url", target), zap.Error(err))
			p.lastErr = err
			if apperr.KindOf(err) == apperr.KindUpstreamTimeout {
				p.unreachable++
			}
			if resilience.IsTransient(err) {
				p.transient = true
			}
			continue
		}

		fields := Extract(page, id.Locale, src, r.nowFunc())
		n := fields.Populated()
		if n > 0 {
			merged.Merge(fields)
			*sources = appendUnique(*sources, src.Name)
		}
		if n >= r.cfg.MinFields {
			log.Debug("scrape: sufficient data", zap.Int("fields", n))
			p.sufficient = true
			return p
		}
		log.Debug("scrape: insufficient data, advancing", zap.Int("fields", n))
	}
	return p
}

func (r *Runner) politeness(source string) *rate.Limiter {
	r.hostMu.Lock()
	defer r.hostMu.Unlock()
	l, ok := r.hosts[source]
	if !ok {
		lim := rate.Inf
		if r.cfg.HostInterval > 0 {
			lim = rate.Every(r.cfg.HostInterval)
		}
		l = rate.NewLimiter(lim, 1)
		r.hosts[source] = l
	}
	return l
}

func appendUnique(list []string, s string) []string {
	for _, v := range list {
		if v == s {
			return list
		}
	}
	return append(list, s)
}
