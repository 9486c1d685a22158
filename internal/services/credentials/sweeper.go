package credentials

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/R3E-Network/credential_layer/internal/logging"
	"github.com/R3E-Network/credential_layer/internal/metrics"
	"github.com/R3E-Network/credential_layer/internal/secretstore"
	"github.com/R3E-Network/credential_layer/internal/storage"
)

// SweeperConfig tunes the orphan sweep job.
type SweeperConfig struct {
	// Schedule is a cron expression; every hour by default.
	Schedule string
	// MinAge protects freshly written secrets from being swept while their
	// create or rotation is still in flight.
	MinAge time.Duration
	// SweepTimeout bounds one full sweep run.
	SweepTimeout time.Duration
}

func (c SweeperConfig) withDefaults() SweeperConfig {
	if c.Schedule == "" {
		c.Schedule = "@hourly"
	}
	if c.MinAge <= 0 {
		c.MinAge = 30 * time.Minute
	}
	if c.SweepTimeout <= 0 {
		c.SweepTimeout = 5 * time.Minute
	}
	return c
}

// Sweeper reclaims orphaned secret-store paths: secrets written by a create
// or rotation whose metadata commit never happened. Rows that still
// reference a path, deleted rows included, keep their secret.
type Sweeper struct {
	repo       storage.CredentialStore
	secrets    secretstore.Store
	pathPrefix string
	logger     *logging.Logger
	cfg        SweeperConfig

	cron  *cron.Cron
	clock func() time.Time

	// mu serializes sweep runs; firstSeen is not safe for concurrent
	// mutation.
	mu sync.Mutex
	// firstSeen tracks when each candidate orphan was first observed, so
	// MinAge can be enforced without secret-store timestamps.
	firstSeen map[string]time.Time
}

// NewSweeper creates the sweep job. pathPrefix must match the engine's
// Config.PathPrefix.
func NewSweeper(repo storage.CredentialStore, secrets secretstore.Store, pathPrefix string, logger *logging.Logger, cfg SweeperConfig) *Sweeper {
	if logger == nil {
		logger = logging.NewDefault("sweeper")
	}
	if pathPrefix == "" {
		pathPrefix = "credentials"
	}
	return &Sweeper{
		repo:       repo,
		secrets:    secrets,
		pathPrefix: pathPrefix,
		logger:     logger,
		cfg:        cfg.withDefaults(),
		clock:      func() time.Time { return time.Now().UTC() },
		firstSeen:  make(map[string]time.Time),
	}
}

// Start schedules periodic sweeps. Stop must be called on shutdown.
func (s *Sweeper) Start() error {
	s.cron = cron.New()
	if _, err := s.cron.AddFunc(s.cfg.Schedule, func() {
		ctx, cancel := context.WithTimeout(context.Background(), s.cfg.SweepTimeout)
		defer cancel()
		if _, err := s.Sweep(ctx); err != nil {
			s.logger.WithError(err).Error("orphan sweep failed")
		}
	}); err != nil {
		return err
	}
	s.cron.Start()
	s.logger.WithField("schedule", s.cfg.Schedule).Info("orphan sweeper started")
	return nil
}

// Stop halts the schedule and waits for a running sweep to finish.
func (s *Sweeper) Stop() {
	if s.cron != nil {
		<-s.cron.Stop().Done()
	}
}

// Sweep deletes orphaned paths older than MinAge and returns how many were
// reclaimed. Concurrent calls run one at a time.
func (s *Sweeper) Sweep(ctx context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	referenced, err := s.repo.ListSecretPaths(ctx)
	if err != nil {
		return 0, err
	}
	keep := make(map[string]bool, len(referenced))
	for _, path := range referenced {
		keep[normalizeSweepPath(path)] = true
	}

	stored, err := s.listStoredPaths(ctx)
	if err != nil {
		return 0, err
	}

	now := s.clock()
	live := make(map[string]bool, len(stored))
	reclaimed := 0
	for _, path := range stored {
		live[path] = true
		if keep[path] {
			delete(s.firstSeen, path)
			continue
		}

		seen, ok := s.firstSeen[path]
		if !ok {
			s.firstSeen[path] = now
			continue
		}
		if now.Sub(seen) < s.cfg.MinAge {
			continue
		}

		if err := s.secrets.Delete(ctx, path); err != nil {
			s.logger.WithError(err).WithField("path", path).Warn("could not delete orphaned secret")
			continue
		}
		delete(s.firstSeen, path)
		reclaimed++
		metrics.SweeperOrphans.Inc()
		s.logger.WithField("path", path).Info("orphaned secret reclaimed")
	}

	// Forget candidates that disappeared on their own.
	for path := range s.firstSeen {
		if !live[path] {
			delete(s.firstSeen, path)
		}
	}

	if reclaimed > 0 {
		s.logger.WithField("count", reclaimed).Info("orphan sweep finished")
	}
	return reclaimed, nil
}

// listStoredPaths walks the secret store below the prefix. Paths are laid
// out prefix/customer/credential/generation, so the walk is three levels
// deep.
func (s *Sweeper) listStoredPaths(ctx context.Context) ([]string, error) {
	var paths []string

	customers, err := s.secrets.List(ctx, s.pathPrefix)
	if err != nil {
		return nil, err
	}
	for _, customer := range customers {
		customer = strings.TrimSuffix(customer, "/")
		credentials, err := s.secrets.List(ctx, s.pathPrefix+"/"+customer)
		if err != nil {
			return nil, err
		}
		for _, cred := range credentials {
			cred = strings.TrimSuffix(cred, "/")
			generations, err := s.secrets.List(ctx, s.pathPrefix+"/"+customer+"/"+cred)
			if err != nil {
				return nil, err
			}
			for _, gen := range generations {
				paths = append(paths, s.pathPrefix+"/"+customer+"/"+cred+"/"+strings.TrimSuffix(gen, "/"))
			}
		}
	}
	return paths, nil
}

func normalizeSweepPath(path string) string {
	return strings.Trim(strings.TrimSpace(path), "/")
}
