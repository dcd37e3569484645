package connkit

import (
	"context"
	"crypto/tls"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/driver/pgdriver"

	"github.com/fernandezvara/connkit/hooks"
)

// State is the connection lifecycle state
type State int

const (
	StateUninitialized State = iota
	StateInitializing
	StateInitialized
)

func (s State) String() string {
	switch s {
	case StateInitializing:
		return "initializing"
	case StateInitialized:
		return "initialized"
	default:
		return "uninitialized"
	}
}

// connectFunc builds the pooled handle. Swapped out in tests.
type connectFunc func(ctx context.Context, cfg Config, tlsConfig *tls.Config) (*bun.DB, error)

// initAttempt is the shared result of one in-flight initialization. All
// concurrent callers wait on done and read the same err, so only one
// connect sequence ever runs at a time.
type initAttempt struct {
	gen  uint64
	done chan struct{}
	err  error
}

// Manager owns a single pooled PostgreSQL connection and drives it through
// the uninitialized -> initializing -> initialized lifecycle: deduplicated
// concurrent initialization, startup retry with exponential backoff,
// transactional migrations, and bounded close/refresh.
type Manager struct {
	mu       sync.Mutex
	cfg      Config
	state    State
	db       *bun.DB
	inflight *initAttempt
	gen      uint64

	logger  *slog.Logger
	metrics *lifecycleMetrics
	connect connectFunc
}

// New creates a Manager. No connection is attempted until Initialize.
func New(cfg Config) (*Manager, error) {
	cfg.applyDefaults()

	if cfg.URL == "" {
		return nil, &Error{
			Code:    CodeConfiguration,
			Message: "database URL is required",
			Op:      "New",
		}
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	m := &Manager{
		cfg:     cfg,
		logger:  logger.With(slog.String("component", "connkit")),
		connect: openDatabase,
	}

	if cfg.MetricsRegistry != nil {
		metrics, err := newLifecycleMetrics(cfg.MetricsRegistry)
		if err != nil {
			return nil, fmt.Errorf("connkit: failed to register metrics: %w", err)
		}
		m.metrics = metrics
	}

	return m, nil
}

// Initialize brings the manager to the initialized state. It is idempotent:
// when already initialized it returns immediately, and concurrent callers
// during an in-flight attempt await that attempt's outcome instead of
// starting a second one. On failure any partially created handle is
// destroyed and the state returns to uninitialized.
func (m *Manager) Initialize(ctx context.Context) error {
	m.mu.Lock()
	switch m.state {
	case StateInitialized:
		m.mu.Unlock()
		return nil
	case StateInitializing:
		att := m.inflight
		m.mu.Unlock()
		return m.await(ctx, att)
	}

	att := &initAttempt{gen: m.gen, done: make(chan struct{})}
	m.inflight = att
	m.state = StateInitializing
	m.metrics.setState(StateInitializing)
	cfg := m.cfg
	m.mu.Unlock()

	go m.runInit(att, cfg)
	return m.await(ctx, att)
}

// await blocks until the attempt settles or the caller's context expires.
// Giving up waiting does not affect the attempt itself.
func (m *Manager) await(ctx context.Context, att *initAttempt) error {
	select {
	case <-att.done:
		return att.err
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return &Error{
				Code:    CodeTimeout,
				Message: "timed out waiting for initialization",
				Op:      "Initialize",
				Cause:   ctx.Err(),
			}
		}
		return ctx.Err()
	}
}

// runInit drives one initialization attempt: resolve TLS, then retry the
// connect/ping/migrate sequence as a unit, optionally bounded by the init
// timeout. The timeout context is threaded through every step, so a
// timed-out attempt aborts at the next suspension point instead of
// finishing in the background.
func (m *Manager) runInit(att *initAttempt, cfg Config) {
	var (
		db  *bun.DB
		err error
	)
	start := time.Now()

	defer func() {
		m.mu.Lock()
		if m.inflight == att {
			m.inflight = nil
		}
		stale := att.gen != m.gen
		switch {
		case err == nil && !stale:
			m.db = db
			m.state = StateInitialized
		case err == nil && stale:
			// Close or Refresh gave up waiting for this attempt. The
			// handle must not outlive that decision.
			err = &Error{
				Code:    CodeInitFailed,
				Message: "initialization superseded by close",
				Op:      "Initialize",
			}
			go func(db *bun.DB) { _ = db.Close() }(db)
		case !stale:
			m.state = StateUninitialized
		}
		m.metrics.setState(m.state)
		m.metrics.observeInit(err == nil, time.Since(start))
		m.mu.Unlock()

		if err != nil {
			m.logger.Error("database initialization failed",
				slog.String("url", maskDSN(cfg.URL)),
				slog.String("error", err.Error()),
			)
		} else {
			m.logger.Info("database initialized",
				slog.String("url", maskDSN(cfg.URL)),
				slog.Duration("took", time.Since(start)),
			)
		}

		att.err = err
		close(att.done)
	}()

	tlsConfig, tlsErr := resolveTLSConfig(cfg)
	if tlsErr != nil {
		// Configuration problems are deterministic, no retry.
		err = tlsErr
		return
	}

	ctx := context.Background()
	cancel := func() {}
	if cfg.InitTimeout > 0 {
		ctx, cancel = context.WithTimeout(ctx, cfg.InitTimeout)
	}
	defer cancel()

	m.logger.Info("initializing database connection",
		slog.String("url", maskDSN(cfg.URL)),
		slog.Int("max_attempts", cfg.RetryAttempts),
	)

	db, err = retry(ctx, cfg.RetryAttempts, cfg.RetryBaseDelay, m.logger, func() (*bun.DB, error) {
		return m.attemptOnce(ctx, cfg, tlsConfig)
	})

	switch {
	case err == nil:
	case errors.Is(ctx.Err(), context.DeadlineExceeded):
		// Only the init timeout itself maps to the timeout class. A
		// per-attempt failure that happens to wrap DeadlineExceeded
		// (a dial timeout, say) is a definitive exhausted-retries
		// failure, not a still-possibly-running initialization.
		err = &Error{
			Code:    CodeTimeout,
			Message: fmt.Sprintf("initialization exceeded %s", cfg.InitTimeout),
			Op:      "Initialize",
			Cause:   err,
		}
	default:
		phase, _ := GetPhase(err)
		err = &Error{
			Code:    CodeInitFailed,
			Message: fmt.Sprintf("initialization failed after %d attempts", cfg.RetryAttempts),
			Op:      "Initialize",
			Phase:   phase,
			Cause:   err,
		}
	}
}

// attemptOnce is one pass of the retried sequence: construct the handle,
// verify connectivity, apply migrations. A failure at any step destroys
// the handle built during this pass.
func (m *Manager) attemptOnce(ctx context.Context, cfg Config, tlsConfig *tls.Config) (*bun.DB, error) {
	db, err := m.connect(ctx, cfg, tlsConfig)
	if err != nil {
		return nil, &Error{
			Code:    CodeConnectionFailed,
			Message: "failed to open connection pool",
			Op:      "Initialize",
			Phase:   PhaseConnect,
			Cause:   err,
		}
	}

	pingCtx, cancel := context.WithTimeout(ctx, cfg.DialTimeout)
	err = db.PingContext(pingCtx)
	cancel()
	if err != nil {
		m.teardown(db, cfg.CloseTimeout)
		return nil, &Error{
			Code:    CodeConnectionFailed,
			Message: "connectivity test failed",
			Op:      "Initialize",
			Phase:   PhasePing,
			Cause:   err,
		}
	}

	if _, err := applyMigrations(ctx, db, cfg.Migrations, !cfg.SkipChecksumVerify, m.logger); err != nil {
		m.teardown(db, cfg.CloseTimeout)
		return nil, &Error{
			Code:    CodeMigrationFailed,
			Message: "schema migrations failed",
			Op:      "Initialize",
			Phase:   PhaseMigrate,
			Cause:   err,
		}
	}

	return db, nil
}

// waitInflight blocks until any in-flight initialization settles, bounded
// by the close timeout. Timing out is logged and tolerated; only the
// caller's own context aborts with an error.
func (m *Manager) waitInflight(ctx context.Context, op string) error {
	m.mu.Lock()
	att := m.inflight
	timeout := m.cfg.CloseTimeout
	m.mu.Unlock()

	if att == nil {
		return nil
	}
	select {
	case <-att.done:
	case <-time.After(timeout):
		m.logger.Warn(op+" timed out waiting for in-flight initialization",
			slog.Duration("timeout", timeout))
	case <-ctx.Done():
		return ctx.Err()
	}
	return nil
}

// Close waits for any in-flight initialization to settle, bounded by the
// close timeout, then destroys the handle. Teardown failures and timeouts
// are logged, never returned: shutdown must not fail on cleanup. When the
// wait times out the attempt is abandoned, not cancelled: it keeps running
// until its next suspension point and may briefly overlap a subsequent
// Initialize, but its handle is destroyed on completion and never becomes
// visible.
func (m *Manager) Close(ctx context.Context) error {
	if err := m.waitInflight(ctx, "close"); err != nil {
		return err
	}

	m.mu.Lock()
	db := m.db
	timeout := m.cfg.CloseTimeout
	m.db = nil
	m.state = StateUninitialized
	m.gen++
	m.metrics.setState(StateUninitialized)
	m.mu.Unlock()

	if db != nil {
		m.logger.Info("closing database connection")
		m.teardown(db, timeout)
	}
	return nil
}

// Refresh tears down the current handle and re-initializes, re-running
// migrations. A non-empty newURL replaces the connection string first.
func (m *Manager) Refresh(ctx context.Context, newURL string) error {
	if err := m.waitInflight(ctx, "refresh"); err != nil {
		return err
	}

	m.mu.Lock()
	db := m.db
	timeout := m.cfg.CloseTimeout
	m.db = nil
	m.state = StateUninitialized
	m.gen++
	if newURL != "" {
		m.cfg.URL = newURL
	}
	m.metrics.setState(StateUninitialized)
	m.mu.Unlock()

	if db != nil {
		m.teardown(db, timeout)
	}

	return m.Initialize(ctx)
}

// teardown closes a handle, bounded by timeout. Errors are logged and
// swallowed so cleanup never masks the failure that caused it.
func (m *Manager) teardown(db *bun.DB, timeout time.Duration) {
	done := make(chan error, 1)
	go func() { done <- db.Close() }()

	select {
	case err := <-done:
		if err != nil {
			m.logger.Warn("error closing connection pool", slog.String("error", err.Error()))
		}
	case <-time.After(timeout):
		m.logger.Warn("closing connection pool timed out", slog.Duration("timeout", timeout))
	}
}

// Conn returns the pooled handle. It never blocks; callers that may race
// startup should use ConnWait.
func (m *Manager) Conn() (*bun.DB, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state != StateInitialized {
		return nil, &Error{
			Code:    CodeNotInitialized,
			Message: "connection is not initialized",
			Op:      "Conn",
		}
	}
	return m.db, nil
}

// ConnWait returns the handle, waiting up to timeout for an in-flight
// initialization to complete. It fails immediately when no initialization
// was ever started; timing out only stops waiting, the initialization
// itself continues.
func (m *Manager) ConnWait(ctx context.Context, timeout time.Duration) (*bun.DB, error) {
	m.mu.Lock()
	switch m.state {
	case StateInitialized:
		db := m.db
		m.mu.Unlock()
		return db, nil
	case StateInitializing:
		att := m.inflight
		m.mu.Unlock()

		timer := time.NewTimer(timeout)
		defer timer.Stop()
		select {
		case <-att.done:
			if att.err != nil {
				return nil, att.err
			}
			return m.Conn()
		case <-timer.C:
			return nil, &Error{
				Code:    CodeTimeout,
				Message: fmt.Sprintf("initialization did not complete within %s", timeout),
				Op:      "ConnWait",
			}
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	default:
		m.mu.Unlock()
		return nil, &Error{
			Code:    CodeNotInitialized,
			Message: "no initialization in progress",
			Op:      "ConnWait",
		}
	}
}

// Status returns the current lifecycle state without blocking
func (m *Manager) Status() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// IsInitialized reports whether the manager holds a live handle
func (m *Manager) IsInitialized() bool {
	return m.Status() == StateInitialized
}

// Config returns the current configuration
func (m *Manager) Config() Config {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cfg
}

// openDatabase is the default connectFunc: a pgdriver connector with pool
// bounds and observability hooks, the handle not yet verified. TLS is
// governed entirely by Config, overriding any sslmode in the DSN.
func openDatabase(_ context.Context, cfg Config, tlsConfig *tls.Config) (*bun.DB, error) {
	opts := []pgdriver.Option{
		pgdriver.WithDSN(cfg.URL),
		pgdriver.WithDialTimeout(cfg.DialTimeout),
		pgdriver.WithReadTimeout(cfg.ReadTimeout),
		pgdriver.WithWriteTimeout(cfg.WriteTimeout),
	}
	if tlsConfig != nil {
		opts = append(opts, pgdriver.WithTLSConfig(tlsConfig))
	} else {
		opts = append(opts, pgdriver.WithInsecure(true))
	}

	sqlDB := sql.OpenDB(pgdriver.NewConnector(opts...))
	sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	sqlDB.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	sqlDB.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)

	db := bun.NewDB(sqlDB, pgdialect.New())

	if cfg.Logger != nil && (cfg.LogQueries || cfg.LogSlowQueries > 0) {
		db.AddQueryHook(hooks.NewLoggerHook(cfg.Logger, cfg.LogQueries, cfg.LogSlowQueries))
	}
	if cfg.MetricsRegistry != nil {
		hook, err := hooks.NewMetricsHook(cfg.MetricsRegistry)
		if err != nil {
			_ = db.Close()
			return nil, err
		}
		db.AddQueryHook(hook)
	}
	if cfg.Tracer != nil {
		db.AddQueryHook(hooks.NewTracingHook(cfg.Tracer))
	}

	return db, nil
}
