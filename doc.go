/*
Package connkit manages the lifecycle of a pooled PostgreSQL connection.

A Manager owns exactly one Bun handle and drives it through
uninitialized -> initializing -> initialized:

  - Concurrent Initialize calls are deduplicated: one connect sequence runs,
    every caller observes its outcome (single-flight).
  - Transient startup failures are retried with pure exponential backoff,
    treating connect, connectivity test, and migrations as one unit.
  - Schema migrations apply transactionally and exactly once, recorded by
    filename with a content checksum.
  - Close and Refresh wait for in-flight initialization before touching the
    handle; teardown is bounded and best-effort.
  - Health probes are decoupled from initialization and never panic or
    return an error value.

# Basic Usage

	cfg := connkit.DefaultConfig(os.Getenv("DATABASE_URL"))
	cfg.Logger = slog.Default()
	cfg.Migrations, _ = connkit.MigrationsFromFS(migrationsFS, "migrations")

	mgr, err := connkit.New(cfg)
	if err != nil {
	    log.Fatal(err)
	}

	if err := mgr.Initialize(ctx); err != nil {
	    log.Fatal(err)
	}
	defer mgr.Close(context.Background())

	db, err := mgr.Conn() // *bun.DB, never blocks
	if err != nil {
	    // connkit.IsNotInitialized(err)
	}

# Startup Races

During container startup the database may not be accepting connections
yet. The retry budget covers this:

	cfg.RetryAttempts = 10
	cfg.RetryBaseDelay = 250 * time.Millisecond
	cfg.InitTimeout = 30 * time.Second // cancels the whole sequence

Handlers that may run before startup completes can wait instead of fail:

	db, err := mgr.ConnWait(ctx, 5*time.Second)

# Migrations

	cfg.Migrations = []connkit.Migration{
	    {Name: "001_create_users.sql", SQL: "CREATE TABLE users (...)"},
	    {Name: "002_add_index.sql", SQL: "CREATE INDEX ..."},
	}

Units apply in lexicographic name order, each inside a transaction that
also inserts its record; a failed unit rolls back entirely and halts the
run. A recorded unit whose content changed fails with a checksum mismatch
unless SkipChecksumVerify is set.

# Health

	status := mgr.Health(ctx)
	// status.Healthy, status.Latency, status.Error, status.PoolStats

# Error Handling

	if err := mgr.Initialize(ctx); err != nil {
	    switch {
	    case connkit.IsConfiguration(err): // bad URL, unreadable CA file
	    case connkit.IsTimeout(err):       // init timeout exceeded
	    case connkit.IsInitFailed(err):    // retry budget exhausted
	    }
	    if phase, ok := connkit.GetPhase(err); ok {
	        log.Printf("failed during %s", phase)
	    }
	}

Connection strings are masked in every log line and error message.
*/
package connkit
