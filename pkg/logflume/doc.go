/*
Package logflume provides an asynchronous structured-event logging pipeline.

# Overview

logflume decouples event producers from slow or unreliable log destinations.
Producers enqueue structured events into a bounded in-memory queue and move
on; a background worker drains the queue into batches and a dispatcher
delivers each batch to every configured destination concurrently, retrying
failures per destination with exponential backoff. A misbehaving destination
can lose its own batches, but it can never block producers or starve the
other destinations.

The building blocks:
  - A fixed-capacity queue with pluggable overflow policies (drop, block,
    or probabilistic sampling)
  - A batching worker (size- or timeout-triggered)
  - A fan-out dispatcher with per-destination retry, backoff, and delivery
    records
  - A single-flight memoizing cache for enrichment lookups, with error
    memoization so failing backends are not hammered

# Basic Usage

Build a pipeline with options and destinations, emit events, shut down:

	dest, err := destination.NewFile("audit", "/var/log/app/events.jsonl")
	if err != nil {
	    log.Fatal(err)
	}

	pipe, err := logflume.New(logflume.DefaultOptions(), dest)
	if err != nil {
	    log.Fatal(err)
	}
	defer pipe.Close()

	pipe.Emit(ctx,
	    event.String("message", "user logged in"),
	    event.String("user", "alice"),
	)

Emit and Enqueue report only the queue's accept/drop decision. Delivery
problems are retried in the background and exposed through Stats.

# Overflow Policies

The queue never grows past its capacity. What happens to an event arriving
at a full queue is the overflow policy's call:

	opts := logflume.DefaultOptions()
	opts.QueueCapacity = 4096
	opts.OverflowPolicy = queue.Block // suspend producers until space frees

Drop rejects immediately, Block suspends the producer (bounded by its
context), and Sample accepts with a configured probability without ever
blocking.

# Configuration Files

Pipelines can be assembled from YAML or JSON:

	cfg, err := config.FromFile("pipeline.yaml")
	if err != nil {
	    log.Fatal(err)
	}
	pipe, err := logflume.NewFromConfig(cfg, nil)

with a file like:

	queue_maxsize: 2048
	overflow_policy: drop
	batch_size: 200
	batch_timeout: 500ms
	destinations:
	  - kind: file
	    name: audit
	    path: /var/log/app/events.jsonl
	  - kind: lumber
	    name: logstash
	    endpoint: logstash.internal:5044

# Enrichment

Expensive lookups attached to events (reverse DNS, user metadata, GeoIP)
go through the pipeline's memoizing cache:

	owner, err := pipe.Enrich(ctx, "owner:"+hostID, func(ctx context.Context) (any, error) {
	    return directory.LookupOwner(ctx, hostID)
	})

Concurrent callers for one key share a single computation. Errors are
cached too, for a shorter interval, so a down backend is retried at a
controlled pace.

# Shutdown

Shutdown closes the queue, flushes buffered events into final batches, and
gives pending deliveries until the context ends:

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := pipe.Shutdown(ctx); err != nil {
	    log.Printf("shutdown grace period expired: %v", err)
	}

Shutdown is idempotent. Close is the same drain bounded by the configured
ShutdownTimeout.

# Observability

Structured logging uses slog; metrics use OpenTelemetry:

	opts.Logger = slog.New(slog.NewJSONHandler(os.Stdout, nil))
	opts.Metrics = observability.NewMetricsRecorder()

Metrics include logflume.queue.enqueued, logflume.queue.dropped,
logflume.destination.deliveries, logflume.destination.latency_ms, and
logflume.cache.accesses.

# Thread Safety

  - Pipeline is safe for concurrent use
  - queue.BoundedQueue and memo.Cache are safe for concurrent use
  - Destinations are called from a single delivery goroutine each

# Subpackages

  - event: immutable structured events and field constructors
  - queue: the bounded queue and overflow policies
  - dispatch: the batching worker and fan-out dispatcher
  - destination: console, file, SQLite, and Lumberjack outputs plus the
    factory registry
  - memo: the single-flight enrichment cache
  - config: typed configuration loading (YAML/JSON)
  - errors: error categorization and retry with backoff
  - observability: slog and OpenTelemetry helpers
*/
package logflume
