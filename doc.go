// Package main hosts the essayhelper entrypoint.
//
// Architecture overview:
//   - Pipelines: `crawl` walks the enabled sources (bjnews column pages,
//     WeChat official accounts) and persists one JSON file per article
//     under the data directory; `summarize` fills in missing summaries
//     through the configured OpenAI-compatible endpoint, pacing calls
//     behind a shared throttle; `index` embeds every summarized article
//     into a flat vector index and hydrates the article hashes into
//     redis. Each pipeline is a one-shot run with its own run ID.
//   - Serve: internal/api.Server exposes semantic search, article
//     lookup, feedback intake, and run history over chi. Search embeds
//     the query, scans the flat index, hydrates hits from redis, and
//     caches serialized result lists.
//   - Fetch pipeline: workers perform a probe fetch via the Colly-based
//     fetcher (with optional robots.txt enforcement) and promote to a
//     headless Chromedp fetch when the heuristic detector suspects
//     client-side rendering. Raw HTML snapshots go to the configured
//     BlobStore (memory/local/GCS) and a compact Pub/Sub notification is
//     published when a topic is configured.
//   - Progress: pipeline events flow through a buffered hub into the
//     enabled sinks: zap logs, Prometheus counters, and the postgres run
//     history backing /v1/runs.
//   - Configuration & plumbing: Viper populates config from a file and
//     ESSAYHELPER_* env vars; zap provides structured logging;
//     Prometheus metrics are exported on /metrics.
//
// Operational notes:
//   - Concurrency model: bounded queue + fixed worker pool for crawling;
//     the summarizer fans out over its own pool but serializes remote
//     calls through the throttle; headless fetches hold a semaphore
//     inside the Chromedp fetcher. Shutdown is coordinated via context
//     cancellation from SIGINT/SIGTERM, and interrupted runs keep their
//     partial output.
//   - Rate limiting: optional per-host token buckets pace detail
//     fetches; listing walks pause between pages per source config.
//   - Observability: logs carry run IDs and URLs at key transitions;
//     /healthz answers liveness and /readyz probes redis and the index.
//
// Quick checklist:
//   - Crawl, then summarize, then index; serve needs redis and the
//     index file from the previous step.
//   - Run locally: go run . crawl --config essayhelper.yaml (or rely
//     solely on env overrides).
package main
