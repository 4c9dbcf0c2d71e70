// Package main hosts the pdfmarkd entrypoint.
//
// Architecture overview:
//   - HTTP API: internal/api.Server exposes /health, /metrics, and /convert. GET /convert fetches a remote blob
//     with the caller's Authorization header forwarded verbatim; POST /convert converts the raw request body.
//   - Readiness: the engine loads in the background after the listener starts. Until it is Ready, /convert answers
//     503 and /health reports loading. A failed load is permanent and /health reports unhealthy.
//   - Pipeline: internal/service validates, fetches at most once, stages the bytes under a unique name, converts
//     under an admission semaphore, and always releases the staged payload.
//   - Sinks: produced Markdown is optionally archived (memory/local/GCS), recorded in Postgres, and announced on
//     Pub/Sub. Sink failures are logged and never change the response.
//   - Configuration & plumbing: Viper populates config from env/files; zap provides structured logging; Prometheus
//     metrics are exported via the metrics middleware and /metrics handler.
//
// Quick checklist:
//   - Configure env vars: PDFMARKD_SERVER_PORT or PORT, PDFMARKD_ENGINE_MAX_CONCURRENT, PDFMARKD_ENGINE_EXCLUSIVE,
//     PDFMARKD_FETCHER_BACKEND (drive|gcs), PDFMARKD_ARCHIVE_BACKEND, PDFMARKD_DB_DSN, PDFMARKD_PUBSUB_TOPIC.
//   - Run locally: go run ./cmd/pdfmarkd serve --config config.yaml
//   - Convert one file: go run ./cmd/pdfmarkd convert report.pdf -o report.md
package main
