// Package api hosts the operator HTTP surface:
//   - GET /healthz and /readyz for probes.
//   - GET /stats and /stats/hosts/{host} for run and per-host state.
//   - GET /metrics for Prometheus scraping.
package api
