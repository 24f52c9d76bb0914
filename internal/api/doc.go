// Package api hosts the operator HTTP interface. Notable routes:
//   - GET /healthz and /readyz for probes.
//   - GET /metrics for Prometheus scraping.
//   - GET /api/domains and /api/domains/{domain} for the ranked trust factor table.
//   - GET /api/connections for news-site co-occurrence counts.
package api
