// Package ingest implements the judgment ingestion pipeline: resolving a
// case citation to a portal URL, fetching the page, extracting a structured
// case record, and persisting it under a skip-if-exists contract.
package ingest
