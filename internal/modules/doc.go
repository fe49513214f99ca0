/*
Package modules downloads the remote dependencies a sandbox requires.

Bundles leave package imports as URLs on a CDN (see sandbox.ImportTable).
When a window evaluates such an import it asks its Fetcher for the source.
The Fetcher in this package is shared by every window of a process:

  - go-resty over a go-retryablehttp transport retries transient failures
  - a token bucket caps the request rate towards the CDN
  - one circuit breaker per host stops hammering a host that is down
  - concurrent requests for one URL are collapsed into a single download
  - successful downloads are kept in a bounded LRU cache

Every failure is a *FetchError whose message starts with "failed to fetch",
which the diagnostics layer classifies as a resource error.
*/
package modules
