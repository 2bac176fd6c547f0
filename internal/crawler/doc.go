// Package crawler implements the crawl engine: the deduplicated priority
// frontier, the per-host politeness scheduler, the robots exclusion cache,
// the adaptive concurrency controller and the worker loop tying them
// together.
package crawler
