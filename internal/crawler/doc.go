// Package crawler scrolls the live search of the content source and feeds
// every post it sees into the round store.
//
// # Architecture
//
// The Engine drives one leased browser page through an open-ended
// pagination loop. Each iteration reads the rendered posts, extracts them,
// stores them, polls the round oracle and scrolls one viewport. The loop
// ends on:
//   - a round change reported by the oracle
//   - the source's rate-limit notice
//   - the iteration safety valve
//   - context cancellation
//   - any page error
//
// Whatever the exit, the browser is closed exactly once and records that
// were already stored stay stored.
//
// # Session handling
//
// The Engine never logs in. When the session manager has no authenticated
// page, Crawl triggers a negotiation and returns CrawlDeferred; the next
// invocation crawls.
//
// # Usage
//
//	engine := crawler.NewEngine(sessions, store, oracle)
//	stats, err := engine.Crawl(ctx, crawler.Query{SearchTerm: term, URL: url, Round: round})
package crawler
