// Package main provides the entry point for the roundscout CLI.
//
// roundscout runs a node of a round-based crawling network: each round it
// crawls the live search of a social feed for an assigned term, publishes
// what it saw to content-addressed storage, and audits the proofs its
// peers published for the previous round.
//
// Usage:
//
//	roundscout run
//	roundscout status
//
// See --help for all available options.
package main

func main() {
	Execute()
}
