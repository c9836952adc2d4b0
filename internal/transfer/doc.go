// Package transfer fetches manifest files into a private staging area.
//
// A Fetcher performs one network exchange. The Downloader wraps it with
// the skip policy (explicit versions and entity tags), the two-file staging
// scheme, digest verification and the retry policy. Only transport
// failures are retried; a digest mismatch fails immediately.
package transfer
