// Package errclass maps transcoder error codes to a closed set of categories
// and decides whether a failed attempt may be retried with the same preset.
//
// Classification is total: every code lands in exactly one category, and
// codes outside the known sets are reported as unknown and not retryable.
package errclass
