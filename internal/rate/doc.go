// Package rate keeps a process-wide currency conversion rate.
//
// The Converter refreshes the rate from a REST source on a coarse ticker. A
// failed refresh never replaces the cached value: the last known good rate,
// seeded with a configured fallback, is served until a refresh succeeds.
package rate
