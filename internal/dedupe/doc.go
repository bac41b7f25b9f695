// Package dedupe suppresses duplicate message sends using a time-based cache
// of recently seen idempotency keys.
package dedupe
