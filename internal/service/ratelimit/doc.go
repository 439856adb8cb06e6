// Package ratelimit selects a per-tenant request budget from the tenant's
// cached abuse level and prepaid balance status, and enforces it with
// Redis-backed counters.
//
// The effective budget is whichever of the risk and balance budgets allows
// the lower request rate; its action is the stricter of the two rows. The
// counting algorithm (token bucket or sliding window) is fixed per
// deployment. Behavior when the counter store is unreachable is the
// deployment's explicit on_store_error choice.
package ratelimit
