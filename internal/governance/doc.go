// Package governance holds the runtime controls applied to outbound provider
// calls: per-provider call pacing and the bounded per-call timeout.
//
// Pacing is keyed by provider so a slow or throttled provider never delays
// calls to another one. Timeouts are expressed as contexts; a call that runs
// past its deadline is reported as a ProviderTimeout by the caller.
package governance
