// Package scheduler provides the in-process trigger scheduler used by otpbot
// for periodic maintenance (the auto-clear sweep).
//
// # Overview
//
// Jobs are registered under a logical name (e.g. "coordinator.autoclear").
// Registration is an upsert: adding a schedule under a name that already exists
// replaces the previous definition and its timer, so a name never owns more than
// one trigger.
//
// # Schedule formats
//
//   - Cron expressions: 5-field or 6-field with optional seconds.
//   - Cron descriptors: "@hourly", "@every 5m".
//   - Interval durations: Go duration strings like "5m".
//   - Interval HH:MM: "00:05" means every 5 minutes.
//
// Callers may force interpretation with a "cron:", "interval:" or "every:" prefix.
//
// # Overlap
//
// A run is skipped when the previous run of the same name is still executing.
//
// # Lifecycle
//
// Registering while stopped is supported: definitions are kept and applied on Start.
package scheduler
