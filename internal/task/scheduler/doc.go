// Package scheduler owns trigger timing: keyed one-shot timers and recurring
// cron/interval schedules. Execution is delegated to the task engine.
//
// One-shot timers are upserted by key. Every upsert or removal bumps a
// per-key version, and a timer callback that finds a newer version is
// discarded. A one-shot definition is dropped right before its job is handed
// to the engine, so a key is "armed" only until it fires.
package scheduler
