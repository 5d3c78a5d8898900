// Package scheduler arms one-shot and recurring triggers keyed by job id.
//
// The scheduler is trigger-only. When a trigger is due it enqueues a task into
// the task engine, which invokes the registered FireFunc. Registrations are
// in-memory: nothing here survives a restart.
package scheduler
