// Package domain defines the core business entities of the generation
// scheduler: upstream accounts with their health and cooldown state, and
// durable asynchronous generation tasks with their lifecycle invariants.
//
// Entities validate themselves. Mutation of shared account health fields
// is funneled through the pool aggregate, and task state transitions are
// funneled through the task store; nothing else writes these fields.
package domain
