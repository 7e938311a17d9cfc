// Package events provides event bus implementations for run and job
// lifecycle events.
//
// Implementations:
//   - redis: Redis Streams with consumer groups
//   - memory: In-memory, synchronous delivery
package events
