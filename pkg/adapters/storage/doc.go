// Package storage provides job document storage implementations.
//
// Implementations:
//   - redis: Redis keys with optional TTL
//   - memory: In-memory for testing and single-process use
package storage
