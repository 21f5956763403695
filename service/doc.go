// Package service runs the reclamation soak workload: many goroutines
// sharing a lock-free stack whose nodes and payloads are recycled through
// infra/memory, with periodic epoch maintenance and journaled checkpoints.
//
// It is transport agnostic; api/grpcserver and cmd/server sit on top.
package service
