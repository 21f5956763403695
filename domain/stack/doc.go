// Package stack is a Treiber stack that reclaims its nodes through
// infra/memory. It is the workload the soak service drives.
package stack
