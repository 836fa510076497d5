// Package master implements the registry and rendezvous core: the
// connection lifecycle and dispatch engine, the shared client/session
// registries, the worker-assignment scheduler, and the per-client penalty
// (rate-limit) state machine described by the master server wire protocol.
package master
