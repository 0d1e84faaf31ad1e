// Package cluster defines the membership records, run messages and HTTP
// client shared by the coordinator and the worker nodes of a histogram run.
//
// # Overview
//
// A run has a fixed number of members. Member 0 is the coordinator, which
// owns the dataset and also bins a slice of it. Every other member is a
// node that registered with the coordinator and was given the next rank.
//
//	              ┌──────────────┐
//	              │ Coordinator  │
//	              │  rank 0      │
//	              │ - dataset    │
//	              │ - registry   │
//	              └──────┬───────┘
//	                     │ config / slices / compute / release
//	      ┌──────────────┼──────────────┐
//	      │              │              │
//	┌─────▼─────┐  ┌─────▼─────┐  ┌─────▼─────┐
//	│ rank 0    │  │ rank 1    │  │ rank 2    │
//	│ (self)    │  │ node      │  │ node      │
//	└───────────┘  └───────────┘  └───────────┘
//
// # Communication Protocol
//
// Control messages are JSON over HTTP POST:
//
// Registration (POST /register on the coordinator):
//   - A node announces its ID and public address
//   - The response carries its rank and the run size
//
// Run configuration (POST /run/config):
//   - RunConfig with the run ID, bin configuration and member count
//   - Must reach every member before any slice is sent
//
// Slice transfer (POST /run/slice):
//   - Raw little-endian float32 body, see package wire
//   - Offset, count and checksum travel in headers
//
// Compute (POST /run/compute):
//   - Bins the stored slice and answers with a LocalResult
//
// Release (POST /run/release):
//   - Ends the run; the member drops its slice
//
// # Timeouts
//
// DefaultClient applies a short timeout and is meant for registration and
// health probes. Collective calls use a Client without a timeout: a member
// that never answers stalls the run until the caller's context is canceled.
package cluster
