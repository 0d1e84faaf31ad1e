// Package coordinator implements the coordinator side of a distributed
// histogram run: it admits members, drives the partition, compute and
// combine protocol over them, and reports the result.
//
// # Overview
//
// The coordinator owns the dataset. It is also a member of the run: its own
// worker holds rank 0 and receives its slice over the same HTTP endpoints as
// every remote node, so no member is special-cased in the protocol.
//
// # Architecture
//
//	┌─────────────────────────────────────┐
//	│           COORDINATOR               │
//	├─────────────────────────────────────┤
//	│                                     │
//	│  ┌──────────────────────────────┐   │
//	│  │   Registry                   │   │
//	│  │   - Fixed member table       │   │
//	│  │   - Rank assignment          │   │
//	│  │   - Ready barrier (Wait)     │   │
//	│  └──────────────────────────────┘   │
//	│                                     │
//	│  ┌──────────────────────────────┐   │
//	│  │   Job                        │   │
//	│  │   - Partition                │   │
//	│  │   - Broadcast / Scatter      │   │
//	│  │   - Reduce / Release         │   │
//	│  └──────────────────────────────┘   │
//	│                                     │
//	│  ┌──────────────────────────────┐   │
//	│  │   HealthMonitor              │   │
//	│  │   - /health probes           │   │
//	│  │   - Stall diagnostics        │   │
//	│  └──────────────────────────────┘   │
//	│                                     │
//	└─────────────────────────────────────┘
//
// # Run Protocol
//
// A run proceeds in strict phases. Each phase is a collective: it returns
// only when every member has answered.
//
//	coordinator                         member (rank r)
//	    │  POST /run/config  ──────────────▶  configured
//	    │  POST /run/slice   ──────────────▶  loaded
//	    │  POST /run/compute ──────────────▶  computed
//	    │  ◀────────────── LocalResult (r)
//	    │  sum local histograms
//	    │  POST /run/release ──────────────▶  released, exits
//
// The slice of rank r is the contiguous range the partition assigns to r.
// The first n mod P ranks receive one extra item. Ranges are disjoint and
// together cover the dataset exactly.
//
// # Failure Handling
//
// The first member error fails the run; there are no retries and no
// redistribution. Collective calls carry no deadline, so a member that stops
// answering blocks the run until the process is interrupted. The
// HealthMonitor logs such members so the cause of a stall is visible, but it
// never cancels anything.
//
// # Usage Example
//
//	reg, _ := coordinator.NewRegistry(3, self)
//	members, _ := reg.Wait(ctx)
//	comm, _ := collective.New(members, nil)
//
//	report, err := coordinator.NewJob(comm, histogram.NewConfig(bins)).Run(ctx, data)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	coordinator.WriteReport(os.Stdout, report)
package coordinator
