// Package ufo implements a streaming dataflow engine for pipelines of
// image-processing filters running across heterogeneous compute devices.
//
// A pipeline is described as a linear (or device-expanded) chain of named
// filter stages — sources, transforms, and sinks — connected by labelled
// edges. The scheduler wires one bounded channel per node input port (edges
// into the same port share it) and runs one
// goroutine per node until every source is exhausted, propagating
// termination downstream via poison markers and the first error upstream
// via golang.org/x/sync/errgroup.
//
// # Architecture Overview
//
// The engine consists of several key components:
//
//   - requisition: n-dimensional shape descriptors for float32 buffers
//   - buffer: dual host/device residency buffers with lazy synchronization
//   - resources: the OpenCL-style device context/queue/handle interfaces
//     buffers transfer through, plus an in-process software backend
//   - graph: pipeline topology — nodes, labelled edges, expand/flatten/
//     longest-path operations
//   - filter: the Source/Transform/Sink contracts and typed properties
//   - xchannel: the bounded, poison-terminated channel between two stages
//   - scheduler: wires a graph into running goroutines
//   - plugins: the built-in filter registry and pipeline description parser
//   - cmd: command-line tools (ufo-launch, ufo-dump, ufo-bench)
//
// # Basic usage
//
//	g, stages, err := plugins.ParsePipeline(
//	    "generate width=640 height=480 count=10 ! scale factor=1.5 width=640 height=480 ! count",
//	    plugins.Default,
//	)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	sched, err := scheduler.New(g, stages, scheduler.Options{})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	if err := sched.Run(context.Background()); err != nil {
//	    log.Fatal(err)
//	}
package ufo
