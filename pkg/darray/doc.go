// Package darray is the distributed-array buffering and flush engine.
//
// Every rank of an SPMD job opens the same File. Writes of distributed
// arrays are batched per decomposition in write-multi-buffers; when pool
// memory runs short or too many regions would be cached, the ranks agree on
// a flush, rearrange the batch to the I/O tasks in one pass and hand it to
// the backend through one of three write paths:
//
//   - parallel: one collective hyperslab call per region and variable
//   - non-blocking: one vector request per variable, waited on later in
//     size-bounded blocks that every I/O task agrees on
//   - serial: I/O task 0 writes everything, collecting the other tasks'
//     data in ascending rank order
//
// A File is driven by a single goroutine per rank. Methods that move data
// are collective: every rank of the named communicator must call them in
// the same order with matching arguments.
package darray
