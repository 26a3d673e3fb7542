// Package memory provides the typed buffer containers and the process-wide
// memory pool that the reconstruction pipeline is built on.
//
// A memory domain (pageable host, page-locked host, device) is described by a
// Manager, which knows how to allocate buffers and copy between them. Image
// and Volume are handles over such buffers; a pool-issued Image returns its
// buffer to the pool when closed, so buffers cycle between stages without
// repeated allocation.
//
// Ownership discipline:
//
//	img := pool.RequestMemory(id) // checked out, valid
//	defer img.Close()             // returns the buffer to the pool
//
// Moving a handle (Take) transfers the buffer and invalidates the source;
// copying (Clone, CopyFrom) allocates a fresh buffer and is the only legal
// way to cross memory domains.
package memory
