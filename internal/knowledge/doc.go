// Package knowledge stores and retrieves embedded content chunks.
//
// A Chunk is the atomic indexed unit: a code fragment, documentation
// section, test-failure record, task document or recurring pattern,
// together with its embedding vector and payload metadata. The Store
// interface provides idempotent upserts and filtered nearest-neighbor
// search over chunks; implementations exist for an in-process ephemeral
// index (chromem-go) and a networked Qdrant server (gRPC). Business
// logic depends only on the interface and never branches on which
// backend is in use.
package knowledge
