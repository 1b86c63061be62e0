// Package memory implements the three-tier memory hierarchy that receives
// content evicted from working-memory slots.
//
// Tiers:
//   - Working: slots materialized from stored gists (distinct from the slot
//     manager's bounded set; bridging the two is the caller's job)
//   - Episodic: gists produced at eviction or explicit consolidation
//   - Semantic: gists promoted out of the episodic tier by explicit call
//
// Hierarchy transitions are pure: each takes a Hierarchy value and returns a
// new one. Promotion is never automatic.
//
// Indexing:
//   - GistIndex: optional vector index mirroring tier contents for recall
//     outside the engine (chromem-go implementation in store/chromem)
//   - Recaller: embeds a query, searches the index and formats the hits
package memory
