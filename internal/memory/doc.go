// Package memory provides the long-term semantic memory used by the agent.
//
// Fragments are short texts tagged with the owning user and the chat they
// came from. Each user gets a chromem-go collection; retrieval runs in two
// phases:
//   - local: fragments from the current chat only
//   - global: fragments from any of the user's chats, used only when the
//     local phase finds nothing, annotated so the prompt can signal provenance
//
// Writes go through Writer, a bounded background queue, so a turn never
// waits on embedding or indexing.
package memory
