// Package conclave is a multi-expert assistant over a personal data store.
//
// A chat message first passes the risk gate, which holds destructive
// requests until the user confirms them. The orchestrator then decomposes
// the message into a plan of expert calls, runs them over the in-process
// A2A bus and synthesizes one answer from their results.
//
// # Experts
//
// Three roles ship built in and can be overridden or extended from the
// experts section of the configuration:
//
//   - Database Read Expert: answers questions with structured_query and
//     semantic_search, read-only.
//   - Database Write Expert: inserts, updates and deletes rows.
//   - Content Expert: answers from the page the user is viewing, in a
//     single model call.
//
// The crawler agent (web_crawler_agent) shares the bus and ingests pages
// into the document store and the vector index.
//
// # Packages
//
//   - pkg/chat: request boundary, sessions and the risk gate
//   - pkg/orchestrator: decomposition, execution and synthesis
//   - pkg/expert, pkg/react, pkg/tools: expert roles, the reasoning loop
//     and its tools
//   - pkg/a2a: message envelope, bus and HTTP binding
//   - pkg/store, pkg/retrieval, pkg/vector, pkg/embedder: relational
//     store, similarity search and embeddings
//   - pkg/crawler: fetch, extract, chunk and embed web pages
//   - pkg/server: HTTP routes
//
// # Quick Start
//
//	go install github.com/kadirpekel/conclave/cmd/conclave@latest
//	export GEMINI_API_KEY=...
//	conclave serve
//
// Then:
//
//	curl -s localhost:8080/api/chat -d '{"message":"What are my skills?"}'
package conclave
