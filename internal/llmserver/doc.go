// Package llmserver acquires a local model artifact and supervises an
// OpenAI-compatible inference server process (llama.cpp server).
//
// At most one server process is tracked per OS process. The tracked handle
// lives in a package-level slot that only Supervisor methods touch; a
// cross-process file lock next to the server log keeps two videolingo
// processes from spawning competing servers. Supervisor.WithServer scopes a
// server around a unit of work and only stops a server it started itself.
package llmserver
