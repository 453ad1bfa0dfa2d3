// Package engine is the execution orchestrator. It runs every rule on each
// pass, stamps LastMoveTime, persists once, notifies, and re-arms the
// scheduler. It also owns startup catch-up and the API exposed to the UI
// layer (settings, manual trigger, mark clearing, status).
//
// The engine is not safe for concurrent passes; the app event loop
// serializes every call.
package engine
