// Package ghost runs the agent.
//
// Lifecycle order:
// - bootstrap: lower priority, build the activity registry, clean up stray
// process families, construct the orchestrator
//
// - serve: run the stored timeline, start the inbound channels, the update
// client and the status surface, log a heartbeat
//
// - shutdown: on signal or stop file, cancel everything and force-kill the
// tracked process families
//
// A full reload (timeline document changed) is Shutdown, Cleanup, Load, Run.
// Socket, directory, and pulled partial updates dispatch single handlers
// without touching the stored document.
package ghost
