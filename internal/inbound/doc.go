// Package inbound accepts live updates for the agent: single handlers over a
// delimited TCP socket, timeline and legacy script files dropped into an
// inbound directory, and edits to the local timeline document.
package inbound
