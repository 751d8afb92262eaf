// Package updates talks to the control server. The pull loop applies
// timeline, partial timeline, health, and timeline-upload requests; the push
// loop ships accumulated result logs with at-least-once delivery.
package updates
