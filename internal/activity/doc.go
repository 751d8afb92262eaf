// Package activity owns the activity kind registry and the shared
// event-sequence driver.
//
// Ownership boundary:
// - kind -> factory, monitored process, prerequisite probe, affinity, limit
//
// - ordered event execution with delays
//
// - result line emission
//
// Concrete kinds live in sub-packages and register through the agent.
package activity
