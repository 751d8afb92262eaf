// Package timeline owns the activity document model.
//
// Ownership boundary:
// - document codec (JSON with comments, YAML)
//
// - trackable id minting
//
// - local document persistence
//
// - legacy browser-script translation
//
// Timeline does not own execution.
package timeline
