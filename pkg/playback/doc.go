// Package playback drives the step-wise machining simulator.
//
// An Engine opens a simulation with a setup stream, then steps it one
// engine request at a time. Every visual change arrives as a frame from
// the geometry engine: meshes are added, patched, moved, indexed and
// deleted only on the engine's say. Frames tagged with an old session
// token are dropped, so a teardown followed by a new setup never sees the
// previous run's leftovers.
package playback
