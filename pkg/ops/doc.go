// Package ops is the operation pipeline: an ordered list of typed
// machining operations, the geometry each one has picked, and the list
// editing rules (clock marker stays last, one flip at most, deep copies on
// duplicate, lazy pruning of deleted parts).
package ops
