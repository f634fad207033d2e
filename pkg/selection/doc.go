// Package selection runs interactive picking sessions that edit an
// operation's geometry set.
//
// A Manager holds at most one Session. Starting a session ends the
// previous one first, so the old session's highlights are gone before the
// new one draws anything. Each session is driven by a Mode: trace,
// surface, cylinder, hole or point. Modes that need the geometry engine
// run an analysis in the background; replies that arrive after the
// session ended are dropped.
//
// Hover never mutates. Commit toggles the element's canonical key in the
// live set through Pipeline.Edit. Done clears highlights, restores dimmed
// parts and prunes entries for parts that no longer exist.
package selection
