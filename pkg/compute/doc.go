// Package compute is the request/response protocol between the
// orchestrator and the out-of-line geometry engine.
//
// Two call shapes exist:
//
//   - Request: a one-shot analysis (trace extraction, face-group lookup,
//     hole detection). Zero or more progress envelopes may precede exactly
//     one terminal reply. Progress is delivered to a callback, the terminal
//     reply is the return value.
//   - Stream: a channel (playback setup, playback steps) that delivers
//     typed frames until the caller stops it or the engine closes it.
//
// Replies for one request id are delivered in issuance order by a single
// dispatch goroutine; nothing is guaranteed across ids. Every request
// carries a session token chosen by the caller so that late replies for a
// superseded session can be recognized and dropped.
//
// Opening a stream on a named channel that already has an open stream
// first stops the old one, which sends an explicit cancel message to the
// engine, so there are never two live channels for the same purpose.
//
// The transport is pluggable: LocalTransport runs the engine in-process on
// a worker goroutine (payloads are copied through JSON so no memory is
// shared), WSTransport talks to a remote engine over a websocket.
package compute
