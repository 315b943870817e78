// Package audit dispatches security events asynchronously.
//
// [Dispatcher] relays [Event] values to a [Sink] through a bounded buffer,
// either dropping (counted) or blocking when the buffer is full. Sinks write
// JSON lines, structured log records, or feed a channel.
//
// The package does not decide which events exist; the engine does. It must not
// import the root identity package.
package audit
