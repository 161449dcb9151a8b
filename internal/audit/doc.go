// Package audit relays identity lifecycle events to a caller-supplied sink.
//
// # Components
//
//   - [Sink] receives events. [NoOpSink], [ChannelSink] and [JSONWriterSink]
//     cover tests and line-oriented logs; [SinkFunc] adapts a plain function.
//   - [Dispatcher] buffers events and delivers them on its own goroutine, so
//     a slow sink never stalls registration or authentication.
//   - [Event] is the record: event type, user id, backend, mpin id, outcome
//     code name and free-form metadata.
//
// Events never carry PINs, secret shares, tokens or time permits.
//
// This package does not import goMPin or any sibling internal package.
package audit
