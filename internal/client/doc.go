// Package client consumes runstream-gateway chat streams.
//
// A Session owns a fixed number of slots. Submit on a slot posts a chat
// request and reads the event stream on its own goroutine; every frame goes
// through a Dispatcher, which classifies it by the fields it carries and
// applies it to the shared State through Handlers.
//
// Cancellation is driven by context. When a stream is torn down before a
// final frame or an error arrived, the transport calls Dispatcher.Cancel,
// which posts one abort request for the run. The session's completion cache
// guarantees a run is finished once, either by its final frame or by the
// abort response.
package client
