// Package transport defines the Bus capability consumed by the device layer
// and provides two implementations: an in-memory loopback bus with scripted
// responder nodes (tests, simulation, demos) and a Linux SocketCAN adapter.
//
// A single Bus instance is shared by every device talking to the same
// physical adapter. CAN frames carry no source address, so a monitor response
// can only be correlated with its request by strict turn-taking: callers
// acquire the bus exclusion lock (Bus embeds sync.Locker) for the whole
// request/response pair or the whole batch sequence. The device layer does
// this; applications driving a Bus directly must do the same.
package transport
