// Package bridge exposes host capability handles to the guest as the
// component-model root import module.
//
// Four functions are exported under "$root":
//
//	send-bytes: func(payload: list<u8>)
//	recv-bytes: func() -> list<u8>
//	recv-ready: func() -> bool
//	write-log:  func(msg: string)
//
// send-bytes and recv-bytes may block on the handle; on an asyncified guest
// they suspend the guest instead of blocking its stack. recv-ready and
// write-log complete synchronously.
//
// Handle failures cross the boundary as a single formatted string, "Type:
// message", never as the handle's own error value.
package bridge
