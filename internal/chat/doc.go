// Package chat implements the realtime core of securechat: presence
// tracking, room-scoped delivery, event routing, and the per-connection
// lifecycle state machine.
package chat
