// Package server exposes the HTTP surface of securechat: account
// registration and login, WebSocket upgrades into the realtime core, the
// user roster, and conversation history.
package server
