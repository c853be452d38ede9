// Package gatt implements the GATT client session layer that sits between an
// application and an asynchronous, callback-driven Bluetooth stack.
//
// A Session validates application requests against its device registry and
// per-device attribute caches, issues exactly one primitive call to the
// Stack per request, and later routes the stack's completions (delivered
// through StackHandler on the stack's own goroutine) back into cache,
// discovery, prepared-write and notification state before invoking the
// application's Callbacks.
//
// Discovered services, characteristics and descriptors are exposed as
// stable zero-based indices. Indices are assigned in first-seen order and
// survive rediscovery and reconnects for the lifetime of the session.
package gatt
