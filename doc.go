// Package pushkit is a subscriber registry and tag-based fan-out engine
// for mobile push notifications.
//
// The root Service wires the storage, gateway, tagging, registration,
// and publishing layers into one facade configured from the
// environment. Operation failures that belong to the domain, such as an
// unknown user or a tag type conflict, surface as *Error values with a
// stable Kind; transport failures are returned as-is unless the
// catch-all policy folds them in too.
//
// The subpackages under pkg/ are usable on their own when an
// application needs only a slice of the stack.
package pushkit
