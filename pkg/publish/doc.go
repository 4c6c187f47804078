// Package publish delivers notifications to users, single devices, and
// tags.
//
// Messages are serialized into the multi-platform gateway envelope once
// per publish and delivered sequentially. Dead endpoints discovered
// during delivery trigger a best-effort unregistration so they stop
// accumulating. Successful deliveries are recorded through an optional
// DeliveryRecorder.
package publish
