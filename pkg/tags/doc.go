// Package tags manages the tag directory and tag memberships.
//
// A tag is either iterative (members enumerated and fanned out per
// publish) or topic-backed (members subscribed to a gateway broadcast
// topic, one publish reaches all). A tag's type is fixed on first use
// and can never change. Topic tags own their topic's lifecycle: the
// topic is created on first join and deleted when the gateway reports no
// confirmed subscriptions after the last member leaves.
package tags
