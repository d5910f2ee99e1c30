// Package transport delivers notification lines to channels.
//
// An endpoint is one delivery backend. Each endpoint reports the channels it
// currently serves, and the poller only notifies repositories whose channels
// intersect them.
package transport
