// Package events delivers named session events to registered listeners.
//
// The set of event names is closed. Listeners run synchronously, in
// registration order, and a panicking listener is recovered and logged so
// the remaining listeners still see the event.
package events
