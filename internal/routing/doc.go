// Package routing relays navigation between a sandbox window and its
// controller.
//
// The Bridge wraps the window's pushState and replaceState once and
// listens for popstate. Every navigation is followed by a location
// re-check; a location that differs from the last reported one is handed
// to the Reporter. Controller-issued routes are recorded before they are
// applied, so they are never echoed back.
package routing
