// Package runner ties the host together: it resolves the guest binary
// through the artifact cache, registers the capability bridge, instantiates
// the guest environment, and serializes message-loop execution behind a
// non-blocking guard.
package runner
