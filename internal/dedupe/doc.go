// Package dedupe tracks recently seen keys so at-least-once deliveries can
// be collapsed to one observation per key within a time window.
package dedupe
