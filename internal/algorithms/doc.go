// Package algorithms contains the prediction plugins shipped with DrawSight:
// a time-weighted frequency analyser, a pattern analyser and a small
// neural-network stand-in. They implement plugin.Plugin and are registered
// with the manager at startup.
package algorithms
