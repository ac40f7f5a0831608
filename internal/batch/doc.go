// Package batch runs the light-curve pipeline over a catalogue of objects
// and assembles the data matrix consumed by downstream classifiers.
//
// Objects are processed on a fixed-size worker pool. Every worker gets its
// own copy of the configuration and record; results are aggregated only after
// all workers finish. Per-object failures become exclusions, never batch
// errors.
package batch
