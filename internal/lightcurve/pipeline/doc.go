// Package pipeline is the composition root for processing one object:
//
//	INGESTED → GATED → FITTED → [SAMPLED] → NORMALIZED → ALIGNED → RESAMPLED
//
// Any failing stage ends processing and the object is reported as excluded
// with the gate and reason that stopped it. Process never returns an error;
// every per-object result, good or bad, is an Outcome.
package pipeline
