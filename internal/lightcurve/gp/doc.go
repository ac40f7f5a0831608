// Package gp fits one filter of a light curve with Gaussian-Process
// regression of flux against time.
//
// The covariance is a squared-exponential kernel with two hyperparameters,
// an amplitude bounded to (0, max|flux|) and a length scale bounded to
// (0, std(time)). Hyperparameters are either optimised for maximum marginal
// likelihood (ModeOptimize) or explored with an affine-invariant ensemble
// MCMC sampler whose burned-in chain is marginalised for prediction and
// retained for posterior draws (ModeMCMC).
//
// Linear algebra is gonum/mat throughout; the Cholesky factor of the
// training covariance is cached per hyperparameter point.
package gp
