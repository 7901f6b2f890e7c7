// Package stabilizer turns noisy position and heading samples into a stable
// display location.
//
// Filters are plain value types with pure step methods: Kalman.Step and
// BearingSmoother.Step take the previous state and a sample and return the
// next state plus an output. Tracker composes them with the anchor/buffer
// model and speed tiers, and Animator interpolates the rendered marker
// between display updates.
package stabilizer
