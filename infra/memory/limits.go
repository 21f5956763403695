//go:build !sanitize

package memory

// MaxObjects is the number of deferred functions a Bag holds before it has
// to be handed to the global queue.
const MaxObjects = 64

// collectSteps bounds how many sealed bags one collect pass may destroy.
const collectSteps = 8
