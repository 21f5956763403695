//go:build sanitize

package memory

import "math"

// Tiny bags and unbounded collection make races between sealing, expiry and
// teardown show up quickly under the race detector.
const MaxObjects = 4

const collectSteps = math.MaxInt
