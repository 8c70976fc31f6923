package monitor

// rung is one step of the trailing ladder: once the price has gained at
// least gain over the entry, the trigger sits at keep of the price.
type rung struct {
	gain float64
	keep float64
}

var ladder = []rung{
	{gain: 1.05, keep: 0.999},
	{gain: 1.04, keep: 0.994},
	{gain: 1.03, keep: 0.992},
	{gain: 1.02, keep: 0.99},
	{gain: 1.015, keep: 0.98},
	{gain: 1.01, keep: 0.97},
	{gain: 1.005, keep: 0.96},
}

const floorKeep = 0.95

// Trail returns the stop trigger for a long position entered at entry when the
// latest price is last. The caller only ever moves a stop up to this value.
func Trail(last, entry float64) float64 {
	if entry > 0 {
		for _, r := range ladder {
			if last >= entry*r.gain {
				return last * r.keep
			}
		}
	}
	return last * floorKeep
}
