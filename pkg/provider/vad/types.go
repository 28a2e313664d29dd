package vad

// Result is the classification of a single audio frame.
type Result struct {
	// Speech reports whether the frame was classified as voiced.
	Speech bool

	// Probability is the speech probability score (0.0 to 1.0).
	Probability float64
}
