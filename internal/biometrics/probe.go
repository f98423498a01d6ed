package biometrics

// Feature extraction runs outside this service (an upstream pipeline turns
// camera frames and microphone captures into fixed-length vectors). Probes
// carry that pipeline's output across the API boundary; this package never
// sees raw media.

// FaceProbe is the extraction output for a single camera frame.
type FaceProbe struct {
	// FacesDetected is the fast presence detector's face count, independent
	// of identity encoding.
	FacesDetected int `json:"faces_detected" validate:"min=0"`

	// Encodings are identity feature vectors, one per detected candidate
	// face. Empty means extraction produced no usable vector. When several
	// faces are present the first encoding is matched.
	Encodings [][]float64 `json:"encodings"`

	Quality float64 `json:"quality" validate:"min=0,max=1"`
}

// Present reports whether the fast detector saw at least one face.
func (p *FaceProbe) Present() bool {
	return p.FacesDetected > 0
}

// Encoding returns the vector to match against, or nil when extraction
// yielded nothing usable.
func (p *FaceProbe) Encoding() []float64 {
	if len(p.Encodings) == 0 {
		return nil
	}
	return p.Encodings[0]
}

// VoiceProbe is the extraction output for one audio capture.
type VoiceProbe struct {
	Features []float64 `json:"features"`
	Quality  float64   `json:"quality" validate:"min=0,max=1"`
}

// Usable reports whether the probe carries a non-empty feature vector.
func (p *VoiceProbe) Usable() bool {
	return len(p.Features) > 0
}
