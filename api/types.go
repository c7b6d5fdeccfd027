// Package api defines the request and response types of the estimation
// server.
package api

// EstimateRequest asks for flow and motion between two frames. Images are
// PNG or JPEG bytes; JSON clients send them base64 encoded.
type EstimateRequest struct {
	First  []byte `json:"first"`
	Second []byte `json:"second"`

	// Levels is how many pyramid flow levels to return, finest first.
	// Zero means only the finest.
	Levels int `json:"levels,omitempty"`
}

// Flow is a dense displacement field at one pyramid level. Values are in
// pixels at that level's resolution, row-major.
type Flow struct {
	Level  int       `json:"level"`
	Height int       `json:"height"`
	Width  int       `json:"width"`
	DX     []float32 `json:"dx"`
	DY     []float32 `json:"dy"`
}

// Motion is the relative camera motion estimated at one pyramid level.
type Motion struct {
	Level int `json:"level"`

	// Rotation is an axis-angle vector: direction is the axis, magnitude
	// the angle in radians.
	Rotation [3]float32 `json:"rotation"`

	// Translation is a unit direction; monocular estimation leaves the
	// scale unobservable.
	Translation [3]float32 `json:"translation"`
}

type EstimateResponse struct {
	Flows   []Flow   `json:"flows"`
	Motions []Motion `json:"motions"`
}

type ErrorResponse struct {
	Error string `json:"error"`
}
