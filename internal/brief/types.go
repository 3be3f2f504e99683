package brief

// Brief is the structured product specification produced by the oracle.
// Every field is optional when read back: the extractor only checks that the
// payload is syntactically valid JSON.
type Brief struct {
	ProductName    string            `json:"product_name"`
	ProductID      string            `json:"product_id"`
	Category       string            `json:"category"`
	Positioning    string            `json:"positioning"`
	IntendedUse    string            `json:"intended_use"`
	FormFactor     string            `json:"form_factor"`
	Dimensions     Dimensions        `json:"dimensions"`
	Materials      map[string]string `json:"materials"`
	Finishes       map[string]string `json:"finishes"`
	ColorScheme    ColorScheme       `json:"color_scheme"`
	TargetPriceUSD float64           `json:"target_price_usd"`
	Certifications []string          `json:"certifications"`
	Variants       []string          `json:"variants"`
	Notes          string            `json:"notes"`
}

// Dimensions are millimetres. Round products use height/diameter, boxed
// products height/width/depth.
type Dimensions struct {
	HeightMM   *float64 `json:"height_mm,omitempty"`
	DiameterMM *float64 `json:"diameter_mm,omitempty"`
	WidthMM    *float64 `json:"width_mm,omitempty"`
	DepthMM    *float64 `json:"depth_mm,omitempty"`
}

type ColorScheme struct {
	Base    string   `json:"base"`
	Accents []string `json:"accents"`
}
