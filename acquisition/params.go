package acquisition

// ParameterDescription describes one custom scan parameter an instrument understands.
// An empty Selection means the parameter takes no argument.
type ParameterDescription struct {
	Name         string `json:"name"`
	Selection    string `json:"selection"`
	DefaultValue string `json:"defaultValue"`
	Help         string `json:"help"`
}

// DefaultParameters returns the parameter set advertised by simulated instruments.
func DefaultParameters() []ParameterDescription {
	return []ParameterDescription{
		{
			Name:      "CollisionEnergy",
			Selection: "string (0;200)",
			Help: "The normalized collision energy (NCE). It is expressed as a string of values, " +
				"with each value separated by a ';' delimiter. A maximum of 10 values can be defined.",
		},
		{
			Name:         "ScanRate",
			Selection:    "Normal,Enhanced,Zoom,Rapid,Turbo",
			DefaultValue: "Normal",
			Help:         "The scan rate of the ion trap",
		},
		{
			Name:         "FirstMass",
			Selection:    "string (50;2000)",
			DefaultValue: "150",
			Help: "The first mass of the scan range. It is expressed as a string of values, " +
				"with each value separated by a ';' delimiter. A maximum of 10 values can be defined.",
		},
	}
}
