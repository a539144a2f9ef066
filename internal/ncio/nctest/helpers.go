package nctest

// TimeSeries describes a minimal single-variable output file with a record
// time axis, the shape most model output files take.
type TimeSeries struct {
	// VarName is the data variable name (e.g. "temp").
	VarName string
	// Units is the data variable's units attribute.
	Units string
	// TimeUnits is the CF units attribute of the time axis
	// (e.g. "days since 2000-01-01").
	TimeUnits string
	// Calendar is the CF calendar attribute (empty for standard).
	Calendar string
	// Times are the encoded time coordinate values.
	Times []float64
	// Bounds are optional time-bounds pairs, one per time value.
	Bounds [][2]float64
	// GlobalAttrs are merged into the file's global attributes.
	GlobalAttrs map[string]any
}

// Build assembles the File for a TimeSeries.
func (ts TimeSeries) Build() *File {
	timeAttrs := map[string]any{
		"standard_name": "time",
		"units":         ts.TimeUnits,
	}
	if ts.Calendar != "" {
		timeAttrs["calendar"] = ts.Calendar
	}

	f := &File{
		Dims: []Dim{
			{Name: "time", Length: len(ts.Times), Unlimited: true},
			{Name: "lat", Length: 2},
			{Name: "lon", Length: 3},
		},
		GlobalAttrs: map[string]any{},
		Vars: []Var{
			{
				Name:  "time",
				Dims:  []string{"time"},
				Attrs: timeAttrs,
				Data:  ts.Times,
			},
			{Name: "lat", Dims: []string{"lat"}, Attrs: map[string]any{"units": "degrees_north"}, Data: []float64{-45, 45}},
			{Name: "lon", Dims: []string{"lon"}, Attrs: map[string]any{"units": "degrees_east"}, Data: []float64{0, 120, 240}},
			{
				Name:  ts.VarName,
				Dims:  []string{"time", "lat", "lon"},
				Attrs: map[string]any{"units": ts.Units, "long_name": ts.VarName},
			},
		},
	}

	for k, v := range ts.GlobalAttrs {
		f.GlobalAttrs[k] = v
	}

	if len(ts.Bounds) > 0 {
		timeAttrs["bounds"] = "time_bnds"
		f.Dims = append(f.Dims, Dim{Name: "nv", Length: 2})
		flat := make([]float64, 0, len(ts.Bounds)*2)
		for _, b := range ts.Bounds {
			flat = append(flat, b[0], b[1])
		}
		f.Vars = append(f.Vars, Var{
			Name: "time_bnds",
			Dims: []string{"time", "nv"},
			Data: flat,
		})
	}

	return f
}

// Write builds and writes the TimeSeries to path.
func (ts TimeSeries) Write(path string) error {
	return ts.Build().WriteFile(path)
}
