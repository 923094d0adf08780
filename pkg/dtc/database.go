package dtc

// entry is one built-in database row: description plus severity.
type entry struct {
	description string
	severity    string
}

// builtin is a small seed database covering common N54 codes, in the same
// spirit as the much larger external database this ships without:
// real deployments are expected to call SetLookup with a fuller table.
var builtin = map[string]entry{
	"P0300": {"Random/Multiple Cylinder Misfire Detected", "High"},
	"P0301": {"Cylinder 1 Misfire Detected", "Critical"},
	"P0302": {"Cylinder 2 Misfire Detected", "High"},
	"P0303": {"Cylinder 3 Misfire Detected", "High"},
	"P0304": {"Cylinder 4 Misfire Detected", "High"},
	"P0305": {"Cylinder 5 Misfire Detected", "High"},
	"P0306": {"Cylinder 6 Misfire Detected", "High"},
	"P0087": {"Fuel Rail/System Pressure Too Low", "Critical"},
	"P0088": {"Fuel Rail/System Pressure Too High", "High"},
	"P1080": {"High Pressure Fuel Pump Performance", "Critical"},
	"P0234": {"Turbocharger/Supercharger Overboost Condition", "Critical"},
	"P0299": {"Turbocharger/Supercharger Underboost Condition", "High"},
	"P0016": {"Crankshaft Position/Camshaft Position Correlation", "High"},
}

// Lookup is the override hook installed by SetLookup. When nil, builtin is
// consulted directly.
type Lookup func(code string) (description, severity string, ok bool)

var override Lookup

// SetLookup installs fn as the description/severity source, taking
// priority over the built-in table. Passing nil restores the built-in
// table.
func SetLookup(fn Lookup) { override = fn }

func lookup(code string) (description, severity string, ok bool) {
	if override != nil {
		if desc, sev, found := override(code); found {
			return desc, sev, true
		}
	}
	e, found := builtin[code]
	if !found {
		return "", "", false
	}
	return e.description, e.severity, true
}
