package simulator

// experiment is the minimum shape the external simulator expects in
// experiment.json (§6.3): input paths, export configuration, and an output
// folder. Extra keys the simulator may accept are out of scope here — the
// core only needs to produce what it reads back.
type experiment struct {
	Name         string        `json:"name"`
	Topologies   []pathEntry   `json:"topologies"`
	Workloads    []pathEntry   `json:"workloads"`
	ExportModels []exportModel `json:"exportModels"`
	OutputFolder string        `json:"outputFolder"`
}

type pathEntry struct {
	PathToFile string `json:"pathToFile"`
}

type exportModel struct {
	ExportInterval int64    `json:"exportInterval"`
	Exports        []string `json:"exports"`
}

// DefaultExportInterval is the §4.4 default exportInterval in seconds.
const DefaultExportInterval = 150

// defaultExports are the requested export kinds (§4.4 step 2).
var defaultExports = []string{"powerSource", "host", "service"}
