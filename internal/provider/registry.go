package provider

import (
	"sort"
	"strings"
)

// SupportStatus represents the migration support level for a provider kind.
type SupportStatus string

const (
	StatusSupported   SupportStatus = "supported"   // Full artifact coverage
	StatusPartial     SupportStatus = "partial"     // Most artifact types work, some gaps
	StatusManual      SupportStatus = "manual"      // Requires manual setup or export files
	StatusUnsupported SupportStatus = "unsupported" // No client available
)

// Info describes a known provider kind and its migration support level.
type Info struct {
	ID           string        `json:"id"`
	Name         string        `json:"name"`
	Status       SupportStatus `json:"status"`
	Capabilities Capabilities  `json:"capabilities"`
	Notes        string        `json:"notes,omitempty"`
}

// Registry holds the known provider kinds and their capability descriptors.
type Registry struct {
	providers map[string]Info
}

// NewRegistry creates a registry populated with the built-in provider kinds.
func NewRegistry() *Registry {
	r := &Registry{providers: make(map[string]Info)}
	r.registerBuiltins()
	return r
}

func (r *Registry) registerBuiltins() {
	all := Capabilities{TestCases: true, TestCycles: true, TestExecutions: true, Attachments: true, CustomFields: true}

	r.providers["testrail"] = Info{
		ID: "testrail", Name: "TestRail", Status: StatusSupported,
		Capabilities: all,
	}
	r.providers["qtest"] = Info{
		ID: "qtest", Name: "qTest", Status: StatusSupported,
		Capabilities: all,
	}
	r.providers["azure-devops"] = Info{
		ID: "azure-devops", Name: "Azure DevOps Test Plans", Status: StatusSupported,
		Capabilities: all,
	}
	r.providers["rally"] = Info{
		ID: "rally", Name: "Rally", Status: StatusPartial,
		Capabilities: Capabilities{TestCases: true, TestCycles: true, TestExecutions: true, CustomFields: true},
		Notes:        "Attachments require the Rally attachment API to be enabled.",
	}
	r.providers["hp-alm"] = Info{
		ID: "hp-alm", Name: "HP ALM / Quality Center", Status: StatusPartial,
		Capabilities: Capabilities{TestCases: true, TestCycles: true, TestExecutions: true, Attachments: true},
		Notes:        "Custom field discovery is limited to fields visible to the API user.",
	}
	r.providers["jama"] = Info{
		ID: "jama", Name: "Jama Connect", Status: StatusPartial,
		Capabilities: Capabilities{TestCases: true, TestCycles: true, TestExecutions: true},
	}
	r.providers["excel"] = Info{
		ID: "excel", Name: "Excel export", Status: StatusManual,
		Capabilities: Capabilities{TestCases: true, CustomFields: true},
		Notes:        "Flat export only. Cycles and executions cannot be reconstructed from sheets.",
	}
	r.providers["memory"] = Info{
		ID: "memory", Name: "In-memory (testing)", Status: StatusSupported,
		Capabilities: all,
		Notes:        "Backed by process memory. Used for dry runs and tests.",
	}
}

// Lookup finds provider info by kind, tolerating minor naming variations.
func (r *Registry) Lookup(providerID string) (Info, bool) {
	if info, ok := r.providers[providerID]; ok {
		return info, true
	}

	normalized := strings.ToLower(strings.ReplaceAll(providerID, "_", "-"))
	if info, ok := r.providers[normalized]; ok {
		return info, true
	}

	return Info{}, false
}

// All returns every registered provider kind sorted by ID.
func (r *Registry) All() []Info {
	infos := make([]Info, 0, len(r.providers))
	for _, info := range r.providers {
		infos = append(infos, info)
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].ID < infos[j].ID })
	return infos
}

// ByStatus returns provider kinds with the given support status.
func (r *Registry) ByStatus(status SupportStatus) []Info {
	var infos []Info
	for _, info := range r.All() {
		if info.Status == status {
			infos = append(infos, info)
		}
	}
	return infos
}
