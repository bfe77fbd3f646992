package detector

// preset pins the capabilities of tokens whose on-chain heuristics are
// known to misreport. Keyed by lowercase token address; applies only on
// the listed networks.
type preset struct {
	Networks []string
	Methods  []Method
	Name     string
	Version  string
}

var presets = map[string]preset{
	// WLFI carries the EIP-3009 selectors in its bytecode but reverts on
	// transferWithAuthorization; declared permit-only.
	"0x8d0d000ee44948fc98c9b98a4fa4921476f08b0d": {
		Networks: []string{"bsc"},
		Methods:  []Method{MethodPermit},
		Name:     "World Liberty Financial",
		Version:  "1",
	},
}

// lookupPreset returns the preset for addr (lowercase hex) if one exists.
func lookupPreset(addr string) (preset, bool) {
	p, ok := presets[addr]
	return p, ok
}

func (p preset) supportsNetwork(name string) bool {
	for _, n := range p.Networks {
		if n == name {
			return true
		}
	}
	return false
}
