package rpc

// Minimal ABI fragments for the view functions the detector reads.
const (
	// NameABI is the standard ERC-20 name() getter.
	NameABI = `[{"name":"name","type":"function","stateMutability":"view","inputs":[],"outputs":[{"type":"string"}]}]`

	// VersionABI is the non-standard version() getter some tokens expose.
	VersionABI = `[{"name":"version","type":"function","stateMutability":"view","inputs":[],"outputs":[{"type":"string"}]}]`

	// EIP712DomainABI is the EIP-5267 eip712Domain() getter; the third
	// output is the domain version.
	EIP712DomainABI = `[{"name":"eip712Domain","type":"function","stateMutability":"view","inputs":[],"outputs":[{"type":"bytes1"},{"type":"string"},{"type":"string"},{"type":"uint256"},{"type":"address"},{"type":"bytes32"},{"type":"uint256[]"}]}]`

	// ImplementationABI is the legacy proxy implementation() getter.
	ImplementationABI = `[{"name":"implementation","type":"function","stateMutability":"view","inputs":[],"outputs":[{"type":"address"}]}]`

	// SupportsInterfaceABI is the ERC-165 probe.
	SupportsInterfaceABI = `[{"name":"supportsInterface","type":"function","stateMutability":"view","inputs":[{"type":"bytes4"}],"outputs":[{"type":"bool"}]}]`
)
