package models

// ConfigError reports an invalid run configuration: an unknown deformation
// method, a window/overlap combination violating the grid preconditions, or a
// pass list inconsistent with the declared iteration count. Configuration
// errors are detected at pass entry and abort the whole pair's pipeline; no
// partial field is ever returned alongside one.
type ConfigError struct {
	Reason string
}

func (e *ConfigError) Error() string {
	return "invalid configuration: " + e.Reason
}

// ContractError reports a displacement field that does not satisfy a
// component's contract, most notably a field without a per-entry validity
// channel handed to a component that must distinguish "excluded" from
// "computed as zero".
type ContractError struct {
	Reason string
}

func (e *ContractError) Error() string {
	return "contract violation: " + e.Reason
}
