// Package sovereignty implements the risk gate every proposed action
// passes before execution: approve it, refuse it outright, or escalate
// it to a human.
package sovereignty

// Policy tunes the gate rules. Everything is matched on exact tokens,
// never substrings, to keep verdicts deterministic and reviewable.
type Policy struct {
	// ElevationCommands are program names whose invocation counts as
	// requesting elevated execution.
	ElevationCommands []string

	// PackageManagers paired with install/remove verbs mark capability
	// changes.
	PackageManagers []string
	InstallVerbs    []string
	RemoveVerbs     []string

	// PreapprovedPackages may be installed without escalation.
	PreapprovedPackages []string

	// CapabilityTools are registry tools that alter the available
	// capability set and therefore always escalate.
	CapabilityTools []string
}

// DefaultPolicy returns the stock rule set.
func DefaultPolicy() Policy {
	return Policy{
		ElevationCommands: []string{"sudo", "doas", "su"},
		PackageManagers: []string{
			"apt", "apt-get", "yum", "dnf", "apk", "pacman", "brew",
			"pip", "pip3", "npm", "gem", "cargo", "go",
		},
		InstallVerbs: []string{"install", "add"},
		RemoveVerbs:  []string{"remove", "uninstall", "purge", "erase"},
	}
}

func contains(set []string, s string) bool {
	for _, v := range set {
		if v == s {
			return true
		}
	}
	return false
}
