package neptune

import "runtime/debug"

// IntegrationVersionKey is where the plugin version is recorded in a run.
const IntegrationVersionKey = "source_code/integrations/kedro-neptune"

// Version is set at build time with
// -ldflags "-X github.com/spachava753/kedro-neptune/internal/neptune.Version=v1.2.3".
var Version = ""

// IntegrationVersion returns Version, falling back to the module version
// recorded in the binary.
func IntegrationVersion() string {
	if Version != "" {
		return Version
	}
	if info, ok := debug.ReadBuildInfo(); ok && info.Main.Version != "" {
		return info.Main.Version
	}
	return "(devel)"
}
