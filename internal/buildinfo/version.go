package buildinfo

import "runtime/debug"

// IntegrationVersion returns the build version or revision for the running
// binary. It is recorded as the integration-version provenance annotation
// on every managed resource.
func IntegrationVersion() string {
	info, ok := debug.ReadBuildInfo()
	if ok {
		if info.Main.Version != "" && info.Main.Version != "(devel)" {
			return info.Main.Version
		}
		for _, setting := range info.Settings {
			if setting.Key == "vcs.revision" && setting.Value != "" {
				return setting.Value
			}
		}
	}
	return "dev"
}
