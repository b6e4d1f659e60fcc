// Package toolchain runs the compiler and verifier subprocesses against a
// prepared workspace, bounded by a process-wide permit pool.
package toolchain

import (
	_ "embed"
	"fmt"

	"gopkg.in/yaml.v3"
)

//go:embed versions.yaml
var manifestRaw []byte

type manifest struct {
	ZksolcVersions     []string          `yaml:"zksolc_versions"`
	DefaultSolcVersion string            `yaml:"default_solc_version"`
	Networks           map[string]string `yaml:"networks"`
}

var allowed manifest

func init() {
	if err := yaml.Unmarshal(manifestRaw, &allowed); err != nil {
		panic(fmt.Sprintf("toolchain: bad embedded manifest: %v", err))
	}
}

// SupportedVersion reports whether v is an allow-listed zksolc version.
func SupportedVersion(v string) bool {
	for _, s := range allowed.ZksolcVersions {
		if s == v {
			return true
		}
	}
	return false
}

// SupportedVersions returns the allow-list for logs and error messages.
func SupportedVersions() []string {
	out := make([]string, len(allowed.ZksolcVersions))
	copy(out, allowed.ZksolcVersions)
	return out
}

// NetworkName maps a request network to the hardhat network name.
func NetworkName(network string) (string, bool) {
	name, ok := allowed.Networks[network]
	return name, ok
}

// DefaultSolcVersion is the solc version used when a verify request omits one.
func DefaultSolcVersion() string { return allowed.DefaultSolcVersion }
