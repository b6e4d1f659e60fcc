package toolchain

import (
	"fmt"
	"strings"
	"text/template"
)

// ConfigFileName is the toolchain config rendered into every workspace.
const ConfigFileName = "hardhat.config.ts"

// The rendered config is deterministic for a given (version, sourcePath,
// solcVersion) triple so repeated runs of the same job are byte-identical.
var hardhatConfigTmpl = template.Must(template.New(ConfigFileName).Parse(`import "@matterlabs/hardhat-zksync-solc";
import "@matterlabs/hardhat-zksync-verify";

module.exports = {
  zksolc: {
    version: "{{ .ZksolcVersion }}",
    settings: {},
  },
  defaultNetwork: "zkSyncTestnet",
  networks: {
    zkSyncTestnet: {
      url: "https://sepolia.era.zksync.dev",
      ethNetwork: "sepolia",
      zksync: true,
      verifyURL: "https://explorer.sepolia.era.zksync.dev/contract_verification",
    },
    zkSyncMainnet: {
      url: "https://mainnet.era.zksync.io",
      ethNetwork: "mainnet",
      zksync: true,
      verifyURL: "https://zksync2-mainnet-explorer.zksync.io/contract_verification",
    },
  },
{{- if .SourcePath }}
  paths: {
    sources: "{{ .SourcePath }}",
  },
{{- end }}
  solidity: {
    version: "{{ .SolcVersion }}",
  },
};
`))

type hardhatConfig struct {
	ZksolcVersion string
	SolcVersion   string
	SourcePath    string
}

// renderHardhatConfig produces the workspace config file contents.
func renderHardhatConfig(zksolcVersion, solcVersion string, sourcePath *string) (string, error) {
	cfg := hardhatConfig{
		ZksolcVersion: zksolcVersion,
		SolcVersion:   solcVersion,
	}
	if cfg.SolcVersion == "" {
		cfg.SolcVersion = DefaultSolcVersion()
	}
	if sourcePath != nil {
		cfg.SourcePath = *sourcePath
	}
	var b strings.Builder
	if err := hardhatConfigTmpl.Execute(&b, cfg); err != nil {
		return "", fmt.Errorf("op=toolchain.renderHardhatConfig: %w", err)
	}
	return b.String(), nil
}
