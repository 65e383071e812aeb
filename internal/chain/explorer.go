package chain

import "fmt"

// explorerBases maps (chain, network) to a block-explorer base URL.
var explorerBases = map[string]map[string]string{
	"ethereum": {
		"mainnet": "https://etherscan.io",
		"sepolia": "https://sepolia.etherscan.io",
	},
	"arbitrum": {
		"arbitrum-one": "https://arbiscan.io",
		"mainnet":      "https://arbiscan.io",
	},
	"optimism": {
		"mainnet": "https://optimistic.etherscan.io",
	},
	"base": {
		"mainnet": "https://basescan.org",
	},
	"polygon": {
		"mainnet": "https://polygonscan.com",
	},
	"bsc": {
		"mainnet": "https://bscscan.com",
	},
	"solana": {
		"mainnet-beta": "https://solscan.io",
	},
}

// BuildExplorerURL returns the explorer link for a transaction, empty when
// the chain or hash is unknown.
func BuildExplorerURL(chain, network, txHash string) string {
	if txHash == "" {
		return ""
	}
	networks, ok := explorerBases[chain]
	if !ok {
		return ""
	}
	base, ok := networks[network]
	if !ok {
		if base, ok = networks["mainnet"]; !ok {
			return ""
		}
	}
	return fmt.Sprintf("%s/tx/%s", base, txHash)
}
