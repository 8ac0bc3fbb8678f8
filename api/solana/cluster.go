package solana

import (
	"fmt"
	"os"
	"strings"

	solanarpc "github.com/gagliardetto/solana-go/rpc"
)

// Cluster monikers accepted by SOLANA_CLUSTER and --cluster.
const (
	Localnet    = "localnet"
	Devnet      = "devnet"
	Testnet     = "testnet"
	MainnetBeta = "mainnet-beta"
)

// DefaultCluster is the local test validator.
const DefaultCluster = Localnet

// DefaultRPCURL is the RPC endpoint of DefaultCluster.
const DefaultRPCURL = "http://127.0.0.1:8899"

// CAIP-2 chain IDs advertised in X-Blockchain-Ids.
const (
	MainnetChainID = "solana:5eykt4UsFv8P8NJdTREpY1vzqKqZKvdp"
	DevnetChainID  = "solana:EtWTRABZaYq6iMfeYKouRu166VU2xqa1"
	TestnetChainID = "solana:4uhcVJyU9pJkvQyS88uRDiswHXSCkY3z"
)

// RPCURL returns the public RPC endpoint for a cluster moniker.
func RPCURL(cluster string) (string, error) {
	switch normalize(cluster) {
	case Localnet:
		return solanarpc.LocalNet_RPC, nil
	case Devnet:
		return solanarpc.DevNet_RPC, nil
	case Testnet:
		return solanarpc.TestNet_RPC, nil
	case MainnetBeta:
		return solanarpc.MainNetBeta_RPC, nil
	}
	return "", fmt.Errorf("unknown cluster %q", cluster)
}

// ChainID returns the CAIP-2 identifier of a cluster. Localnet has none.
func ChainID(cluster string) (string, bool) {
	switch normalize(cluster) {
	case Devnet:
		return DevnetChainID, true
	case Testnet:
		return TestnetChainID, true
	case MainnetBeta:
		return MainnetChainID, true
	}
	return "", false
}

// GetCluster returns SOLANA_CLUSTER, or DefaultCluster when unset.
func GetCluster() string {
	if c := os.Getenv("SOLANA_CLUSTER"); c != "" {
		return normalize(c)
	}
	return DefaultCluster
}

// GetRPCURL returns SOLANA_RPC_URL when set, otherwise the endpoint of
// GetCluster, falling back to DefaultRPCURL for an unknown moniker.
func GetRPCURL() string {
	if url := os.Getenv("SOLANA_RPC_URL"); url != "" {
		return url
	}
	url, err := RPCURL(GetCluster())
	if err != nil {
		return DefaultRPCURL
	}
	return url
}

func normalize(cluster string) string {
	c := strings.ToLower(strings.TrimSpace(cluster))
	if c == "mainnet" {
		return MainnetBeta
	}
	return c
}
