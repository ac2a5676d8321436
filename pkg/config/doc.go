// Package config provides configuration management for the IVXP SDK.
//
// This package defines the Config structure that controls client and provider
// behavior: network settings, RPC endpoint, signing key, provider catalog and
// policies, client polling, storage backends, and timeouts.
//
// # Basic Configuration
//
// The minimum required configuration needs an RPC endpoint:
//
//	cfg := &config.Config{
//		RPCAddr: "https://sepolia.base.org",
//		Network: config.BaseSepolia,
//	}
//
// # Network Selection
//
// Two predefined networks are available:
//
//	config.BaseSepolia - Base Sepolia testnet (ChainID: 84532)
//	config.BaseMainnet - Base mainnet (ChainID: 8453)
//
// Setting only Network.Name selects the matching preset during Validate.
//
// # Private Key
//
// A private key is required to pay for services and to sign delivery
// requests. Providers need one to derive their wallet address when
// provider.wallet_address is not set. Prefer the environment:
//
//	export IVXP_PRIVATE_KEY=0x...
//
// # Loading From a File
//
//	cfg, err := config.Load("ivxp.yaml")
//
// Load parses YAML, applies IVXP_PRIVATE_KEY, IVXP_RPC_URL and
// IVXP_REDIS_ADDR overrides, then calls Validate. Durations use Go syntax
// ("90s", "15m").
//
//	rpc_addr: https://sepolia.base.org
//	network:
//	  name: base-sepolia
//	provider:
//	  name: research-bot
//	  listen_addr: ":5000"
//	  services:
//	    - type: research
//	      base_price_usdc: "50"
//	      estimated_delivery_hours: 8
//	  order_store:
//	    backend: sqlite
//	    sqlite_path: /var/lib/ivxp/orders.db
//
// # Timeouts
//
// Zero values are replaced with defaults via WithDefaults().
//
// # Validation
//
// Validate() will:
//   - Set the default network to Base Sepolia if not provided
//   - Return error if RPCAddr is empty
//   - Fill provider and client defaults (prefix /ivxp, quote TTL 1h,
//     signature max age 15m, memory backends)
//   - Reject duplicate service types and non-positive or over-precise prices
//
// # Thread Safety
//
// Config instances should be created once and not modified after passing to
// sdk.NewClient or sdk.NewProvider.
package config
