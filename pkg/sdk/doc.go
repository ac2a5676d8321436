// Package sdk is the high-level entry point for IVXP participants.
//
// # Quick Start
//
// Load a config, build the SDK, then a client:
//
//	cfg, err := config.Load("ivxp.yaml")
//	if err != nil {
//		log.Fatal(err)
//	}
//	ivxp, err := sdk.NewSDK(ctx, cfg)
//	if err != nil {
//		log.Fatal(err)
//	}
//	defer ivxp.Close()
//
//	c, err := ivxp.NewClient()
//	res, err := c.RequestService(ctx, client.Request{
//		ProviderURL: "https://provider.example",
//		ServiceType: "research",
//		Description: "state of agent payments",
//		Budget:      decimal.NewFromInt(25),
//	})
//
// or a provider node:
//
//	node, err := ivxp.NewProvider(provider.WithHandler("research", myHandler))
//	err = node.Run(ctx) // serves until ctx is done, then drains orders
//
// # Stores
//
// provider.order_store.backend selects memory, sqlite or redis;
// provider.deliverables.backend selects memory or ipfs (a Kubo RPC node).
//
// # Logging
//
// A console zap logger is installed as the global logger at init. Setting
// debug in the config, or calling SetupLogger(true), switches to debug level.
package sdk
