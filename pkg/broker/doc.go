// Package broker implements the registry and router at the heart of the
// pagebus messaging system.
//
// The broker lives in exactly one context, the hub. It is the single source
// of truth for which participants are currently reachable. Every other
// context talks to it through a transport.Port; participants in the hub
// context itself register in-process callbacks.
//
// The broker provides:
//
//   - Registration: unconditional upsert keyed by participant ID, last
//     write wins
//   - Routing: addressed messages reach the registered delivery target, or
//     are dropped when no target exists
//   - Existence checks: point-in-time registry lookups, answered
//     synchronously for transport peers and correlated by request ID
//   - An optional observer that sees every routed message before the
//     routing attempt
//
// Delivery is fire-and-forget: senders get no signal when a target is
// missing or its handler fails. An optional send-side retry policy
// (config.BrokerConfig) can park messages for targets that have not
// registered yet instead of dropping them.
//
// Example usage:
//
//	b, err := broker.New(config.DefaultBrokerConfig(), log)
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	// A hub-context participant registers a callback.
//	b.Register("sidebar", broker.LocalFunc(func(msg *types.Message) error {
//	    return handle(msg)
//	}))
//
//	// Transport peers are bound so their frames reach the broker.
//	b.Bind(port)
package broker
