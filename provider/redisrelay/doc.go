// Package redisrelay provides the outbound relay provider over Redis Pub/Sub.
//
// Two relays pointed at mirrored channel pairs form a bridge between buses:
// what one publishes on its outbound channel, the other receives on its
// inbound channel and re-injects locally under the "agora." type namespace.
//
// Relayed-in messages enter the local bus with Source set to the relay's own
// provider id. Combined with the default router's source exclusion and its
// loopback suppression for "agora." types, this keeps bridged traffic from
// ping-ponging between the wire and the local echo provider.
package redisrelay
