// Package mesh keeps a full mesh of direct audio connections between the
// participants of one voice channel.
//
// A Coordinator reacts to membership events and inbound signaling envelopes
// and drives one PeerLink per remote participant through the negotiation
// phases idle, offer-sent or offer-received, answer-exchanged and connected.
// All handlers run on a single event loop, so PeerLink transitions never
// race; platform callbacks are posted back onto the loop and dropped when
// their link has been torn down in the meantime.
//
// When both sides of a pair offer at once (glare), the participant with the
// lexicographically smaller id stays caller and the other answers.
//
// The signaling transport, the WebRTC engine, the capture device and the
// audio output are reached only through the interfaces in this package.
package mesh
