// Package transport carries reads and subscriptions over TCP.
//
// Messages are wire.Envelope values in length-prefixed frames:
//
//	┌────────────────────────────────┐
//	│   wire.Envelope (CBOR)         │
//	├────────────────────────────────┤
//	│   Length-Prefix Framing (4B)   │
//	├────────────────────────────────┤
//	│   optional TLS                 │
//	├────────────────────────────────┤
//	│           TCP                  │
//	└────────────────────────────────┘
//
// A connection multiplexes exchanges. The requester picks the exchange
// number of a ReadRequest or SubscribeRequest; every later message of that
// read or subscription carries it.
//
// # Device side
//
// Server admits requests into a Host (usually a reporting.Host). Each
// admitted request gets an exchange implementing reporting.Exchange:
// reports go out as ReportData messages with a fresh sequence number and
// the engine learns of delivery when the requester answers with a
// StatusResponse echoing that number. A report that is not acknowledged
// within the ack timeout fails its transaction. A StatusResponse with
// sequence 0 and a failure status cancels the exchange. Once a
// subscription's priming reports are acknowledged the server sends a
// SubscribeResponse.
//
// # Requester side
//
// ClientConn.Read and ClientConn.Subscribe acknowledge reports as they
// arrive and reassemble chunked lists with wire.Accumulator.
package transport
