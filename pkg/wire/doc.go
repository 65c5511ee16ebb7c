// Package wire defines the CBOR wire format of the reporting interaction.
//
// All messages use CBOR (RFC 8949) maps with integer keys, encoded in
// canonical order so that equal messages produce equal bytes.
//
// # Message Types
//
// Every message travels inside an Envelope that names its type:
//   - ReadRequest: requester asks for a one-shot read
//   - SubscribeRequest: requester asks for a subscription
//   - SubscribeResponse: device confirms a subscription once primed
//   - ReportData: device delivers attribute and event data
//   - StatusResponse: requester acknowledges a ReportData
//
// # Chunking
//
// A list attribute too large for one report is split across several
// ReportData messages. The first item carries an empty list; every
// following item has Append set and carries exactly one element.
// Reassemble applies such items and yields the logical list.
//
// # Nullable vs Absent
//
// Data is absent on an AttributeReport that carries a failure Status.
// A present Data holding CBOR null means the attribute value is null.
package wire
