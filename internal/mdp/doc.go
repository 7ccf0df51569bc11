// Package mdp frames MDP 3.0 packets and gives typed access to the few SBE
// fields the channel core needs.
//
// A packet is a 12 byte header (MsgSeqNum uint32, SendingTime uint64, both
// little endian) followed by messages. Each message is prefixed by a uint16
// MsgSize that includes itself, then the SBE header (BlockLength, TemplateID,
// SchemaID, Version), the root block and the repeating groups.
//
// Nothing in this package copies: Packet, Message and Block all alias the
// caller's buffer.
package mdp
