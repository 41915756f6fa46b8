/*
Package framing offers the RFC5734 EPP data unit framing.

Each EPP data unit is a 32 bit, network byte order total length
(counting the four header octets) followed by one XML document.

SplitLength returns a bufio.SplitFunc for use with a *bufio.Scanner,
emitting one whole document per token. It returns io.ErrUnexpectedEOF
when input terminates other than at a data unit boundary.
*/
package framing
