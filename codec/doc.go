/*
Package codec serializes EPP commands to XML documents and parses
server documents into Greeting and Response values.

The Codec interface is the boundary between the session engine and
the object layer. The XML implementation in this package handles
the protocol level elements (hello, login, logout, poll) itself and
carries object commands and extensions built elsewhere verbatim via
the Raw command, so domain, host and contact builders need only
produce the XML of their <command> child.

Commands are validated before serialization; Encode fails without
writing anything when a required field is missing.
*/
package codec
