// Package core moves tabular data between ClickHouse and delimited text.
//
// It holds the transfer engine and everything it owns, independent of any
// transport. The web server and the CLI both drive it through [Service].
//
// # Architecture
//
//   - [Pool]: one live client per connection fingerprint, dialed on first
//     use and closed after an idle window by a background sweep.
//   - [StreamRegistry]: uploaded payloads held behind opaque handles until
//     an import consumes them or they expire.
//   - [SchemaProbe]: the fixed introspection queries (tables, columns,
//     DESCRIBE, preview).
//   - [Service]: export, import and the [Service.Transfer] dispatcher.
//
// # Export
//
// [Service.ExportTo] writes a header line and one line per row straight
// from the result cursor, so memory use does not grow with the table.
// [Service.Export] collects the same output into the result.
//
// # Import
//
// [Service.Import] reads the file line by line. The header row is matched
// against the table's live columns; unknown columns are dropped. Rows are
// inserted in chunks of [Options.ChunkSize]. A failed chunk stops the
// import and earlier chunks stay committed; the result reports how many
// rows were written.
//
// # Error Handling
//
// Failures are typed ([ConnectivityError], [SchemaError],
// [MalformedInputError], [PartialWriteError]) and mapped to user-facing
// messages with [MapError]:
//
//   - CONN001-CONN004: connectivity
//   - SCH001-SCH003: missing tables and columns
//   - IN001-IN007: malformed input
//   - WR001: partial writes
//   - XFER001-XFER003: timeouts, limits, cancellation
package core
