// Package export provides period backup, restore and report download.
//
// # Overview
//
// The export package lets a user download their occupancy history and
// restore it later. This is useful for:
//   - Backing up a user's periods before moving between storage backends
//   - Analysing occupancy in a spreadsheet
//   - Handing out a printable usage summary
//
// # Supported Formats
//
// JSON Format:
//   - One record per stored period with room name, bounds and value
//   - Includes export metadata (timestamp, user, bounds, count, version)
//   - Can be re-imported; periods already stored are skipped
//
// CSV Format:
//   - One row per period with store-native timestamps and duration in minutes
//   - Export-only
//
// Report Format:
//   - The usage report of the 7 days and 4 weeks around a date
//   - Durations rendered as "1 h 5 min", with a total row per section
//
// # HTTP API
//
// Export endpoint: GET /v1/users/{user}/export
// Query parameters:
//   - format: "json", "csv" or "report" (default: json)
//   - start, end: only periods overlapping [start, end) (json and csv)
//   - date: report anchor day, YYYY-MM-DD (report)
//
// Example:
//
//	curl "http://localhost:8080/v1/users/alice/export?format=csv&start=2024-05-01T00:00:00Z" \
//	  -o alice.csv
//
// Import endpoint: POST /v1/users/{user}/import
// Body: a JSON export, Content-Type application/json.
//
//	curl -X POST -H "Content-Type: application/json" \
//	  --data-binary @alice.json http://localhost:8080/v1/users/alice/import
//
// Rooms are matched by name and created for the target user when missing,
// so an export of one user can seed another.
package export
