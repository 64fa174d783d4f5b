// Package generation produces the explanation, suggested correction and risk
// summary attached to an audit report with violations.
//
// Generation is an enrichment. A Generator that fails returns an empty
// Explanation together with the error, and callers keep the report.
package generation
