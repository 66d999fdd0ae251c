// Package schema compiles and validates the subset of JSON Schema that
// extractor input parameter declarations need: type, required, properties
// and enum. No compile/validate library for arbitrary JSON Schema documents
// appears anywhere in the coordinator's dependency set, so this package
// implements that subset directly over encoding/json.
package schema
