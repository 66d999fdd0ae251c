// Package taskfactory synthesizes tasks from a matched (binding, content)
// pair: deterministic identity via pkg/hashid and output table resolution
// from the binding's declared mappings.
package taskfactory
