// Package filter implements the content/binding matching predicate: pure
// functions with no storage or network dependency, used by the storage
// implementations (deciding which content a binding cares about) and the
// coordinator's query surface (listing content by filter).
package filter
