package treesync

import "github.com/kettleworks/treesync/treetype"

// Aliases for the shared types in treetype, so callers of the engine's
// public API rarely need a second import. The definitions live in treetype
// to keep the infrastructure sub-packages free of a dependency on this
// package.
type (
	// ResourceRecord is the relational row shared by every resource kind.
	ResourceRecord = treetype.ResourceRecord
	// Actor is the user an operation is attributed to.
	Actor = treetype.Actor
	// TokenField identifies one of a record's version tokens.
	TokenField = treetype.TokenField
	// AccessLevel is the coarse access level of the permission join.
	AccessLevel = treetype.AccessLevel
)

// The version token fields, re-exported alongside TokenField.
const (
	TokenMetadata = treetype.TokenMetadata
	TokenFile     = treetype.TokenFile
	TokenInput    = treetype.TokenInput
	TokenOutput   = treetype.TokenOutput
)
