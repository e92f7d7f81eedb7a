// Package types provides shared type definitions for the Bombe code graph
// engine.
//
// This package defines the records that flow between the scanner, extractor,
// pipeline, store, and query engines, plus the request/response shapes the
// tool layer serializes.
//
// # Core Types
//
// SymbolRecord represents a code construct (function, class, method, ...)
// extracted from source via tree-sitter parsing:
//
//	sym := types.SymbolRecord{
//	    Name:          "authenticate",
//	    QualifiedName: "auth.service.authenticate",
//	    Kind:          types.KindFunction,
//	    FilePath:      "auth/service.py",
//	}
//
// EdgeRecord represents a typed directed relation between two graph
// endpoints, each either a symbol id or a file id:
//
//	edge := types.EdgeRecord{
//	    SourceID:     callerID,
//	    TargetID:     calleeID,
//	    SourceType:   types.EndpointSymbol,
//	    TargetType:   types.EndpointSymbol,
//	    Relationship: types.RelCalls,
//	}
//
// Extraction bundles everything the extractor produces for a single file.
// The extractor is pure: it never touches the filesystem or the store.
package types
