package types

import (
	"crypto/sha256"
	"encoding/hex"
)

// Language tags form a closed set; anything else is not indexed.
const (
	LangPython     = "python"
	LangTypeScript = "typescript"
	LangJava       = "java"
	LangGo         = "go"
)

// SymbolKind values stored in the symbols table.
const (
	KindFunction  = "function"
	KindClass     = "class"
	KindMethod    = "method"
	KindInterface = "interface"
	KindConstant  = "constant"
)

// Edge endpoint types.
const (
	EndpointSymbol = "symbol"
	EndpointFile   = "file"
)

// Edge relationships.
const (
	RelCalls         = "CALLS"
	RelImports       = "IMPORTS"
	RelImportsSymbol = "IMPORTS_SYMBOL"
	RelExtends       = "EXTENDS"
	RelImplements    = "IMPLEMENTS"
	RelDefines       = "DEFINES"
	RelHasMethod     = "HAS_METHOD"
)

// FileRecord is one row of the files table.
type FileRecord struct {
	Path        string `json:"path"` // repo-relative, POSIX separators
	Language    string `json:"language"`
	ContentHash string `json:"content_hash"` // SHA-256 hex
	SizeBytes   int64  `json:"size_bytes"`
}

// ParameterRecord belongs to a symbol by position. Parameters are replaced
// wholesale when the parent symbol is re-extracted.
type ParameterRecord struct {
	Name         string `json:"name"`
	Type         string `json:"type,omitempty"`
	Position     int    `json:"position"`
	DefaultValue string `json:"default_value,omitempty"`
}

// SymbolRecord is one row of the symbols table. ID is zero until the store
// assigns it during merge; ParentQualifiedName ties a method to its owning
// class within the same file and is resolved to parent_symbol_id at insert.
type SymbolRecord struct {
	ID                  int64             `json:"id,omitempty"`
	Name                string            `json:"name"`
	QualifiedName       string            `json:"qualified_name"`
	Kind                string            `json:"kind"`
	FilePath            string            `json:"file_path"`
	StartLine           int               `json:"start_line"`
	EndLine             int               `json:"end_line"`
	Signature           string            `json:"signature,omitempty"`
	ReturnType          string            `json:"return_type,omitempty"`
	Visibility          string            `json:"visibility,omitempty"`
	IsAsync             bool              `json:"is_async,omitempty"`
	IsStatic            bool              `json:"is_static,omitempty"`
	ParentQualifiedName string            `json:"-"`
	ParentID            int64             `json:"parent_symbol_id,omitempty"`
	Docstring           string            `json:"docstring,omitempty"`
	PageRank            float64           `json:"pagerank_score,omitempty"`
	Parameters          []ParameterRecord `json:"parameters,omitempty"`
}

// IdentityKey returns the collision-safe identity tuple of a symbol:
// (qualified_name, file_path, start_line, end_line, signature_hash).
func (s SymbolRecord) IdentityKey() string {
	sig := sha256.Sum256([]byte(s.Signature))
	return s.QualifiedName + "\x00" + s.FilePath + "\x00" +
		itoa(s.StartLine) + "\x00" + itoa(s.EndLine) + "\x00" +
		hex.EncodeToString(sig[:8])
}

func itoa(v int) string {
	if v == 0 {
		return "0"
	}
	neg := v < 0
	if neg {
		v = -v
	}
	var buf [20]byte
	i := len(buf)
	for v > 0 {
		i--
		buf[i] = byte('0' + v%10)
		v /= 10
	}
	if neg {
		i--
		buf[i] = '-'
	}
	return string(buf[i:])
}

// EdgeRecord is one row of the edges table.
// (SourceID, SourceType, TargetID, TargetType, Relationship) is unique.
type EdgeRecord struct {
	SourceID     int64   `json:"source_id"`
	TargetID     int64   `json:"target_id"`
	SourceType   string  `json:"source_type"`
	TargetType   string  `json:"target_type"`
	Relationship string  `json:"relationship"`
	FilePath     string  `json:"file_path"` // file where the relation appears
	LineNumber   int     `json:"line_number"`
	Confidence   float64 `json:"confidence"`
}

// ExternalDepRecord is an import that did not resolve to an in-repo file.
type ExternalDepRecord struct {
	FilePath        string `json:"file_path"`
	ImportStatement string `json:"import_statement"`
	ModuleName      string `json:"module_name"`
	LineNumber      int    `json:"line_number"`
}

// ImportRecord is an import statement as extracted, before resolution.
type ImportRecord struct {
	FilePath        string   `json:"file_path"`
	ImportStatement string   `json:"import_statement"`
	ModuleName      string   `json:"module_name"`
	ImportedNames   []string `json:"imported_names,omitempty"`
	LineNumber      int      `json:"line_number"`
}

// CallSite is a textual invocation found inside a function body that may
// resolve to a CALLS edge.
type CallSite struct {
	CalleeName   string `json:"callee_name"`
	LineNumber   int    `json:"line_number"`
	ReceiverName string `json:"receiver_name,omitempty"`
}

// TypeRef records an inheritance clause: the subtype's qualified name plus
// the supertype's textual form, to be resolved against the symbol table.
type TypeRef struct {
	SubtypeQualifiedName string `json:"subtype_qualified_name"`
	SupertypeName        string `json:"supertype_name"`
	Relationship         string `json:"relationship"` // EXTENDS or IMPLEMENTS
	LineNumber           int    `json:"line_number"`
}

// Diagnostic is a non-fatal indexing failure persisted per run.
type Diagnostic struct {
	Stage    string `json:"stage"`
	Category string `json:"category"`
	Severity string `json:"severity"`
	FilePath string `json:"file_path,omitempty"`
	Language string `json:"language,omitempty"`
	Message  string `json:"message"`
	Hint     string `json:"hint,omitempty"`
}

// Extraction is the pure extractor output for a single file.
type Extraction struct {
	FilePath    string
	Language    string
	Source      string
	Symbols     []SymbolRecord
	Imports     []ImportRecord
	CallSites   []CallSite
	TypeRefs    []TypeRef
	Diagnostics []Diagnostic

	// Per-file telemetry.
	SourceBytes int64
	NodeCount   int
	ElapsedMS   int64
}

// FileChange describes one entry of an incremental changeset.
// Status is git-style: "A" added, "M" modified, "D" deleted, "R" renamed.
type FileChange struct {
	Status  string `json:"status"`
	Path    string `json:"path"`
	OldPath string `json:"old_path,omitempty"`
}

// ProgressSnapshot is a monotonic progress sample usable by pollers.
type ProgressSnapshot struct {
	Step        string `json:"step"`
	Completed   int    `json:"completed"`
	Total       int    `json:"total"`
	ProgressPct int    `json:"progress_pct"`
	ElapsedMS   int64  `json:"elapsed_ms,omitempty"`
}

// IndexStats summarizes one indexing run.
type IndexStats struct {
	RunID          string             `json:"run_id"`
	Mode           string             `json:"mode"` // "full" or "incremental"
	FilesSeen      int                `json:"files_seen"`
	FilesIndexed   int                `json:"files_indexed"`
	FilesSkipped   int                `json:"files_skipped"`
	FilesDeleted   int                `json:"files_deleted"`
	SymbolsIndexed int                `json:"symbols_indexed"`
	EdgesIndexed   int                `json:"edges_indexed"`
	AmbiguousSites int                `json:"ambiguous_sites"`
	DroppedSites   int                `json:"dropped_sites"`
	ElapsedMS      int64              `json:"elapsed_ms"`
	Progress       []ProgressSnapshot `json:"progress_snapshots,omitempty"`
	Diagnostics    map[string]int     `json:"diagnostics_summary,omitempty"`
}
