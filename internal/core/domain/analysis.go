package domain

// FileKind is the container format detected for an upload.
type FileKind string

const (
	KindCSV     FileKind = "csv"
	KindXLSX    FileKind = "xlsx"
	KindXML     FileKind = "xml"
	KindPDF     FileKind = "pdf"
	KindImage   FileKind = "image"
	KindUnknown FileKind = "unknown"
)

type DecisionLogEntry struct {
	Step    string         `json:"step"`
	Outcome string         `json:"outcome"`
	Details map[string]any `json:"details,omitempty"`
}

// AnalysisResult is the SmartRouter output for one file.
type AnalysisResult struct {
	SuggestedParser      string              `json:"suggested_parser"`
	SuggestedDocType     DocType             `json:"suggested_doc_type"`
	Confidence           float64             `json:"confidence"`
	FileKind             FileKind            `json:"file_kind"`
	HeadersSample        []string            `json:"headers_sample"`
	SampleRows           []map[string]any    `json:"sample_rows"`
	MappingSuggestion    map[string]string   `json:"mapping_suggestion,omitempty"`
	DecisionLog          []DecisionLogEntry  `json:"decision_log"`
	RequiresConfirmation bool                `json:"requires_confirmation"`
	AvailableParsers     []string            `json:"available_parsers"`
	Probabilities        map[DocType]float64 `json:"probabilities"`
	AIEnhanced           bool                `json:"ai_enhanced"`
	AIProvider           string              `json:"ai_provider,omitempty"`
	CacheHit             bool                `json:"cache_hit"`
}

// OracleSuggestion is what an AI-assist oracle returns for a low-confidence file.
type OracleSuggestion struct {
	SuggestedParser string              `json:"suggested_parser"`
	Confidence      float64             `json:"confidence"`
	Reasoning       string              `json:"reasoning"`
	Probabilities   map[DocType]float64 `json:"probabilities"`
}

type AnalyzeRequest struct {
	Content     []byte `json:"-"`
	Filename    string `json:"filename"`
	ContentType string `json:"content_type,omitempty"`
	TenantID    string `json:"tenant_id,omitempty"`
}
