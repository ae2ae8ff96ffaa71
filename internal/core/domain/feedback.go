package domain

import "time"

// FeedbackEntry records one human confirmation or correction of a classification.
type FeedbackEntry struct {
	ID                 string    `json:"id"`
	TenantID           string    `json:"tenant_id"`
	BatchID            string    `json:"batch_id,omitempty"`
	Filename           string    `json:"filename"`
	Headers            []string  `json:"headers"`
	OriginalParser     string    `json:"original_parser"`
	OriginalDocType    DocType   `json:"original_doc_type"`
	OriginalConfidence float64   `json:"original_confidence"`
	CorrectedParser    string    `json:"corrected_parser"`
	CorrectedDocType   DocType   `json:"corrected_doc_type"`
	Actor              string    `json:"actor,omitempty"`
	CreatedAt          time.Time `json:"created_at"`
}

// WasCorrected reports whether the human changed the original decision.
func (f FeedbackEntry) WasCorrected() bool {
	return f.OriginalParser != f.CorrectedParser || f.OriginalDocType != f.CorrectedDocType
}

type DocTypeAccuracy struct {
	Total        int     `json:"total"`
	Corrected    int     `json:"corrected"`
	AccuracyRate float64 `json:"accuracy_rate"`
}

type ParserCorrections struct {
	ParserID string `json:"parser_id"`
	Count    int    `json:"count"`
}

type AccuracyStats struct {
	Total                int                         `json:"total"`
	Correct              int                         `json:"correct"`
	Corrected            int                         `json:"corrected"`
	AccuracyRate         float64                     `json:"accuracy_rate"`
	ByDocType            map[DocType]DocTypeAccuracy `json:"by_doc_type"`
	MostCorrectedParsers []ParserCorrections         `json:"most_corrected_parsers"`
}

type TrainingSample struct {
	Filename string   `json:"filename"`
	Headers  []string `json:"headers"`
	Parser   string   `json:"parser"`
	DocType  DocType  `json:"doc_type"`
}
