package history

import "time"

// Document is the persisted history format: parallel bounded arrays plus the
// full records, oldest first.
type Document struct {
	Version     int64     `json:"version"`
	LastUpdated time.Time `json:"lastUpdated"`
	Titles      []string  `json:"titles"`
	Hashes      []string  `json:"hashes"`
	Topics      []string  `json:"topics"`
	Records     []Record  `json:"records"`
}

// NewDocument builds a document from records, oldest first.
func NewDocument(records []Record, version int64, updated time.Time) Document {
	doc := Document{
		Version:     version,
		LastUpdated: updated.UTC(),
		Titles:      make([]string, len(records)),
		Hashes:      make([]string, len(records)),
		Topics:      make([]string, len(records)),
		Records:     append([]Record{}, records...),
	}
	for i, r := range records {
		doc.Titles[i] = r.Title
		doc.Hashes[i] = r.ContentHash
		doc.Topics[i] = r.Topic
	}
	return doc
}
