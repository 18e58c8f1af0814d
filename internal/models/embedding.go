package models

// Chunk is one window of a source document, ready to be embedded and stored
type Chunk struct {
	Source    string    `json:"source"`
	Sequence  int       `json:"sequence"`
	Header    string    `json:"header"`
	Text      string    `json:"text"`
	Embedding []float32 `json:"-"`
}

// Hit is a single retrieval result. Header and Source are empty when the
// index schema does not carry them.
type Hit struct {
	Text   string
	Header string
	Source string
	Score  float32
}
