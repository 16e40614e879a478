// Package extract derives size metrics from fetched title content.
package extract

import (
	"strings"

	"github.com/regwatch/regvelocity/internal/regdata"
)

// Extractor turns fetched content into the fixed metric set persisted per snapshot.
type Extractor struct {
	fingerprinter regdata.Fingerprinter
}

// New builds an Extractor using the given fingerprinter.
func New(fp regdata.Fingerprinter) *Extractor {
	return &Extractor{fingerprinter: fp}
}

// Extract computes byte size, word count and fingerprint for the content.
// A structural summary carries an authoritative size reported by the upstream;
// raw content is measured locally. Empty content yields zero metrics rather
// than an error; the caller decides whether a zero-size result is persisted.
func (e *Extractor) Extract(content regdata.Content) regdata.Metrics {
	if content.Kind == regdata.KindStructure {
		return regdata.Metrics{ByteSize: content.Structure.ReportedSize}
	}
	if len(content.Raw) == 0 {
		return regdata.Metrics{}
	}
	cleaned := CleanText(string(content.Raw))
	m := regdata.Metrics{
		ByteSize:  int64(len(content.Raw)),
		WordCount: countWords(cleaned),
	}
	if e.fingerprinter != nil && cleaned != "" {
		m.Fingerprint = e.fingerprinter.Fingerprint([]byte(cleaned))
	}
	return m
}

// CleanText strips markup from raw content: anything between '<' and '>' is
// replaced by whitespace and consecutive whitespace is collapsed to single
// spaces. The result is trimmed.
func CleanText(raw string) string {
	var b strings.Builder
	b.Grow(len(raw))
	inTag := false
	for _, r := range raw {
		switch {
		case r == '<':
			inTag = true
			b.WriteByte(' ')
		case r == '>':
			inTag = false
		case inTag:
			// Tag contents count as whitespace, already emitted above.
		default:
			b.WriteRune(r)
		}
	}
	return strings.Join(strings.Fields(b.String()), " ")
}

func countWords(cleaned string) int64 {
	if cleaned == "" {
		return 0
	}
	return int64(len(strings.Split(cleaned, " ")))
}
