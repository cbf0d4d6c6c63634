// Package history buffers the raw per-reading rows of the history artifact.
package history

import "strings"

// Header is the first line of the history artifact
const Header = "MAC,Modelo,TIMESTAMP,velocidadeEstimada,consumoEnergia,TEMP"

// Entry is one accepted reading as it appeared in the input
type Entry struct {
	Mac            string
	Model          string
	Timestamp      string
	Speed          string
	Consumption    string
	RawTemperature string
}

// Writer is an append-only buffer owned by a single run
type Writer struct {
	entries []Entry
}

// NewWriter creates an empty writer
func NewWriter() *Writer {
	return &Writer{}
}

// Append adds one row, keeping input order
func (w *Writer) Append(e Entry) {
	w.entries = append(w.entries, e)
}

// Len returns the number of rows appended
func (w *Writer) Len() int {
	return len(w.entries)
}

// Entries returns the rows in append order
func (w *Writer) Entries() []Entry {
	return w.entries
}

// Render returns the header followed by every row, one per line
func (w *Writer) Render() string {
	var b strings.Builder
	b.WriteString(Header)
	b.WriteByte('\n')
	for _, e := range w.entries {
		b.WriteString(strings.Join([]string{
			e.Mac, e.Model, e.Timestamp, e.Speed, e.Consumption, e.RawTemperature,
		}, ","))
		b.WriteByte('\n')
	}
	return b.String()
}
