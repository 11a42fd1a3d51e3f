package notebook

import (
	"encoding/json"
	"fmt"
	"strings"
)

// cellReader converts a raw notebook payload into cells. One implementation
// per format; selection happens at discovery time via the Ref's Format.
type cellReader interface {
	readCells(data []byte) ([]Cell, error)
}

// readerFor returns the cellReader for a format.
func readerFor(format Format) (cellReader, error) {
	switch format {
	case FormatJupyter:
		return jupyterReader{}, nil
	case FormatZeppelin:
		return zeppelinReader{}, nil
	default:
		return nil, fmt.Errorf("unsupported notebook format %q", format)
	}
}

// jupyterSource handles the two encodings of a Jupyter cell source:
// a plain string or a list of line strings.
type jupyterSource string

func (s *jupyterSource) UnmarshalJSON(data []byte) error {
	var single string
	if err := json.Unmarshal(data, &single); err == nil {
		*s = jupyterSource(single)
		return nil
	}
	var lines []string
	if err := json.Unmarshal(data, &lines); err != nil {
		return fmt.Errorf("cell source is neither string nor string list: %w", err)
	}
	*s = jupyterSource(strings.Join(lines, ""))
	return nil
}

type jupyterCell struct {
	CellType string        `json:"cell_type"`
	Source   jupyterSource `json:"source"`
}

type jupyterNotebook struct {
	Cells []jupyterCell `json:"cells"`
}

type jupyterReader struct{}

func (jupyterReader) readCells(data []byte) ([]Cell, error) {
	var nb jupyterNotebook
	if err := json.Unmarshal(data, &nb); err != nil {
		return nil, fmt.Errorf("decoding jupyter payload: %w", err)
	}

	cells := make([]Cell, 0, len(nb.Cells))
	for i, c := range nb.Cells {
		ct := CellCode
		if c.CellType == "markdown" {
			ct = CellMarkdown
		}
		cells = append(cells, Cell{Type: ct, Text: string(c.Source), Index: i})
	}
	return cells, nil
}

type zeppelinParagraph struct {
	Text string `json:"text"`
}

type zeppelinNotebook struct {
	Paragraphs []zeppelinParagraph `json:"paragraphs"`
}

type zeppelinReader struct{}

func (zeppelinReader) readCells(data []byte) ([]Cell, error) {
	var nb zeppelinNotebook
	if err := json.Unmarshal(data, &nb); err != nil {
		return nil, fmt.Errorf("decoding zeppelin payload: %w", err)
	}

	cells := make([]Cell, 0, len(nb.Paragraphs))
	for i, p := range nb.Paragraphs {
		text := p.Text
		ct := CellCode
		// Zeppelin marks narrative paragraphs with a %md interpreter prefix.
		if rest, ok := strings.CutPrefix(strings.TrimLeft(text, " \t\n"), "%md"); ok {
			ct = CellMarkdown
			text = strings.TrimSpace(rest)
		}
		cells = append(cells, Cell{Type: ct, Text: text, Index: i})
	}
	return cells, nil
}

// isZeppelinPayload sniffs whether a JSON file is a Zeppelin notebook.
// Zeppelin exports always carry a top-level paragraphs field.
func isZeppelinPayload(data []byte) bool {
	var probe struct {
		Paragraphs *json.RawMessage `json:"paragraphs"`
	}
	if err := json.Unmarshal(data, &probe); err != nil {
		return false
	}
	return probe.Paragraphs != nil
}
