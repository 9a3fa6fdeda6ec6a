// Package markdown splits a model answer into renderable blocks. Pipe tables
// are parsed into cells classified with SIGTAP-specific heuristics (procedure
// codes, R$ currency values); everything else passes through as paragraphs.
package markdown

import (
	"regexp"
	"strings"
)

type BlockKind string

const (
	BlockParagraph BlockKind = "paragraph"
	BlockTable     BlockKind = "table"
)

type CellKind string

const (
	CellText     CellKind = "text"
	CellCode     CellKind = "code"
	CellCurrency CellKind = "currency"
	CellNumeric  CellKind = "numeric"
)

type Cell struct {
	Text string   `json:"text"`
	Kind CellKind `json:"kind"`
}

type Table struct {
	Header []Cell   `json:"header"`
	Rows   [][]Cell `json:"rows"`
}

type Block struct {
	Kind  BlockKind `json:"kind"`
	Text  string    `json:"text,omitempty"`
	Table *Table    `json:"table,omitempty"`
}

var (
	// 03.01.01.004-8 style SIGTAP procedure codes, or a bare digit run.
	codeRe     = regexp.MustCompile(`^\d{2}\.\d{2}\.\d{2}\.\d{3}-\d$|^\d{6,10}$`)
	currencyRe = regexp.MustCompile(`^-?R\$\s?\d{1,3}(\.\d{3})*(,\d{2})?$`)
	numericRe  = regexp.MustCompile(`^-?\d+([.,]\d+)?%?$`)
	sepCellRe  = regexp.MustCompile(`^:?-{3,}:?$`)
)

// Parse splits content into ordered paragraph and table blocks. Malformed
// table runs degrade to paragraphs instead of failing.
func Parse(content string) []Block {
	lines := strings.Split(strings.ReplaceAll(content, "\r\n", "\n"), "\n")

	var (
		blocks []Block
		para   []string
	)
	flushPara := func() {
		if len(para) == 0 {
			return
		}
		text := strings.TrimSpace(strings.Join(para, "\n"))
		if text != "" {
			blocks = append(blocks, Block{Kind: BlockParagraph, Text: text})
		}
		para = para[:0]
	}

	for i := 0; i < len(lines); {
		if !isTableRow(lines[i]) {
			line := strings.TrimSpace(lines[i])
			if line == "" {
				flushPara()
			} else {
				para = append(para, line)
			}
			i++
			continue
		}

		// Collect the contiguous run of pipe rows.
		start := i
		for i < len(lines) && isTableRow(lines[i]) {
			i++
		}
		run := lines[start:i]
		table, ok := parseTable(run)
		if !ok {
			para = append(para, trimLines(run)...)
			continue
		}
		flushPara()
		blocks = append(blocks, Block{Kind: BlockTable, Table: table})
	}
	flushPara()
	return blocks
}

// parseTable expects a header row, a separator row, and zero or more body rows.
func parseTable(run []string) (*Table, bool) {
	if len(run) < 2 || !isSeparatorRow(run[1]) {
		return nil, false
	}
	header := splitRow(run[0])
	if len(header) == 0 {
		return nil, false
	}

	table := &Table{Header: make([]Cell, len(header))}
	for i, text := range header {
		table.Header[i] = Cell{Text: text, Kind: CellText}
	}
	for _, line := range run[2:] {
		cells := splitRow(line)
		if len(cells) == 0 {
			continue
		}
		// Ragged rows are padded so the UI can still render the column grid.
		row := make([]Cell, len(header))
		for i := range row {
			if i < len(cells) {
				row[i] = classifyCell(cells[i])
			} else {
				row[i] = Cell{Kind: CellText}
			}
		}
		table.Rows = append(table.Rows, row)
	}
	return table, true
}

func classifyCell(text string) Cell {
	switch {
	case currencyRe.MatchString(text):
		return Cell{Text: text, Kind: CellCurrency}
	case codeRe.MatchString(text):
		return Cell{Text: text, Kind: CellCode}
	case numericRe.MatchString(text):
		return Cell{Text: text, Kind: CellNumeric}
	default:
		return Cell{Text: text, Kind: CellText}
	}
}

func isTableRow(line string) bool {
	trimmed := strings.TrimSpace(line)
	return strings.HasPrefix(trimmed, "|") && strings.Count(trimmed, "|") >= 2
}

func isSeparatorRow(line string) bool {
	for _, cell := range splitRow(line) {
		if !sepCellRe.MatchString(cell) {
			return false
		}
	}
	return len(splitRow(line)) > 0
}

func splitRow(line string) []string {
	trimmed := strings.TrimSpace(line)
	trimmed = strings.TrimPrefix(trimmed, "|")
	trimmed = strings.TrimSuffix(trimmed, "|")
	parts := strings.Split(trimmed, "|")
	cells := make([]string, 0, len(parts))
	for _, p := range parts {
		cells = append(cells, strings.TrimSpace(p))
	}
	return cells
}

func trimLines(lines []string) []string {
	out := make([]string, 0, len(lines))
	for _, l := range lines {
		out = append(out, strings.TrimSpace(l))
	}
	return out
}
