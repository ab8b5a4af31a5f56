package chunk

import (
	"encoding/json"
	"fmt"
	"strings"
)

// notebook is the subset of the Jupyter notebook format the chunker reads.
type notebook struct {
	Cells    []notebookCell   `json:"cells"`
	Metadata notebookMetadata `json:"metadata"`
}

type notebookCell struct {
	CellType string `json:"cell_type"`
	Source   any    `json:"source"` // string or []string per the nbformat spec
}

type notebookMetadata struct {
	Kernelspec struct {
		Language string `json:"language"`
		Name     string `json:"name"`
	} `json:"kernelspec"`
	LanguageInfo struct {
		Name string `json:"language_info_name"`
	} `json:"language_info"`
}

// parseNotebook attempts to interpret content as a notebook cell list.
// Returns the flattened text with section markers, derived metadata, and
// whether the content was a notebook at all.
func parseNotebook(content string) (text string, language string, cellCounts map[string]int, ok bool) {
	trimmed := strings.TrimSpace(content)
	if !strings.HasPrefix(trimmed, "{") {
		return "", "", nil, false
	}

	var nb notebook
	if err := json.Unmarshal([]byte(trimmed), &nb); err != nil || len(nb.Cells) == 0 {
		return "", "", nil, false
	}

	cellCounts = make(map[string]int)
	var sb strings.Builder

	for _, cell := range nb.Cells {
		body := cellSource(cell.Source)
		if strings.TrimSpace(body) == "" {
			continue
		}

		cellCounts[cell.CellType]++
		switch cell.CellType {
		case "code":
			fmt.Fprintf(&sb, "[code cell %d]\n%s\n", cellCounts["code"], body)
		case "markdown":
			fmt.Fprintf(&sb, "[markdown cell %d]\n%s\n", cellCounts["markdown"], body)
		default:
			fmt.Fprintf(&sb, "[%s cell %d]\n%s\n", cell.CellType, cellCounts[cell.CellType], body)
		}
	}

	language = nb.Metadata.Kernelspec.Language
	if language == "" {
		language = nb.Metadata.LanguageInfo.Name
	}
	if language == "" && cellCounts["code"] > 0 {
		language = "python" // nbformat default kernel
	}

	return sb.String(), language, cellCounts, true
}

// cellSource flattens the nbformat source field, which may be a single
// string or a list of lines.
func cellSource(source any) string {
	switch v := source.(type) {
	case string:
		return v
	case []any:
		var sb strings.Builder
		for _, line := range v {
			if s, ok := line.(string); ok {
				sb.WriteString(s)
			}
		}
		return sb.String()
	default:
		return ""
	}
}
