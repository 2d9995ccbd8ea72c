package research

import (
	"fmt"
	"io"
	"strings"
)

func PrintTree(w io.Writer, root *Node, showResponses bool) error {
	var err error
	Walk(root, func(n *Node) {
		if err != nil {
			return
		}
		indent := strings.Repeat("  ", n.Depth)
		marker := ""
		if n.Depth > 0 {
			marker = "└─ "
		}
		if _, err = fmt.Fprintf(w, "%s%s%s [%s]\n", indent, marker, trimToRunes(n.Query, 60), n.Status); err != nil {
			return
		}
		if showResponses && n.Response != "" {
			preview := strings.ReplaceAll(trimToRunes(n.Response, 100), "\n", " ")
			if _, err = fmt.Fprintf(w, "%s   response: %s...\n", indent, preview); err != nil {
				return
			}
		}
		if n.ExtractedData != nil {
			if _, err = fmt.Fprintf(w, "%s   structured data extracted\n", indent); err != nil {
				return
			}
		}
		if len(n.Gaps) > 0 {
			_, err = fmt.Fprintf(w, "%s   missing: %d items\n", indent, len(n.Gaps))
		}
		if n.Error != "" && err == nil {
			_, err = fmt.Fprintf(w, "%s   error: %s\n", indent, n.Error)
		}
	})
	return err
}
