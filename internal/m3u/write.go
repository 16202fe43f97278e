package m3u

import (
	"bufio"
	"fmt"
	"io"
	"strings"
)

// Write renders entries as an extended M3U playlist in the order given.
// Entries without a URL are skipped.
func Write(w io.Writer, entries []Entry) error {
	bw := bufio.NewWriter(w)
	if _, err := bw.WriteString("#EXTM3U\n"); err != nil {
		return err
	}
	for _, e := range entries {
		if e.URL == "" {
			continue
		}
		var attrs []string
		if e.TvgID != "" {
			attrs = append(attrs, attr("tvg-id", e.TvgID))
		}
		if e.Number != nil {
			attrs = append(attrs, attr("tvg-chno", fmt.Sprint(*e.Number)))
		}
		attrs = append(attrs, attr("tvg-name", e.Name))
		if e.Logo != nil {
			attrs = append(attrs, attr("tvg-logo", *e.Logo))
		}
		if e.Group != "" {
			attrs = append(attrs, attr("group-title", e.Group))
		}
		if _, err := fmt.Fprintf(bw, "#EXTINF:-1 %s,%s\n%s\n", strings.Join(attrs, " "), oneLine(e.Name), e.URL); err != nil {
			return err
		}
	}
	return bw.Flush()
}

func attr(key, value string) string {
	return key + `="` + strings.ReplaceAll(oneLine(value), `"`, "'") + `"`
}

func oneLine(s string) string {
	return strings.NewReplacer("\n", " ", "\r", " ").Replace(s)
}
