package transport

import (
	"encoding/json"
	"strings"
)

// Page is one page of a paginated collection.
type Page struct {
	JSON json.RawMessage
	Next string
	Prev string
}

type Links struct {
	Next string
	Prev string
}

// ParseLink reads an RFC 8288 Link header, keeping rel="next" and
// rel="previous" (or "prev").
func ParseLink(header string) Links {
	var links Links
	for _, part := range strings.Split(header, ",") {
		segs := strings.Split(part, ";")
		if len(segs) < 2 {
			continue
		}
		target := strings.TrimSpace(segs[0])
		if !strings.HasPrefix(target, "<") || !strings.HasSuffix(target, ">") {
			continue
		}
		target = target[1 : len(target)-1]

		for _, attr := range segs[1:] {
			k, v, ok := strings.Cut(strings.TrimSpace(attr), "=")
			if !ok || strings.TrimSpace(k) != "rel" {
				continue
			}
			switch strings.Trim(strings.TrimSpace(v), `"`) {
			case "next":
				links.Next = target
			case "previous", "prev":
				links.Prev = target
			}
		}
	}
	return links
}
