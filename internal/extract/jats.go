package extract

import (
	"context"
	"encoding/xml"
	"strings"

	"github.com/sells-group/aminoscout/internal/fetcher"
)

// tableWrap collects a JATS table-wrap: its label, caption and every row of
// the tables inside it (thead, tbody, tfoot, bare tr, alternatives).
type tableWrap struct {
	Label   string
	Caption string
	Rows    [][]string
	hasTbl  bool
}

type jatsRow struct {
	Cells []fetcher.Text `xml:",any"`
}

// UnmarshalXML implements xml.Unmarshaler.
func (w *tableWrap) UnmarshalXML(d *xml.Decoder, _ xml.StartElement) error {
	depth := 0
	for {
		tok, err := d.Token()
		if err != nil {
			return err
		}
		switch tt := tok.(type) {
		case xml.StartElement:
			switch tt.Name.Local {
			case "label":
				var t fetcher.Text
				if err := d.DecodeElement(&t, &tt); err != nil {
					return err
				}
				if w.Label == "" {
					w.Label = t.String()
				}
			case "caption":
				var t fetcher.Text
				if err := d.DecodeElement(&t, &tt); err != nil {
					return err
				}
				if w.Caption == "" {
					w.Caption = t.String()
				}
			case "tr":
				var row jatsRow
				if err := d.DecodeElement(&row, &tt); err != nil {
					return err
				}
				cells := make([]string, 0, len(row.Cells))
				for _, c := range row.Cells {
					cells = append(cells, c.String())
				}
				w.Rows = append(w.Rows, cells)
			case "table":
				w.hasTbl = true
				depth++
			default:
				depth++
			}
		case xml.EndElement:
			if depth == 0 {
				return nil
			}
			depth--
		}
	}
}

func (w *tableWrap) context() string {
	switch {
	case w.Label == "":
		return w.Caption
	case w.Caption == "":
		return w.Label
	default:
		return w.Label + " " + w.Caption
	}
}

func jatsTables(ctx context.Context, markup string) ([]table, error) {
	wraps, err := fetcher.CollectXML[tableWrap](ctx, strings.NewReader(markup), "table-wrap", fetcher.Lenient())
	tables := make([]table, 0, len(wraps))
	for _, w := range wraps {
		if !w.hasTbl {
			continue
		}
		tables = append(tables, table{Caption: w.context(), Rows: w.Rows})
	}
	return tables, err
}
