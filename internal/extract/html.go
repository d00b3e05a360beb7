package extract

import (
	"strings"

	"github.com/PuerkitoBio/goquery"
)

func htmlTables(markup string) ([]table, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(markup))
	if err != nil {
		return nil, err
	}

	var tables []table
	doc.Find("table").Each(func(_ int, s *goquery.Selection) {
		t := table{Caption: normalizeText(s.ChildrenFiltered("caption").First().Text())}
		if t.Caption == "" {
			wrap := s.Closest("table-wrap")
			t.Caption = normalizeText(wrap.Find("label").First().Text() + " " + wrap.Find("caption").First().Text())
		}

		s.Find("tr").Each(func(_ int, tr *goquery.Selection) {
			var cells []string
			tr.ChildrenFiltered("td,th").Each(func(_ int, cell *goquery.Selection) {
				cells = append(cells, normalizeText(cell.Text()))
			})
			t.Rows = append(t.Rows, cells)
		})
		tables = append(tables, t)
	})
	return tables, nil
}

func normalizeText(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
