// Package extract provides an alternate transport for the eligible
// collateral table: when the external document-AI service hands back an
// HTML table fragment instead of the plain-JSON CollateralRow shape (some
// layout-preserving extractors do this for multi-column rating tables),
// this parses it into the same models.CollateralRow/ColumnInfo shape the
// Normalization Orchestrator already consumes. Grounded on
// pkg/core/fee/table_parser.go's goquery.Find("table")/"tr"/"td" idiom.
package extract

import (
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"csa-margin-engine/pkg/models"
)

// ParseCollateralTableHTML parses the first <table> in html into a
// ColumnInfo (header row) and a list of CollateralRow, where column 0 of
// each body row is the collateral type description and the remaining
// columns are positional valuation strings.
func ParseCollateralTableHTML(html string) ([]models.CollateralRow, models.ColumnInfo, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, models.ColumnInfo{}, fmt.Errorf("extract: parse html: %w", err)
	}

	table := doc.Find("table").First()
	if table.Length() == 0 {
		return nil, models.ColumnInfo{}, fmt.Errorf("extract: no <table> element found")
	}

	var columnNames []string
	table.Find("tr").First().Find("th, td").Each(func(i int, cell *goquery.Selection) {
		if i == 0 {
			return // first column header is the type-description label, not a rating scenario
		}
		columnNames = append(columnNames, strings.TrimSpace(cell.Text()))
	})

	var rows []models.CollateralRow
	table.Find("tr").Each(func(i int, tr *goquery.Selection) {
		if i == 0 {
			return // header already consumed
		}
		cells := tr.Find("td")
		if cells.Length() == 0 {
			return
		}
		var typeText string
		var valuations []string
		cells.Each(func(j int, cell *goquery.Selection) {
			text := strings.TrimSpace(cell.Text())
			if j == 0 {
				typeText = text
				return
			}
			valuations = append(valuations, text)
		})
		if typeText == "" {
			return
		}
		rows = append(rows, models.CollateralRow{CollateralType: typeText, Valuations: valuations})
	})

	return rows, models.ColumnInfo{
		ValuationColumnCount: len(columnNames),
		ValuationColumnNames: columnNames,
	}, nil
}
