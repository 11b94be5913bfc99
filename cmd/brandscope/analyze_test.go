package main

import (
	"bytes"
	"strings"
	"testing"

	"github.com/mohammad-safakhou/brandscope/internal/analysis"
)

func TestPrintReport(t *testing.T) {
	state := analysis.State{}
	for _, k := range analysis.CategoryKeys {
		state[k] = analysis.Category{Title: strings.ToUpper(k[:1]) + k[1:], Topics: []analysis.Topic{{
			Headline: "Loyal runners",
			Insights: []string{"Repeat purchases are high[1](https://www.nike.com/report)."},
		}}}
	}
	var buf bytes.Buffer
	printReport(&buf, &analysis.Report{Brand: "Nike", Competitors: []string{"Adidas"}, MarketingCs: state})
	out := buf.String()

	for _, want := range []string{
		"Nike vs Adidas",
		"== Consumer ==",
		"* Loyal runners",
		"- Repeat purchases are high[1].",
		"[1] nike.com <https://www.nike.com/report>",
	} {
		if !strings.Contains(out, want) {
			t.Fatalf("output missing %q:\n%s", want, out)
		}
	}
}
