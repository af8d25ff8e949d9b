package main

import (
	"fmt"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/spf13/cobra"

	"sehha.app/diagnosis-assistant/internal/catalog"
	"sehha.app/diagnosis-assistant/internal/config"
	"sehha.app/diagnosis-assistant/internal/model"
)

var catalogCmd = &cobra.Command{
	Use:   "catalog",
	Short: "Print the features and conditions of the model bundle",
	RunE:  runCatalog,
}

func runCatalog(cmd *cobra.Command, _ []string) error {
	bundle, err := model.LoadBundle(config.AppConfig.BundlePath)
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()

	features := table.NewWriter()
	features.SetOutputMirror(out)
	features.SetStyle(table.StyleLight)
	features.SetTitle(fmt.Sprintf("%s: features", bundle.Name))
	features.AppendHeader(table.Row{"#", "Feature", "Kind", "Range", "Default", "Options"})
	for i, f := range bundle.Catalog.Features() {
		features.AppendRow(table.Row{i, f.Name, kindLabel(&f), rangeLabel(&f), f.Default, strings.Join(f.OptionLabels(), ", ")})
	}
	features.SetColumnConfigs([]table.ColumnConfig{
		{Number: 1, Align: text.AlignRight},
		{Number: 6, WidthMax: 60},
	})
	features.Render()

	conditions := table.NewWriter()
	conditions.SetOutputMirror(out)
	conditions.SetStyle(table.StyleLight)
	conditions.SetTitle("conditions")
	conditions.AppendHeader(table.Row{"ID", "Name", "Threshold", "Recommendations"})
	for _, c := range bundle.Bank.Conditions() {
		th := "0.50 (default)"
		if v, ok := c.Model.Threshold(); ok {
			th = fmt.Sprintf("%.2f", v)
		}
		conditions.AppendRow(table.Row{c.ID, c.Name, th, c.Recommendations})
	}
	conditions.SetColumnConfigs([]table.ColumnConfig{{Number: 4, WidthMax: 60}})
	conditions.Render()
	return nil
}

func kindLabel(f *catalog.Feature) string {
	if f.IsDerived() {
		return fmt.Sprintf("%s (derived: %s)", f.Kind, f.Derived.Formula)
	}
	return f.Kind.String()
}

func rangeLabel(f *catalog.Feature) string {
	if !f.Bounded {
		return ""
	}
	return fmt.Sprintf("%g..%g", f.Min, f.Max)
}
