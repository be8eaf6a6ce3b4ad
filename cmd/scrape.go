package main

import (
	"encoding/json"
	"io"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/enrichment-cli/internal/scrape"
)

var (
	scrapeLocale string
	scrapeID     string
	scrapeName   string
)

var scrapeCmd = &cobra.Command{
	Use:   "scrape",
	Short: "Run one registry fallback-chain lookup and print the result",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := cfg.Validate("scrape"); err != nil {
			return err
		}
		locale, ok := scrape.ParseLocale(scrapeLocale)
		if !ok {
			if locale, ok = scrape.InferLocale(scrapeID); !ok {
				return eris.Errorf("scrape: cannot infer locale for %q, pass --locale", scrapeID)
			}
		}

		catalog, err := initCatalog()
		if err != nil {
			return err
		}
		out, err := initRunner(catalog).Lookup(cmd.Context(), scrape.Request{
			Locale:      locale,
			BusinessID:  scrapeID,
			CompanyName: scrapeName,
		})
		if err != nil {
			return err
		}
		if err := writeOutcome(os.Stdout, out); err != nil {
			return err
		}
		if te, ok := out.(scrape.TransportError); ok {
			return eris.Wrap(te.Err, "scrape: every source unreachable")
		}
		return nil
	},
}

// outcomeView is the printed form of a lookup.
type outcomeView struct {
	Success       bool           `json:"success"`
	Data          *scrape.Fields `json:"data,omitempty"`
	Partial       bool           `json:"partial,omitempty"`
	MissingFields []string       `json:"missingFields,omitempty"`
	Sources       []string       `json:"sources,omitempty"`
	Message       string         `json:"message,omitempty"`
}

func writeOutcome(w io.Writer, out scrape.Outcome) error {
	var v outcomeView
	switch o := out.(type) {
	case scrape.Found:
		v = outcomeView{Success: true, Data: &o.Fields, Sources: o.Sources}
	case scrape.PartialFound:
		v = outcomeView{Success: true, Data: &o.Fields, Partial: true, MissingFields: o.Missing, Sources: o.Sources}
	case scrape.NotFound:
		v = outcomeView{Message: o.Reason}
	case scrape.TransportError:
		v = outcomeView{Message: "every source unreachable (" + string(o.Kind) + ")"}
	default:
		return eris.Errorf("scrape: unknown outcome %T", out)
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func init() {
	scrapeCmd.Flags().StringVar(&scrapeLocale, "locale", "", "registry locale (fi, se; default inferred)")
	scrapeCmd.Flags().StringVar(&scrapeID, "id", "", "business ID or organisation number")
	scrapeCmd.Flags().StringVar(&scrapeName, "name", "", "company name, used by name-slug URLs")
	_ = scrapeCmd.MarkFlagRequired("id")
	rootCmd.AddCommand(scrapeCmd)
}
