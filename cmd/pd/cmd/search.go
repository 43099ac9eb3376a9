package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	blevequery "github.com/blevesearch/bleve/v2/search/query"
	"github.com/spf13/cobra"

	"github.com/phax/phoss-directory-sub000/internal/app"
	"github.com/phax/phoss-directory-sub000/internal/store"
)

// searchOptions holds the CLI flags for search.
type searchOptions struct {
	limit       int
	name        string
	country     string
	geoInfo     string
	idScheme    string
	idValue     string
	website     string
	contact     string
	regDate     string
	participant string
	docType     string
	deleted     bool
	format      string
}

func newSearchCmd() *cobra.Command {
	var opts searchOptions

	cmd := &cobra.Command{
		Use:   "search [text]",
		Short: "Search the participant directory",
		Long: `Search the participant directory.

Free text matches across all indexed fields; field flags narrow the
match. Text terms shorter than three characters are ignored.

Examples:
  pd search "acme"
  pd search --country BE --name "acme corp"
  pd search --participant iso6523-actorid-upis::0088:123456789
  pd search "shipping" --format json --limit 5`,
		Args: cobra.ArbitraryArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSearch(cmd.Context(), strings.Join(args, " "), opts)
		},
	}

	cmd.Flags().IntVarP(&opts.limit, "limit", "n", 0, "Maximum number of results (default from config)")
	cmd.Flags().StringVar(&opts.name, "name", "", "Match entity names")
	cmd.Flags().StringVar(&opts.country, "country", "", "Match the country code exactly")
	cmd.Flags().StringVar(&opts.geoInfo, "geo", "", "Match geographic info")
	cmd.Flags().StringVar(&opts.idScheme, "id-scheme", "", "Match an identifier scheme exactly")
	cmd.Flags().StringVar(&opts.idValue, "id-value", "", "Match an identifier value exactly")
	cmd.Flags().StringVar(&opts.website, "website", "", "Match website URIs")
	cmd.Flags().StringVar(&opts.contact, "contact", "", "Match contact details")
	cmd.Flags().StringVar(&opts.regDate, "reg-date", "", "Match the registration date (YYYY-MM-DD)")
	cmd.Flags().StringVar(&opts.participant, "participant", "", "Match a participant identifier exactly")
	cmd.Flags().StringVar(&opts.docType, "doctype", "", "Match a document type identifier exactly")
	cmd.Flags().BoolVar(&opts.deleted, "deleted", false, "Search soft-deleted entries instead")
	cmd.Flags().StringVar(&opts.format, "format", "text", "Output format: text or json")

	return cmd
}

func runSearch(ctx context.Context, text string, opts searchOptions) error {
	applyLogLevelOverride()

	a, err := app.New(app.Options{ConfigPath: configPath})
	if err != nil {
		return err
	}
	defer a.Close()

	q, err := buildSearchQuery(a, text, opts)
	if err != nil {
		return err
	}

	limit := opts.limit
	if limit <= 0 {
		limit = a.Config.Index.MaxResults
	}

	entities, err := a.Store.Search(ctx, q, limit)
	if err != nil {
		return err
	}

	if opts.format == "json" {
		return printEntitiesJSON(entities)
	}
	printEntitiesText(entities)
	return nil
}

// buildSearchQuery combines the free text and field flags into one query.
func buildSearchQuery(a *app.App, text string, opts searchOptions) (blevequery.Query, error) {
	t := a.Translator

	type clauseSpec struct {
		flag  string
		value string
		build func(string) blevequery.Query
	}
	specs := []clauseSpec{
		{"--name", opts.name, t.Name},
		{"--country", opts.country, t.CountryCode},
		{"--geo", opts.geoInfo, t.GeoInfo},
		{"--id-scheme", opts.idScheme, t.IdentifierScheme},
		{"--id-value", opts.idValue, t.IdentifierValue},
		{"--website", opts.website, t.Website},
		{"--contact", opts.contact, t.Contact},
		{"--reg-date", opts.regDate, t.RegistrationDate},
		{"--participant", opts.participant, t.ParticipantID},
		{"--doctype", opts.docType, t.DocTypeID},
	}

	var clauses []blevequery.Query
	for _, s := range specs {
		if s.value == "" {
			continue
		}
		q := s.build(s.value)
		if q == nil {
			return nil, fmt.Errorf("%s: unusable value %q", s.flag, s.value)
		}
		clauses = append(clauses, q)
	}

	if text != "" {
		if q := t.BuildQuery(store.FieldAllText, text); q != nil {
			clauses = append(clauses, q)
		} else if len(clauses) == 0 {
			return nil, fmt.Errorf("search text %q contains no usable terms", text)
		}
	}

	if len(clauses) == 0 {
		return nil, fmt.Errorf("specify search text or at least one field flag")
	}

	var base blevequery.Query
	if len(clauses) == 1 {
		base = clauses[0]
	} else {
		base = blevequery.NewConjunctionQuery(clauses)
	}

	mode := store.ModeNonDeleted
	if opts.deleted {
		mode = store.ModeDeletedOnly
	}
	return store.ApplyMode(base, mode), nil
}

func printEntitiesText(entities []store.StoredBusinessEntity) {
	if len(entities) == 0 {
		fmt.Println("no matches")
		return
	}
	for _, e := range entities {
		name := ""
		if len(e.Names) > 0 {
			name = e.Names[0].Name
		}
		fmt.Printf("%-60s %-3s %s\n", e.Participant, e.CountryCode, name)
		for _, id := range e.Identifiers {
			fmt.Printf("    identifier: %s:%s\n", id.Scheme, id.Value)
		}
		for _, dt := range e.DocTypes {
			fmt.Printf("    doctype:    %s\n", dt)
		}
	}
	fmt.Printf("%d match(es)\n", len(entities))
}

func printEntitiesJSON(entities []store.StoredBusinessEntity) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(entities)
}
