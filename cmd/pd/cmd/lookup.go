package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/phax/phoss-directory-sub000/internal/app"
	"github.com/phax/phoss-directory-sub000/internal/identifier"
	"github.com/phax/phoss-directory-sub000/internal/store"
)

func newLookupCmd() *cobra.Command {
	var (
		format  string
		deleted bool
		all     bool
	)

	cmd := &cobra.Command{
		Use:   "lookup <participant>",
		Short: "Show the stored entities of one participant",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runLookup(cmd.Context(), args[0], format, deleted, all)
		},
	}

	cmd.Flags().StringVar(&format, "format", "text", "Output format: text or json")
	cmd.Flags().BoolVar(&deleted, "deleted", false, "Look up soft-deleted entries instead")
	cmd.Flags().BoolVar(&all, "all", false, "Include soft-deleted entries")

	return cmd
}

func runLookup(ctx context.Context, arg, format string, deleted, all bool) error {
	applyLogLevelOverride()

	id, err := identifier.ParseParticipantID(arg)
	if err != nil {
		return fmt.Errorf("invalid participant %q: %w", arg, err)
	}

	a, err := app.New(app.Options{ConfigPath: configPath})
	if err != nil {
		return err
	}
	defer a.Close()

	mode := store.ModeNonDeleted
	switch {
	case all:
		mode = store.ModeAll
	case deleted:
		mode = store.ModeDeletedOnly
	}

	q := store.ApplyMode(a.Translator.ParticipantID(id.String()), mode)
	entities, err := a.Store.Search(ctx, q, 0)
	if err != nil {
		return err
	}
	if len(entities) == 0 {
		return fmt.Errorf("participant %s is not indexed", id)
	}

	if format == "json" {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(store.GroupByParticipant(entities))
	}

	fmt.Printf("participant: %s\n", id)
	md := entities[0].Metadata
	fmt.Printf("indexed:     %s by %s (host %s)\n",
		md.CreatedAt.Format("2006-01-02 15:04:05"), md.OwnerID, md.RequestingHost)
	for i, e := range entities {
		fmt.Printf("entity %d:\n", i+1)
		for _, n := range e.Names {
			if n.LanguageCode != "" {
				fmt.Printf("    name:        %s [%s]\n", n.Name, n.LanguageCode)
			} else {
				fmt.Printf("    name:        %s\n", n.Name)
			}
		}
		if e.CountryCode != "" {
			fmt.Printf("    country:     %s\n", e.CountryCode)
		}
		if e.GeoInfo != "" {
			fmt.Printf("    geo:         %s\n", e.GeoInfo)
		}
		for _, ident := range e.Identifiers {
			fmt.Printf("    identifier:  %s:%s\n", ident.Scheme, ident.Value)
		}
		for _, w := range e.WebsiteURIs {
			fmt.Printf("    website:     %s\n", w)
		}
		for _, c := range e.Contacts {
			fmt.Printf("    contact:     %s %s %s %s\n", c.Type, c.Name, c.Phone, c.Email)
		}
		if e.AdditionalInfo != "" {
			fmt.Printf("    info:        %s\n", e.AdditionalInfo)
		}
		if e.RegistrationDate != nil {
			fmt.Printf("    registered:  %s\n", e.RegistrationDate.Format(store.RegDateLayout))
		}
	}
	if len(entities) > 0 && len(entities[0].DocTypes) > 0 {
		fmt.Println("document types:")
		for _, dt := range entities[0].DocTypes {
			fmt.Printf("    %s\n", dt)
		}
	}
	return nil
}
