package main

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	apperrors "github.com/Corphon/PersonaKit/internal/errors"
	"github.com/Corphon/PersonaKit/internal/models"
)

// characterCmd manages the persona catalog
func newCharacterCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "character",
		Short: "Create, list, show and generate personas",
		Long: `Manage personas in the local catalog.

Available subcommands:
  create   - Create a persona from flags or a type template
  list     - List personas, optionally filtered by type
  show     - Show one persona and its system prompt
  generate - Generate personas from a product idea with the configured provider`,
	}
	cmd.AddCommand(newCharacterCreateCmd(), newCharacterListCmd(), newCharacterShowCmd(), newCharacterGenerateCmd())
	return cmd
}

func parseCharacterType(s string) (models.CharacterType, error) {
	typ, ok := models.ParseCharacterType(s)
	if !ok {
		return "", apperrors.NewValidationError(fmt.Sprintf("invalid character type %q (user|expert|organization)", s), nil)
	}
	return typ, nil
}

func newCharacterCreateCmd() *cobra.Command {
	var (
		name        string
		typ         string
		description string
		template    bool
		tags        string
	)
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a persona",
		Example: `  personakit character create --name "Ann" --type user --description "runs a small bakery"
  personakit character create --name "Dr. Lee" --type expert --template`,
		RunE: func(cmd *cobra.Command, args []string) error {
			t, err := parseCharacterType(typ)
			if err != nil {
				return err
			}
			a, err := openApp()
			if err != nil {
				return err
			}
			defer a.Close()

			var created *models.Character
			if template {
				upd := models.CharacterUpdate{Tags: splitList(tags)}
				if description != "" {
					upd.Description = &description
				}
				created, err = a.Characters.CreateFromTemplate(t, name, upd)
			} else {
				c := models.NewCharacter(name, t, description)
				c.Tags = splitList(tags)
				created, err = a.Characters.Store().Create(c)
			}
			if err != nil {
				return err
			}
			if jsonOutput {
				return printJSON(cmd.OutOrStdout(), created)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Created %s %q (%s)\n", created.Type, created.Name, created.ID)
			return nil
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "persona name")
	cmd.Flags().StringVar(&typ, "type", "user", "persona type: user|expert|organization")
	cmd.Flags().StringVar(&description, "description", "", "short description")
	cmd.Flags().BoolVar(&template, "template", false, "start from the built-in template for the type")
	cmd.Flags().StringVar(&tags, "tags", "", "comma-separated tags")
	_ = cmd.MarkFlagRequired("name")
	return cmd
}

func newCharacterListCmd() *cobra.Command {
	var typ string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List personas",
		RunE: func(cmd *cobra.Command, args []string) error {
			var filter models.CharacterType
			if typ != "" {
				t, err := parseCharacterType(typ)
				if err != nil {
					return err
				}
				filter = t
			}
			a, err := openApp()
			if err != nil {
				return err
			}
			defer a.Close()

			list := a.Characters.Store().List(filter)
			if jsonOutput {
				return printJSON(cmd.OutOrStdout(), list)
			}
			if len(list) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No personas yet.")
				return nil
			}
			writeCharacterTable(cmd.OutOrStdout(), list)
			return nil
		},
	}
	cmd.Flags().StringVar(&typ, "type", "", "filter by type")
	return cmd
}

func writeCharacterTable(w io.Writer, list []*models.Character) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tTYPE\tNAME\tDESCRIPTION")
	for _, c := range list {
		desc := c.Description
		if r := []rune(desc); len(r) > 48 {
			desc = string(r[:48]) + "..."
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", c.ID, c.Type, c.Name, desc)
	}
	_ = tw.Flush()
}

func newCharacterShowCmd() *cobra.Command {
	var withPrompt bool
	cmd := &cobra.Command{
		Use:   "show [character-id]",
		Short: "Show a persona",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp()
			if err != nil {
				return err
			}
			defer a.Close()

			c, err := a.Characters.Store().Get(args[0])
			if err != nil {
				return err
			}
			if jsonOutput {
				return printJSON(cmd.OutOrStdout(), c)
			}

			out := cmd.OutOrStdout()
			check := a.Characters.ValidateCharacter(c)
			fmt.Fprintf(out, "%s (%s)\n", c.Name, c.Type)
			fmt.Fprintf(out, "ID:           %s\n", c.ID)
			fmt.Fprintf(out, "Description:  %s\n", c.Description)
			if len(c.Tags) > 0 {
				fmt.Fprintf(out, "Tags:         %s\n", strings.Join(c.Tags, ", "))
			}
			fmt.Fprintf(out, "Score:        %.0f%% (valid: %t)\n", check.Score*100, check.Valid)
			for _, issue := range check.Issues {
				fmt.Fprintf(out, "  - %s\n", issue)
			}
			if withPrompt {
				prompt, err := a.Characters.CharacterPrompt(c)
				if err != nil {
					return err
				}
				fmt.Fprintf(out, "\n%s\n", prompt)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&withPrompt, "prompt", false, "also print the rendered system prompt")
	return cmd
}

func newCharacterGenerateCmd() *cobra.Command {
	var (
		idea         string
		typ          string
		requirements string
	)
	cmd := &cobra.Command{
		Use:   "generate",
		Short: "Generate personas from an idea",
		Long: `Asks the configured provider to build personas for a product idea.
Without --type one persona of each type is generated.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if strings.TrimSpace(idea) == "" {
				return apperrors.NewValidationError("--idea is required", nil)
			}
			a, err := openApp()
			if err != nil {
				return err
			}
			defer a.Close()

			summary := models.ExplorationSummary{InitialIdea: idea}
			var generated []*models.Character
			if typ == "" {
				generated, err = a.Characters.GenerateCharacterSet(cmd.Context(), summary, nil)
			} else {
				t, perr := parseCharacterType(typ)
				if perr != nil {
					return perr
				}
				var c *models.Character
				c, err = a.Characters.GenerateCharacter(cmd.Context(), summary, t, requirements)
				if c != nil {
					generated = append(generated, c)
				}
			}
			if err != nil {
				return err
			}
			if jsonOutput {
				return printJSON(cmd.OutOrStdout(), generated)
			}
			writeCharacterTable(cmd.OutOrStdout(), generated)
			return nil
		},
	}
	cmd.Flags().StringVar(&idea, "idea", "", "product idea to build personas for")
	cmd.Flags().StringVar(&typ, "type", "", "generate only this type")
	cmd.Flags().StringVar(&requirements, "requirements", "", "extra requirements for the persona")
	return cmd
}
