package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"transcribeflow/internal/profile"
)

func newProfilesCommand(ctx *commandContext) *cobra.Command {
	profilesCmd := &cobra.Command{
		Use:   "profiles",
		Short: "Inspect editorial profiles",
	}

	profilesCmd.AddCommand(newProfilesListCommand(ctx))
	profilesCmd.AddCommand(newProfilesShowCommand(ctx))

	return profilesCmd
}

func newProfilesListCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List available profiles",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			provider := profile.NewProvider(cfg.Paths.ProfilesDir, cfg.Watcher.DefaultProfile)
			profiles, err := provider.List()
			if err != nil {
				return err
			}
			if len(profiles) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No profiles found")
				return nil
			}
			rows := make([][]string, 0, len(profiles))
			for _, p := range profiles {
				rules := p.SubtitleRules()
				rows = append(rows, []string{
					p.ID,
					p.Language(),
					fmt.Sprintf("%dx%d", rules.MaxCharsPerLine, rules.MaxLines),
					strconv.Itoa(len(p.Disclaimers())),
				})
			}
			rendered := renderTable(
				[]string{"ID", "Language", "Subtitle", "Disclaimers"},
				rows,
				[]columnAlignment{alignLeft, alignLeft, alignLeft, alignRight},
			)
			fmt.Fprintln(cmd.OutOrStdout(), rendered)
			return nil
		},
	}
}

func newProfilesShowCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "show <profile-id>",
		Short: "Print one profile's metadata and prompt",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			provider := profile.NewProvider(cfg.Paths.ProfilesDir, cfg.Watcher.DefaultProfile)
			p, err := provider.Get(args[0])
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Profile: %s\n", p.ID)
			fmt.Fprintf(out, "Source: %s\n", p.SourcePath)
			fmt.Fprintf(out, "Language: %s\n", p.Language())
			if meta := p.DumpMeta(); meta != "" {
				fmt.Fprintf(out, "Metadata:\n%s\n", meta)
			}
			fmt.Fprintf(out, "Prompt:\n%s\n", p.PromptBody)
			return nil
		},
	}
}
