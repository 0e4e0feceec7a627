package cli

import (
	"errors"
	"fmt"
	"io/fs"

	"github.com/spf13/cobra"
)

func newProfileCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "profile",
		Short: "Manage saved connection profiles",
	}
	cmd.AddCommand(newProfileListCmd(a))
	cmd.AddCommand(newProfileSaveCmd(a))
	return cmd
}

func newProfileListCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List saved profiles",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			profiles, err := LoadProfiles(a.profilePath)
			if errors.Is(err, fs.ErrNotExist) {
				profiles = &Profiles{Profiles: map[string]Profile{}}
			} else if err != nil {
				return err
			}

			if a.output == "json" {
				out := make(map[string]string, len(profiles.Profiles))
				for name, p := range profiles.Profiles {
					out[name] = p.String()
				}
				return printJSON(cmd.OutOrStdout(), map[string]any{
					"current":  profiles.CurrentProfile,
					"profiles": out,
				})
			}

			rows := make([][]string, 0, len(profiles.Profiles))
			for _, name := range profiles.Names() {
				marker := ""
				if name == profiles.CurrentProfile {
					marker = "*"
				}
				rows = append(rows, []string{marker, name, profiles.Profiles[name].String()})
			}
			return printTable(cmd.OutOrStdout(), []string{"", "NAME", "DESTINATION"}, rows)
		},
	}
}

func newProfileSaveCmd(a *app) *cobra.Command {
	var use bool

	cmd := &cobra.Command{
		Use:   "save <name>",
		Short: "Save the resolved connection settings as a profile",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.conn.Validate(); err != nil {
				return err
			}

			profiles, err := LoadProfiles(a.profilePath)
			if errors.Is(err, fs.ErrNotExist) {
				profiles = &Profiles{Profiles: map[string]Profile{}}
			} else if err != nil {
				return err
			}

			name := args[0]
			profiles.Profiles[name] = Profile{ConnectionConfig: a.conn, Output: a.output}
			if use || profiles.CurrentProfile == "" {
				profiles.CurrentProfile = name
			}
			if err := SaveProfiles(a.profilePath, profiles); err != nil {
				return err
			}
			fmt.Fprintf(cmd.ErrOrStderr(), "saved profile %q to %s\n", name, a.profilePath)
			return nil
		},
	}

	cmd.Flags().BoolVar(&use, "use", false, "Make this the current profile")
	return cmd
}
