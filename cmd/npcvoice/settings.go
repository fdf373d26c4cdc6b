package main

import (
	"context"
	"fmt"
	"runtime"
	"slices"
	"strconv"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/MrWong99/npcvoice/internal/app"
	"github.com/MrWong99/npcvoice/internal/voice/settings"
	"github.com/MrWong99/npcvoice/internal/voice/tag"
)

var (
	flagDisabled bool
	flagRequire  []string
	flagPrefer   []string
	flagTone     string
	flagAccent   string
)

// ── buckets ──────────────────────────────────────────────────────────────────

var bucketsCmd = &cobra.Command{
	Use:   "buckets",
	Short: "Inspect and edit voice buckets",
}

var bucketsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List buckets and their voices",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return withApp(cmd, func(_ context.Context, a *app.App) error {
			r := a.Resolver()
			def := r.DefaultBucket()
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "BUCKET\tDEFAULT\tVOICES")
			for _, b := range r.Buckets() {
				mark := ""
				if b.Name == def {
					mark = "*"
				}
				fmt.Fprintf(tw, "%s\t%s\t%s\n", b.Name, mark, strings.Join(b.Voices, ","))
			}
			return tw.Flush()
		})
	},
}

var bucketsAddCmd = &cobra.Command{
	Use:   "add BUCKET VOICE_ID...",
	Short: "Add voices to a bucket, creating a custom bucket if needed",
	Args:  cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(_ context.Context, a *app.App) error {
			for _, id := range args[1:] {
				if _, err := a.Resolver().AddVoiceToBucket(args[0], id); err != nil {
					return err
				}
			}
			return nil
		})
	},
}

var bucketsRemoveCmd = &cobra.Command{
	Use:   "remove BUCKET VOICE_ID...",
	Short: "Remove voices from a bucket",
	Args:  cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(_ context.Context, a *app.App) error {
			for _, id := range args[1:] {
				if _, err := a.Resolver().RemoveVoiceFromBucket(args[0], id); err != nil {
					return err
				}
			}
			return nil
		})
	},
}

var bucketsClearCmd = &cobra.Command{
	Use:   "clear BUCKET",
	Short: "Remove every voice from a bucket",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(_ context.Context, a *app.App) error {
			return a.Resolver().ClearBucket(args[0])
		})
	},
}

var bucketsDefaultCmd = &cobra.Command{
	Use:   "default [BUCKET]",
	Short: "Print or set the default bucket",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(_ context.Context, a *app.App) error {
			name := a.Resolver().DefaultBucket()
			if len(args) == 1 {
				name = a.Resolver().SetDefaultBucket(args[0])
			}
			fmt.Fprintln(cmd.OutOrStdout(), name)
			return nil
		})
	},
}

// ── overrides ────────────────────────────────────────────────────────────────

var overrideCmd = &cobra.Command{
	Use:   "override",
	Short: "Pin NPCs to a voice or a bucket",
}

var overrideListCmd = &cobra.Command{
	Use:   "list",
	Short: "List exact and bucket overrides",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return withApp(cmd, func(_ context.Context, a *app.App) error {
			doc := a.Resolver().Snapshot()
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "NPC\tKIND\tTARGET\tENABLED")
			for _, o := range doc.ExactOverrides {
				fmt.Fprintf(tw, "%s\tvoice\t%s\t%t\n", o.NPC, o.VoiceID, o.Enabled)
			}
			for _, npc := range sortedKeys(doc.BucketOverrides) {
				fmt.Fprintf(tw, "%s\tbucket\t%s\t%t\n", npc, doc.BucketOverrides[npc], true)
			}
			return tw.Flush()
		})
	},
}

var overrideSetCmd = &cobra.Command{
	Use:   "set NPC VOICE_ID",
	Short: "Always use VOICE_ID for NPC",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(_ context.Context, a *app.App) error {
			return a.Resolver().SetExactOverride(args[0], args[1], !flagDisabled)
		})
	},
}

var overrideRemoveCmd = &cobra.Command{
	Use:   "remove NPC",
	Short: "Delete NPC's exact and bucket overrides",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(_ context.Context, a *app.App) error {
			exact := a.Resolver().RemoveExactOverride(args[0])
			bkt := a.Resolver().RemoveBucketOverride(args[0])
			if !exact && !bkt {
				return fmt.Errorf("no override for %q", args[0])
			}
			return nil
		})
	},
}

var overrideBucketCmd = &cobra.Command{
	Use:   "bucket NPC BUCKET",
	Short: "Pick NPC's voice from BUCKET",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(_ context.Context, a *app.App) error {
			return a.Resolver().SetBucketOverride(args[0], args[1])
		})
	},
}

// ── assignments ──────────────────────────────────────────────────────────────

var assignmentsCmd = &cobra.Command{
	Use:   "assignments",
	Short: "Inspect or forget sticky voice assignments",
}

var assignmentsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List sticky assignments",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return withApp(cmd, func(_ context.Context, a *app.App) error {
			assigned := a.Resolver().Snapshot().AssignedVoices
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "NPC\tVOICE")
			for _, npc := range sortedKeys(assigned) {
				fmt.Fprintf(tw, "%s\t%s\n", npc, assigned[npc])
			}
			return tw.Flush()
		})
	},
}

var assignmentsClearCmd = &cobra.Command{
	Use:   "clear [NPC]",
	Short: "Forget one NPC's sticky voice, or all of them",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(_ context.Context, a *app.App) error {
			if len(args) == 1 {
				if !a.Resolver().ClearAssignment(args[0]) {
					return fmt.Errorf("no assignment for %q", args[0])
				}
				return nil
			}
			fmt.Fprintf(cmd.OutOrStdout(), "cleared %d assignments\n", a.Resolver().ClearAssignments())
			return nil
		})
	},
}

// ── profiles ─────────────────────────────────────────────────────────────────

var profileCmd = &cobra.Command{
	Use:   "profile",
	Short: "Attach tag requirements to an NPC",
}

var profileSetCmd = &cobra.Command{
	Use:   "set NPC",
	Short: "Set NPC's required and preferred tags",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(_ context.Context, a *app.App) error {
			return a.Resolver().SetProfile(args[0], settings.Profile{
				RequiredTags:  tag.NewSet(flagRequire...),
				PreferredTags: tag.NewSet(flagPrefer...),
				Tone:          tag.Normalize(flagTone),
				Accent:        tag.Normalize(flagAccent),
			})
		})
	},
}

var profileClearCmd = &cobra.Command{
	Use:   "clear NPC",
	Short: "Remove NPC's profile",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(_ context.Context, a *app.App) error {
			return a.Resolver().SetProfile(args[0], settings.Profile{})
		})
	},
}

// ── global switches ──────────────────────────────────────────────────────────

var enableCmd = &cobra.Command{
	Use:   "enable",
	Short: "Switch NPC voicing on",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return withApp(cmd, func(_ context.Context, a *app.App) error {
			a.Resolver().SetEnabled(true)
			return nil
		})
	},
}

var disableCmd = &cobra.Command{
	Use:   "disable",
	Short: "Switch NPC voicing off",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return withApp(cmd, func(_ context.Context, a *app.App) error {
			a.Resolver().SetEnabled(false)
			return nil
		})
	},
}

var volumeCmd = &cobra.Command{
	Use:   "volume [0-1]",
	Short: "Print or set the playback volume",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(_ context.Context, a *app.App) error {
			if len(args) == 1 {
				v, err := strconv.ParseFloat(args[0], 64)
				if err != nil {
					return fmt.Errorf("invalid volume %q: %w", args[0], err)
				}
				a.Resolver().SetVolume(v)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%.2f\n", a.Resolver().Volume())
			return nil
		})
	},
}

var fingerprintCmd = &cobra.Command{
	Use:   "fingerprint",
	Short: "Print build information and a hash of the voice settings",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return withApp(cmd, func(_ context.Context, a *app.App) error {
			doc := a.Resolver().Snapshot()
			sum, err := settings.Hash(doc)
			if err != nil {
				return err
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintf(tw, "version\t%s\n", version)
			fmt.Fprintf(tw, "commit\t%s\n", commit)
			fmt.Fprintf(tw, "go\t%s %s/%s\n", runtime.Version(), runtime.GOOS, runtime.GOARCH)
			fmt.Fprintf(tw, "schema\t%d\n", doc.Version)
			fmt.Fprintf(tw, "voices\t%d\n", len(doc.Catalogue))
			fmt.Fprintf(tw, "settings\t%s\n", sum)
			return tw.Flush()
		})
	},
}

func init() {
	overrideSetCmd.Flags().BoolVar(&flagDisabled, "disabled", false, "store the override but leave it inactive")
	profileSetCmd.Flags().StringSliceVar(&flagRequire, "require", nil, "tags every candidate voice must carry")
	profileSetCmd.Flags().StringSliceVar(&flagPrefer, "prefer", nil, "tags that make a voice preferred")
	profileSetCmd.Flags().StringVar(&flagTone, "tone", "", "preferred tone")
	profileSetCmd.Flags().StringVar(&flagAccent, "accent", "", "preferred accent")

	bucketsCmd.AddCommand(bucketsListCmd, bucketsAddCmd, bucketsRemoveCmd, bucketsClearCmd, bucketsDefaultCmd)
	overrideCmd.AddCommand(overrideListCmd, overrideSetCmd, overrideRemoveCmd, overrideBucketCmd)
	assignmentsCmd.AddCommand(assignmentsListCmd, assignmentsClearCmd)
	profileCmd.AddCommand(profileSetCmd, profileClearCmd)
	rootCmd.AddCommand(bucketsCmd, overrideCmd, assignmentsCmd, profileCmd, enableCmd, disableCmd, volumeCmd, fingerprintCmd)
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}
