package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/MrWong99/npcvoice/internal/app"
	"github.com/MrWong99/npcvoice/internal/dialogue"
	"github.com/MrWong99/npcvoice/internal/playback"
	"github.com/MrWong99/npcvoice/internal/voice/registry"
	"github.com/MrWong99/npcvoice/internal/voice/resolver"
	"github.com/MrWong99/npcvoice/pkg/audio"
)

var (
	flagText      string
	flagSpeak     bool
	flagOut       string
	flagTag       string
	flagRefresh   bool
	flagLimit     int
	flagOverwrite bool
)

var resolveCmd = &cobra.Command{
	Use:   "resolve NPC",
	Short: "Print the voice an NPC resolves to, assigning one if needed",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, a *app.App) error {
			if flagSpeak {
				u, err := a.Speak(ctx, dialogue.Line{NPC: args[0], Text: flagText})
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\n", u.VoiceID, u.Step)
				return <-u.Done
			}
			id, step, err := a.Resolver().Resolve(ctx, args[0], flagText)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\n", id, step)
			return nil
		})
	},
}

var testVoiceCmd = &cobra.Command{
	Use:   "test-voice VOICE_ID [TEXT]",
	Short: "Synthesise a sample line with one voice and play or save it",
	Args:  cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		text := "Well met, traveller. What brings you to these parts?"
		if len(args) == 2 {
			text = args[1]
		}
		return withApp(cmd, func(ctx context.Context, a *app.App) error {
			clip, err := a.Synthesize(ctx, args[0], text)
			if err != nil {
				return err
			}
			if flagOut == "" {
				return a.Play(ctx, clip)
			}
			return writeWAV(flagOut, clip, a)
		})
	},
}

func writeWAV(path string, clip playback.Clip, a *app.App) error {
	pc := a.Config().Playback
	format := audio.Format{SampleRate: pc.SampleRate, Channels: pc.Channels}
	pcm, err := playback.Decode(clip.Audio, format, clip.Volume)
	if err != nil {
		return err
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := audio.WriteWAV(f, pcm, format); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

var voicesCmd = &cobra.Command{
	Use:   "voices",
	Short: "Inspect and edit the voice catalogue",
}

var voicesListCmd = &cobra.Command{
	Use:   "list",
	Short: "List known voices with their tags and state",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return withApp(cmd, func(ctx context.Context, a *app.App) error {
			if flagRefresh {
				if _, err := a.RefreshVoices(ctx); err != nil {
					return err
				}
			}
			voices := a.Resolver().Voices()
			if flagTag != "" {
				voices = a.Resolver().VoicesByTag(flagTag)
			}
			printVoices(cmd.OutOrStdout(), voices)
			return nil
		})
	},
}

var voicesRefreshCmd = &cobra.Command{
	Use:   "refresh",
	Short: "Fetch the voice list from the TTS provider",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return withApp(cmd, func(ctx context.Context, a *app.App) error {
			added, err := a.RefreshVoices(ctx)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%d voices, %d new\n", len(a.Resolver().Voices()), added)
			return nil
		})
	},
}

var voicesSearchCmd = &cobra.Command{
	Use:   "search QUERY",
	Short: "Fuzzy-search voices by name",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(_ context.Context, a *app.App) error {
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "SCORE\tID\tNAME")
			for _, m := range a.Resolver().SearchVoices(args[0], flagLimit) {
				fmt.Fprintf(tw, "%.2f\t%s\t%s\n", m.Score, m.Voice.ID, m.Voice.DisplayName)
			}
			return tw.Flush()
		})
	},
}

var voicesSuggestCmd = &cobra.Command{
	Use:   "suggest NPC",
	Short: "Print the tags an NPC name implies",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		fmt.Fprintln(cmd.OutOrStdout(), strings.Join(resolver.SuggestTagsForNPC(args[0]).Strings(), " "))
		return nil
	},
}

// voiceEdit builds a "voices <verb> ID [VALUE]" command around one resolver
// edit.
func voiceEdit(use, short string, nargs int, edit func(r *resolver.Resolver, args []string) (registry.Voice, error)) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.ExactArgs(nargs),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(_ context.Context, a *app.App) error {
				v, err := edit(a.Resolver(), args)
				if err != nil {
					return err
				}
				printVoices(cmd.OutOrStdout(), []registry.Voice{v})
				return nil
			})
		},
	}
}

var voicesAutoTagCmd = voiceEdit("autotag VOICE_ID", "Derive tags from the voice name", 1,
	func(r *resolver.Resolver, args []string) (registry.Voice, error) {
		return r.AutoTagVoice(args[0], flagOverwrite)
	})

func init() {
	resolveCmd.Flags().StringVarP(&flagText, "text", "t", "", "line being spoken")
	resolveCmd.Flags().BoolVar(&flagSpeak, "speak", false, "also synthesise and play the line")
	testVoiceCmd.Flags().StringVarP(&flagOut, "out", "o", "", "write a WAV file instead of playing")
	voicesListCmd.Flags().StringVar(&flagTag, "tag", "", "only voices carrying this tag")
	voicesListCmd.Flags().BoolVar(&flagRefresh, "refresh", false, "refresh from the provider first")
	voicesSearchCmd.Flags().IntVarP(&flagLimit, "limit", "n", 10, "maximum number of results")
	voicesAutoTagCmd.Flags().BoolVar(&flagOverwrite, "overwrite", false, "replace existing tags instead of merging")

	voicesCmd.AddCommand(
		voicesListCmd,
		voicesRefreshCmd,
		voicesSearchCmd,
		voicesSuggestCmd,
		voicesAutoTagCmd,
		voiceEdit("tag VOICE_ID TAG", "Add a tag to a voice", 2,
			func(r *resolver.Resolver, args []string) (registry.Voice, error) { return r.AddVoiceTag(args[0], args[1]) }),
		voiceEdit("untag VOICE_ID TAG", "Remove a tag from a voice", 2,
			func(r *resolver.Resolver, args []string) (registry.Voice, error) { return r.RemoveVoiceTag(args[0], args[1]) }),
		voiceEdit("tone VOICE_ID TONE", "Set a voice's tone (empty clears)", 2,
			func(r *resolver.Resolver, args []string) (registry.Voice, error) { return r.SetVoiceTone(args[0], args[1]) }),
		voiceEdit("accent VOICE_ID ACCENT", "Set a voice's accent (empty clears)", 2,
			func(r *resolver.Resolver, args []string) (registry.Voice, error) { return r.SetVoiceAccent(args[0], args[1]) }),
		voiceEdit("enable VOICE_ID", "Allow random selection of a voice", 1,
			func(r *resolver.Resolver, args []string) (registry.Voice, error) { return r.SetVoiceEnabled(args[0], true) }),
		voiceEdit("disable VOICE_ID", "Exclude a voice from random selection", 1,
			func(r *resolver.Resolver, args []string) (registry.Voice, error) { return r.SetVoiceEnabled(args[0], false) }),
		voiceEdit("reserve VOICE_ID", "Keep a voice for exact overrides only", 1,
			func(r *resolver.Resolver, args []string) (registry.Voice, error) { return r.SetVoiceReserved(args[0], true) }),
		voiceEdit("unreserve VOICE_ID", "Release a reserved voice", 1,
			func(r *resolver.Resolver, args []string) (registry.Voice, error) { return r.SetVoiceReserved(args[0], false) }),
	)
	rootCmd.AddCommand(resolveCmd, testVoiceCmd, voicesCmd)
}

func printVoices(w io.Writer, voices []registry.Voice) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tNAME\tSTATE\tTONE\tACCENT\tTAGS")
	for _, v := range voices {
		state := "enabled"
		switch {
		case v.Reserved:
			state = "reserved"
		case !v.Enabled:
			state = "disabled"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n",
			v.ID, v.DisplayName, state, v.Tone, v.Accent, strings.Join(v.Tags.Strings(), ","))
	}
	tw.Flush()
}
