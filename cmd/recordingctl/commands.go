package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/Lllllllleong/meetingrecordingflow/internal/config"
	"github.com/Lllllllleong/meetingrecordingflow/internal/logging"
	"github.com/Lllllllleong/meetingrecordingflow/internal/meet"
	"github.com/Lllllllleong/meetingrecordingflow/internal/models"
	"github.com/Lllllllleong/meetingrecordingflow/internal/pipeline"
	"github.com/Lllllllleong/meetingrecordingflow/internal/services"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

// Operations is the pipeline surface the CLI drives.
type Operations interface {
	SubmitRecording(ctx context.Context, req pipeline.SubmitRequest) (string, error)
	GetStatus(ctx context.Context, id string) (models.StatusResponse, error)
	RegenerateTranscript(ctx context.Context, id, provider string) error
	RegenerateSummary(ctx context.Context, id string) error
	ReconcileMeetingData(ctx context.Context, id string) (meet.Outcome, error)
	Delete(ctx context.Context, id string) error
	Resume(ctx context.Context) (pipeline.ResumeReport, error)
	Wait(ctx context.Context, id string) error
	Drain(ctx context.Context) error
}

// CommandDeps holds dependencies for the CLI commands.
type CommandDeps struct {
	// Open builds the pipeline. The returned func releases it.
	Open func(ctx context.Context) (Operations, func(context.Context) error, error)
}

// DefaultDeps wires the pipeline from the environment.
func DefaultDeps() *CommandDeps {
	return &CommandDeps{Open: openRuntime}
}

func openRuntime(ctx context.Context) (Operations, func(context.Context) error, error) {
	cfg, err := config.LoadFor(config.RoleCLI)
	if err != nil {
		return nil, nil, err
	}
	log := logging.New(logging.Config{Level: cfg.LogLevel, Service: "recordingctl"})

	// The CLI has no metrics endpoint.
	rt, err := services.NewRuntime(ctx, cfg, config.RoleCLI, log, nil)
	if err != nil {
		return nil, nil, err
	}
	return rt.Orchestrator, rt.Close, nil
}

var (
	outputFormat string
	waitTimeout  time.Duration
)

func newRootCommand(deps *CommandDeps) *cobra.Command {
	if deps == nil {
		deps = DefaultDeps()
	}

	cmd := &cobra.Command{
		Use:   "recordingctl",
		Short: "Operate the meeting recording pipeline",
		Long: `Operate the meeting recording pipeline.

Configuration is read from RECORDINGFLOW_CONFIG, the environment and a local
.env file.

Examples:
  # Transcribe and summarize an uploaded recording
  recordingctl submit gs://uploads/standup.mp4 --user alice

  # Attach Google Meet participants to it
  recordingctl submit gs://uploads/standup.mp4 --user alice --meet abc-defg-hij

  # Re-run transcription with another provider
  recordingctl regenerate transcript <id> --provider google_speech`,
		SilenceUsage: true,
	}
	cmd.PersistentFlags().StringVarP(&outputFormat, "output", "o", "text", "Output format: text, json, yaml")
	cmd.PersistentFlags().DurationVar(&waitTimeout, "timeout", 2*time.Hour, "How long to wait for background work")

	cmd.AddCommand(newSubmitCommand(deps))
	cmd.AddCommand(newStatusCommand(deps))
	cmd.AddCommand(newRegenerateCommand(deps))
	cmd.AddCommand(newReconcileCommand(deps))
	cmd.AddCommand(newDeleteCommand(deps))
	cmd.AddCommand(newResumeCommand(deps))
	return cmd
}

// withOps opens the pipeline around fn and always releases it.
func withOps(cmd *cobra.Command, deps *CommandDeps, fn func(ctx context.Context, ops Operations) error) (err error) {
	ctx := cmd.Context()
	ops, closeFn, err := deps.Open(ctx)
	if err != nil {
		return err
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
		defer cancel()
		if cerr := closeFn(closeCtx); cerr != nil && err == nil {
			err = cerr
		}
	}()
	return fn(ctx, ops)
}

func waitFor(ctx context.Context, ops Operations, id string) error {
	waitCtx, cancel := context.WithTimeout(ctx, waitTimeout)
	defer cancel()
	return ops.Wait(waitCtx, id)
}

func newSubmitCommand(deps *CommandDeps) *cobra.Command {
	var (
		userID    string
		meetingID string
		provider  string
		noWait    bool
	)
	cmd := &cobra.Command{
		Use:   "submit <media-url>",
		Short: "Submit a recording for transcription and summary",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			req := pipeline.SubmitRequest{
				UserID:   userID,
				MediaURL: args[0],
				Provider: provider,
			}
			if meetingID != "" {
				req.MeetingPlatform = models.PlatformGoogleMeet
				req.MeetingID = meetingID
			}
			return withOps(cmd, deps, func(ctx context.Context, ops Operations) error {
				id, err := ops.SubmitRecording(ctx, req)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.ErrOrStderr(), "Recording %s created.\n", id)
				if noWait {
					return nil
				}
				if err := waitFor(ctx, ops, id); err != nil {
					return err
				}
				return printStatus(ctx, cmd.OutOrStdout(), ops, id)
			})
		},
	}
	cmd.Flags().StringVar(&userID, "user", "", "Owner user id")
	cmd.Flags().StringVar(&meetingID, "meet", "", "Google Meet meeting code")
	cmd.Flags().StringVar(&provider, "provider", "", "Transcription provider (default from config)")
	cmd.Flags().BoolVar(&noWait, "no-wait", false, "Return once the recording is created")
	_ = cmd.MarkFlagRequired("user")
	return cmd
}

func newStatusCommand(deps *CommandDeps) *cobra.Command {
	return &cobra.Command{
		Use:   "status <id>",
		Short: "Show the processing status of a recording",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withOps(cmd, deps, func(ctx context.Context, ops Operations) error {
				return printStatus(ctx, cmd.OutOrStdout(), ops, args[0])
			})
		},
	}
}

func newRegenerateCommand(deps *CommandDeps) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "regenerate",
		Short: "Re-run transcription or summary for a recording",
	}

	var provider string
	transcript := &cobra.Command{
		Use:   "transcript <id>",
		Short: "Re-transcribe, then re-summarize",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withOps(cmd, deps, func(ctx context.Context, ops Operations) error {
				if err := ops.RegenerateTranscript(ctx, args[0], provider); err != nil {
					return err
				}
				if err := waitFor(ctx, ops, args[0]); err != nil {
					return err
				}
				return printStatus(ctx, cmd.OutOrStdout(), ops, args[0])
			})
		},
	}
	transcript.Flags().StringVar(&provider, "provider", "", "Transcription provider (default: the recording's)")

	summary := &cobra.Command{
		Use:   "summary <id>",
		Short: "Re-summarize the stored transcript",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withOps(cmd, deps, func(ctx context.Context, ops Operations) error {
				if err := ops.RegenerateSummary(ctx, args[0]); err != nil {
					return err
				}
				return printStatus(ctx, cmd.OutOrStdout(), ops, args[0])
			})
		},
	}

	cmd.AddCommand(transcript, summary)
	return cmd
}

func newReconcileCommand(deps *CommandDeps) *cobra.Command {
	return &cobra.Command{
		Use:   "reconcile <id>",
		Short: "Fetch participants and transcript from Google Meet",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withOps(cmd, deps, func(ctx context.Context, ops Operations) error {
				out, err := ops.ReconcileMeetingData(ctx, args[0])
				if err != nil {
					return err
				}
				return render(cmd.OutOrStdout(), models.ReconcileResponse{
					Outcome:           string(out.Kind),
					Message:           out.Message,
					AlreadyExists:     out.AlreadyExists,
					Participants:      len(out.Participants),
					TranscriptEntries: len(out.Entries),
					TranscriptFilled:  out.TranscriptFilled,
				}, func(w io.Writer) {
					fmt.Fprintf(w, "%s: %s\n", out.Kind, out.Message)
				})
			})
		},
	}
}

func newDeleteCommand(deps *CommandDeps) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete a recording and its meeting data",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withOps(cmd, deps, func(ctx context.Context, ops Operations) error {
				if err := ops.Delete(ctx, args[0]); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Recording %s deleted.\n", args[0])
				return nil
			})
		},
	}
}

func newResumeCommand(deps *CommandDeps) *cobra.Command {
	var wait bool
	cmd := &cobra.Command{
		Use:   "resume",
		Short: "Recover recordings left processing by a crashed process",
		Long: `Recover recordings left processing by a crashed process.

Recordings with a submitted provider job are polled again; recordings that
never reached a provider are failed so they can be regenerated. Run this
only while no other pipeline process is active.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withOps(cmd, deps, func(ctx context.Context, ops Operations) error {
				report, err := ops.Resume(ctx)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Resumed %d, failed %d, summaries started %d.\n",
					report.Resumed, report.Failed, report.Summaries)
				if !wait {
					return nil
				}
				drainCtx, cancel := context.WithTimeout(ctx, waitTimeout)
				defer cancel()
				return ops.Drain(drainCtx)
			})
		},
	}
	cmd.Flags().BoolVar(&wait, "wait", true, "Keep running until resumed work finishes; otherwise resumed polls stop on exit")
	return cmd
}

func printStatus(ctx context.Context, w io.Writer, ops Operations, id string) error {
	st, err := ops.GetStatus(ctx, id)
	if err != nil {
		return err
	}
	return render(w, st, func(w io.Writer) {
		tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
		fmt.Fprintf(tw, "Recording:\t%s\n", st.RecordingID)
		fmt.Fprintf(tw, "Provider:\t%s\n", st.Provider)
		fmt.Fprintf(tw, "Transcription:\t%s\n", statusLine(st.TranscriptionStatus, st.TranscriptionError))
		fmt.Fprintf(tw, "Summary:\t%s\n", statusLine(st.SummaryStatus, st.SummaryError))
		if st.Job != nil {
			fmt.Fprintf(tw, "Job:\t%s (%s)\n", st.Job.ID, st.Job.Provider)
		}
		_ = tw.Flush()
		if st.Summary != nil {
			fmt.Fprintf(w, "\n%s\n\n%s\n", st.Summary.Title, st.Summary.Minutes)
			for _, item := range st.Summary.ActionItems {
				fmt.Fprintf(w, "  - %s (%s)\n", item.Task, item.Assignee)
			}
		}
	})
}

func statusLine(st models.Status, reason string) string {
	if reason == "" {
		return string(st)
	}
	return fmt.Sprintf("%s: %s", st, reason)
}

func render(w io.Writer, v any, text func(io.Writer)) error {
	switch strings.ToLower(outputFormat) {
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	case "yaml":
		return yaml.NewEncoder(w).Encode(v)
	case "", "text":
		text(w)
		return nil
	default:
		return fmt.Errorf("unknown output format %q", outputFormat)
	}
}
