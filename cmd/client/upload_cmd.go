package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/pitchbox/pitchbox/internal/sdk"
	"github.com/pitchbox/pitchbox/internal/uploader"
	"github.com/pitchbox/pitchbox/internal/utils"
)

var uploadCmd = &cobra.Command{
	Use:   "upload <video-file>",
	Short: "Upload a match video for analysis",
	Long: "Uploads a match video to the PitchBox server. Large files go up in resumable\n" +
		"chunks; if the upload is interrupted, re-running the same command resumes\n" +
		"from the last completed part.",
	Args: cobra.ExactArgs(1),
	RunE: runUpload,
}

func init() {
	flags := uploadCmd.Flags()
	flags.SortFlags = false
	flags.Int64P("match", "m", 0, "match id (required)")
	flags.String("left-side", "", `which team defends the left half: "home" or "away" (required)`)
	flags.Int64("team-left", 0, "id of the team defending the left half (required)")
	flags.Int64("team-right", 0, "id of the team defending the right half (required)")
	flags.String("attack-direction", "", `"leftToRight" or "rightToLeft"`)
	flags.String("provider", "pitchbox", "analysis provider")
	flags.Bool("transcode", false, "normalize the video to mp4 after upload")
	flags.Bool("normalize", false, "normalize detected event coordinates")
	flags.Int("concurrency", uploader.DefaultConcurrency, "parallel part uploads")
	flags.String("chunk-size", "", `proposed chunk size, e.g. "16MiB" (default adaptive)`)
	flags.Duration("part-timeout", 0, "timeout per part request")

	uploadCmd.MarkFlagRequired("match")
	uploadCmd.MarkFlagRequired("left-side")
	uploadCmd.MarkFlagRequired("team-left")
	uploadCmd.MarkFlagRequired("team-right")
}

func runUpload(cmd *cobra.Command, args []string) error {
	cmd.SilenceUsage = true
	showHeader()

	filePath, err := utils.ResolvePath(args[0])
	if err != nil {
		return err
	}

	matchID, _ := cmd.Flags().GetInt64("match")
	leftSide, _ := cmd.Flags().GetString("left-side")
	teamLeft, _ := cmd.Flags().GetInt64("team-left")
	teamRight, _ := cmd.Flags().GetInt64("team-right")
	attackDir, _ := cmd.Flags().GetString("attack-direction")
	provider, _ := cmd.Flags().GetString("provider")
	transcode, _ := cmd.Flags().GetBool("transcode")
	normalize, _ := cmd.Flags().GetBool("normalize")
	concurrency, _ := cmd.Flags().GetInt("concurrency")
	chunkSizeStr, _ := cmd.Flags().GetString("chunk-size")
	partTimeout, _ := cmd.Flags().GetDuration("part-timeout")

	req := &uploader.UploadRequest{
		MatchID:         matchID,
		FilePath:        filePath,
		Provider:        provider,
		LeftSideTeam:    leftSide,
		TeamLeftID:      teamLeft,
		TeamRightID:     teamRight,
		AttackDirection: attackDir,
		Transcode:       transcode,
		Normalize:       normalize,
	}
	if err := uploader.ValidateRequest(req); err != nil {
		fmt.Println(red("✗"), err)
		return err
	}

	var chunkSize int64
	if chunkSizeStr != "" {
		size, err := humanize.ParseBytes(chunkSizeStr)
		if err != nil {
			return fmt.Errorf("invalid chunk size %q: %w", chunkSizeStr, err)
		}
		chunkSize = int64(size)
	}

	client, err := sdk.New(viper.GetString("server_url"))
	if err != nil {
		return err
	}
	defer client.Close()

	store := uploader.NewFileStore(viper.GetString("session_dir"))
	registry := uploader.NewRegistry(store)
	defer registry.Close()

	info, err := os.Stat(filePath)
	if err != nil {
		return err
	}

	entry, uploadCtx, cancel, err := registry.Register(matchID, filePath, info.Size())
	if err != nil {
		return err
	}
	defer cancel()

	// Ctrl-C cancels the upload but keeps the session on disk for a resume.
	go func() {
		select {
		case <-cmd.Context().Done():
			cancel()
		case <-uploadCtx.Done():
		}
	}()

	orc := uploader.New(client.Upload, client.Video, store, uploader.Options{
		Concurrency: concurrency,
		ChunkSize:   chunkSize,
		PartTimeout: partTimeout,
		OnProgress: func(p uploader.Progress) {
			registry.UpdateProgress(entry.ID, p)
			renderProgress(p)
		},
		OnState: func(state uploader.State) {
			renderState(state)
		},
	})

	var result *uploader.Result
	if uploader.UseSingleUpload(info.Size()) {
		result, err = orc.RunSingle(uploadCtx, req, func(ctx context.Context) (string, error) {
			resp, err := client.Upload.UploadSingle(ctx, &sdk.SingleUploadParams{
				MatchID:  matchID,
				FilePath: filePath,
				Callback: func(uploadedBytes, totalBytes int64) {
					fmt.Printf("\r  uploading %s / %s",
						humanize.IBytes(uint64(uploadedBytes)), humanize.IBytes(uint64(totalBytes)))
				},
			})
			if err != nil {
				return "", err
			}
			fmt.Println()
			return resp.VideoPath, nil
		})
	} else {
		result, err = orc.Run(uploadCtx, req)
	}
	if err != nil {
		registry.SetError(entry.ID, err)
		return reportFailure(err)
	}
	registry.SetCompleted(entry.ID)

	fmt.Println(green("✓"), "upload complete:", cyan(result.VideoPath))
	if result.Analysis != nil {
		fmt.Printf("%s analysis by %s: %d events detected\n",
			green("✓"), result.Analysis.Provider, len(result.Analysis.Events))
	} else if result.AnalyzeErr != nil {
		fmt.Println(red("✗"), "analysis failed:", result.AnalyzeErr)
	}
	return nil
}

func reportFailure(err error) error {
	switch {
	case uploader.IsCancellation(err):
		fmt.Println(red("✗"), "upload cancelled. Re-run the same command to resume.")
	default:
		var partsErr *uploader.PartsFailedError
		if errors.As(err, &partsErr) {
			fmt.Printf("%s %d part(s) failed to upload. Re-run the same command to retry them.\n",
				red("✗"), len(partsErr.Parts))
		} else {
			fmt.Println(red("✗"), err)
		}
	}
	return err
}

func renderProgress(p uploader.Progress) {
	eta := "--"
	if p.ETA > 0 {
		eta = p.ETA.Round(time.Second).String()
	}
	fmt.Printf("\r  %5.1f%%  %s / %s  parts %d/%d  %s/s  eta %s   ",
		p.Percent(),
		humanize.IBytes(uint64(p.UploadedBytes)),
		humanize.IBytes(uint64(p.TotalBytes)),
		p.CompletedParts, p.TotalParts,
		humanize.IBytes(uint64(int64(p.Speed))),
		eta)
}

func renderState(state uploader.State) {
	switch state {
	case uploader.StateInitializing:
		fmt.Println(cyan("•"), "initializing upload session")
	case uploader.StateReconciling:
		fmt.Println(cyan("•"), "checking for resumable parts")
	case uploader.StateTransferring:
		fmt.Println(cyan("•"), "transferring")
	case uploader.StateRetryingParts:
		fmt.Println()
		fmt.Println(cyan("•"), "retrying failed parts")
	case uploader.StateFinalizing:
		fmt.Println()
		fmt.Println(cyan("•"), "finalizing")
	}
}
