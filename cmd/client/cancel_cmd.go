package main

import (
	"errors"
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/pitchbox/pitchbox/internal/uploader"
	"github.com/pitchbox/pitchbox/internal/utils"
)

// cancelCmd discards the persisted session of an interrupted upload. The next
// upload of the same file starts from scratch.
var cancelCmd = &cobra.Command{
	Use:   "cancel <video-file>",
	Short: "Discard the resumable session for a video file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cmd.SilenceUsage = true

		matchID, _ := cmd.Flags().GetInt64("match")
		if matchID <= 0 {
			return errors.New("--match is required")
		}

		filePath, err := utils.ResolvePath(args[0])
		if err != nil {
			return err
		}

		store := uploader.NewFileStore(viper.GetString("session_dir"))
		plans, err := store.List()
		if err != nil {
			return err
		}

		for _, plan := range plans {
			if plan.MatchID != matchID || plan.FileName != filepath.Base(filePath) {
				continue
			}
			if err := store.Clear(plan.MatchID, plan.UploadID); err != nil {
				return err
			}
			fmt.Println(green("✓"), "discarded session", cyan(plan.UploadID))
			return nil
		}

		fmt.Println("No session found for", filePath)
		return nil
	},
}

func init() {
	cancelCmd.Flags().Int64P("match", "m", 0, "match id (required)")
	cancelCmd.MarkFlagRequired("match")
}
