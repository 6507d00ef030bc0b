package main

import (
	"fmt"
	"sort"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/pitchbox/pitchbox/internal/uploader"
)

var uploadsCmd = &cobra.Command{
	Use:   "uploads",
	Short: "List resumable upload sessions",
	RunE: func(cmd *cobra.Command, args []string) error {
		cmd.SilenceUsage = true

		store := uploader.NewFileStore(viper.GetString("session_dir"))
		registry := uploader.NewRegistry(store)
		defer registry.Close()

		if err := registry.LoadFromStore(); err != nil {
			return err
		}

		infos := registry.List()
		if len(infos) == 0 {
			fmt.Println("No resumable uploads.")
			return nil
		}

		sort.Slice(infos, func(i, j int) bool {
			return infos[i].UpdatedAt.After(infos[j].UpdatedAt)
		})

		for _, info := range infos {
			fmt.Printf("%s  match %d  %s\n", cyan(info.ID), info.MatchID, info.FilePath)
			fmt.Printf("    %s  %5.1f%%  parts %d/%d  %s / %s  updated %s\n",
				info.Status,
				info.Progress,
				info.CompletedParts, info.TotalParts,
				humanize.IBytes(uint64(info.UploadedBytes)),
				humanize.IBytes(uint64(info.Size)),
				humanize.Time(info.UpdatedAt))
		}
		return nil
	},
}
