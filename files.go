package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/vericant/b2-go/internal/storage"
)

func newPutCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "put <local-path> [remote-name]",
		Short: "Upload a file",
		Args:  cobra.RangeArgs(1, 2),
		RunE:  runPut,
	}
}

func newGetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "get <remote-name> [local-path]",
		Short: "Download a file",
		Args:  cobra.RangeArgs(1, 2),
		RunE:  runGet,
	}
}

func newURLCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "url <remote-name>",
		Short: "Print a file's download URL",
		Args:  cobra.ExactArgs(1),
		RunE:  runURL,
	}
}

func runPut(cmd *cobra.Command, args []string) error {
	localPath := args[0]

	remoteName := filepath.Base(localPath)
	if len(args) == 2 {
		remoteName = args[1]
	}

	logger := buildLogger()
	backend := storage.NewB2Backend(newClient(logger), logger)

	f, err := os.Open(localPath)
	if err != nil {
		return fmt.Errorf("opening %s: %w", localPath, err)
	}
	defer f.Close()

	storedName, err := backend.Save(cmd.Context(), remoteName, f)
	if err != nil {
		return err
	}

	fmt.Fprintln(cmd.OutOrStdout(), storedName)

	return nil
}

func runGet(cmd *cobra.Command, args []string) error {
	remoteName := args[0]

	localPath := filepath.Base(remoteName)
	if len(args) == 2 {
		localPath = args[1]
	}

	logger := buildLogger()
	client := newClient(logger)

	f, err := os.Create(localPath)
	if err != nil {
		return fmt.Errorf("creating %s: %w", localPath, err)
	}

	if _, err := client.Download(cmd.Context(), remoteName, f); err != nil {
		f.Close()
		os.Remove(localPath)

		return err
	}

	if err := f.Close(); err != nil {
		return fmt.Errorf("closing %s: %w", localPath, err)
	}

	return nil
}

func runURL(cmd *cobra.Command, args []string) error {
	logger := buildLogger()
	client := newClient(logger)

	fileURL, err := client.FileURL(cmd.Context(), args[0])
	if err != nil {
		return err
	}

	fmt.Fprintln(cmd.OutOrStdout(), fileURL)

	return nil
}
