package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"github.com/xaenox/carebot/internal/assessment"
	"github.com/xaenox/carebot/internal/models"
)

func newAssessCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "assess [transcript.json]",
		Short: "Score a saved transcript with the heuristic estimator",
		Long:  "Reads a JSON array of messages ({\"role\": \"user\", \"content\": \"...\"}) and prints the assessment.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := os.Open(args[0])
			if err != nil {
				return err
			}
			defer f.Close()

			messages, err := readTranscript(f)
			if err != nil {
				return err
			}

			result := assessment.NewEstimator().Estimate(messages)
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(result)
		},
	}
}

func readTranscript(r io.Reader) ([]models.Message, error) {
	var messages []models.Message
	if err := json.NewDecoder(r).Decode(&messages); err != nil {
		return nil, fmt.Errorf("failed to parse transcript: %w", err)
	}
	for i, m := range messages {
		if !m.Role.Valid() {
			return nil, fmt.Errorf("message %d: invalid role %q", i, m.Role)
		}
	}
	return messages, nil
}
