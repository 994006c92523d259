package cmd

import (
	"context"
	"fmt"
	"strings"

	"github.com/audiolibrelab/spatialrec/internal/service"
)

func executePipeline(ctx context.Context, svc service.Service, id string) error {
	if pipeline == "" {
		return nil
	}

	// Execute each step in order
	for _, step := range strings.ToLower(pipeline) {
		fmt.Printf("Pipeline: executing step '%c'...\n", step)
		if err := svc.RunPipeline(ctx, id, string(step)); err != nil {
			return err
		}
		switch step {
		case 'e':
			fmt.Printf("Pipeline: exported to %s\n", cfg.Export.Directory)
		case 'p':
			fmt.Println("Pipeline: playback completed")
		}
	}

	return nil
}

func validatePipeline() error {
	if pipeline == "" {
		return nil
	}

	validSteps := map[rune]bool{
		'e': true, // export
		'p': true, // play
	}

	for _, step := range strings.ToLower(pipeline) {
		if !validSteps[step] {
			return fmt.Errorf("invalid pipeline step: '%c' (valid: e=export, p=play)", step)
		}
	}

	return nil
}
