package audio

import (
	"context"
	"fmt"
	"os/exec"
	"sort"
	"strings"
)

// ListPipeWireCapturePorts returns the PipeWire output ports that carry
// capture audio, as reported by pw-link. It is a fallback view for hosts
// where the pulse compatibility server is not running.
func ListPipeWireCapturePorts(ctx context.Context) ([]string, error) {
	output, err := exec.CommandContext(ctx, "pw-link", "-o").Output()
	if err != nil {
		return nil, fmt.Errorf("failed to list PipeWire ports: %w", err)
	}
	return parseCapturePorts(string(output)), nil
}

// parseCapturePorts keeps capture and monitor ports, one per line, sorted.
func parseCapturePorts(output string) []string {
	var ports []string
	for _, line := range strings.Split(output, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasSuffix(line, "ports:") {
			continue
		}
		lower := strings.ToLower(line)
		if strings.Contains(lower, "capture") || strings.Contains(lower, "monitor") {
			ports = append(ports, line)
		}
	}
	sort.Strings(ports)
	return ports
}
