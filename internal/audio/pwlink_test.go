package audio

import (
	"testing"
)

func TestParseCapturePorts(t *testing.T) {
	output := `Output ports:
alsa_input.usb-Focusrite:capture_FL
alsa_input.usb-Focusrite:capture_FR
Firefox:output_FL
alsa_output.pci:monitor_FL

`
	ports := parseCapturePorts(output)
	want := []string{
		"alsa_input.usb-Focusrite:capture_FL",
		"alsa_input.usb-Focusrite:capture_FR",
		"alsa_output.pci:monitor_FL",
	}
	if len(ports) != len(want) {
		t.Fatalf("expected %d ports, got %v", len(want), ports)
	}
	for i := range want {
		if ports[i] != want[i] {
			t.Errorf("port %d: expected %s, got %s", i, want[i], ports[i])
		}
	}
}
