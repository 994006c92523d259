package cmd

import (
	"fmt"
	"log/slog"
	"runtime"

	"github.com/audiolibrelab/spatialrec/internal/audio"

	"github.com/spf13/cobra"
)

var sourcesCmd = &cobra.Command{
	Use:   "sources",
	Short: "List available audio sources",
	Long:  `List the capture backends and the PulseAudio sources that can be used for recording.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		fmt.Printf("🎵 Audio Sources (%s)\n", runtime.GOOS)
		fmt.Printf("═══════════════════════════════════════\n\n")

		fmt.Printf("Backends: ")
		for i, backend := range audio.GetAvailableBackends() {
			if i > 0 {
				fmt.Printf(", ")
			}
			fmt.Printf("%s", backend)
		}
		fmt.Printf(" (configured: %s)\n\n", cfg.Capture.Backend)

		sources, err := audio.ListPulseSources()
		if err != nil {
			slog.Warn("PulseAudio is not reachable", "error", err)
			return listPipeWirePorts(cmd)
		}

		fmt.Printf("📋 PULSEAUDIO SOURCES (%d found):\n", len(sources))
		for i, source := range sources {
			marker := " "
			if source == cfg.Capture.Source {
				marker = "*"
			}
			fmt.Printf(" %s%d. %s\n", marker, i+1, source)
		}

		fmt.Printf("\n💡 Usage:\n")
		fmt.Printf("  • Leave capture.source empty to record from the default source\n")
		fmt.Printf("  • Example: capture.source: \"alsa_input.usb-Focusrite_Scarlett_2i2-00.analog-stereo\"\n\n")

		return nil
	},
}

// listPipeWirePorts shows the raw PipeWire capture ports when no pulse
// server answers
func listPipeWirePorts(cmd *cobra.Command) error {
	ports, err := audio.ListPipeWireCapturePorts(cmd.Context())
	if err != nil {
		fmt.Printf("No PulseAudio or PipeWire server reachable, only the synthetic backend is usable.\n")
		return nil
	}

	fmt.Printf("📋 PIPEWIRE CAPTURE PORTS (%d found):\n", len(ports))
	for i, port := range ports {
		fmt.Printf("  %d. %s\n", i+1, port)
	}
	fmt.Printf("\n💡 Start pipewire-pulse to record from these ports.\n\n")
	return nil
}

var probeCmd = &cobra.Command{
	Use:   "probe",
	Short: "Request microphone access and show the device capability",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		svc, err := newService(cmd.Context())
		if err != nil {
			return err
		}
		defer svc.Close()

		capability, err := svc.Probe(cmd.Context())
		if err != nil {
			return err
		}

		fmt.Printf("backend: %s\n", capability.Backend)
		fmt.Printf("device: %s\n", capability.DeviceName)
		fmt.Printf("sample_rate: %d\n", capability.SampleRate)
		fmt.Printf("channels: %d\n", capability.ChannelCount)
		fmt.Printf("mic_type: %s\n", capability.MicType())
		fmt.Printf("device_class: %s\n", capability.DeviceClass)
		fmt.Printf("block_size: %d\n", capability.BlockSize)
		return nil
	},
}
