package play

import (
	"context"
	"fmt"
	"log/slog"
	"os/exec"
	"strings"

	"github.com/spf13/afero"
)

// players lists the supported external players in order of preference.
var players = []string{"aplay", "ffplay", "mpv", "vlc"}

type Player struct {
	fs       afero.Fs
	lookPath func(string) (string, error)
	command  func(ctx context.Context, name string, args ...string) *exec.Cmd
}

func New() *Player {
	return &Player{
		fs:       afero.NewOsFs(),
		lookPath: exec.LookPath,
		command:  exec.CommandContext,
	}
}

// PlayData writes a WAV recording to a temporary file and plays it.
func (p *Player) PlayData(ctx context.Context, data []byte, filename string) error {
	tmp, err := afero.TempFile(p.fs, "", "spatialrec-*.wav")
	if err != nil {
		return fmt.Errorf("failed to create temporary file: %w", err)
	}
	path := tmp.Name()
	defer p.fs.Remove(path)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write temporary file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close temporary file: %w", err)
	}

	slog.Info("Playing recording", "filename", filename)
	return p.PlayFile(ctx, path)
}

// PlayFile plays a WAV file with the first available player.
func (p *Player) PlayFile(ctx context.Context, audioFile string) error {
	if _, err := p.fs.Stat(audioFile); err != nil {
		return fmt.Errorf("audio file not found: %s", audioFile)
	}

	player, err := p.findAudioPlayer()
	if err != nil {
		return fmt.Errorf("no suitable audio player found: %w", err)
	}

	name, args := playerArgs(player, audioFile)
	cmd := p.command(ctx, name, args...)
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("playback failed with %s: %w", player, err)
	}

	slog.Debug("Playback completed", "player", player)
	return nil
}

func playerArgs(player, audioFile string) (string, []string) {
	switch player {
	case "vlc":
		return "vlc", []string{"--intf", "dummy", "--play-and-exit", audioFile}
	case "mpv":
		return "mpv", []string{"--no-video", "--really-quiet", audioFile}
	case "ffplay":
		return "ffplay", []string{"-nodisp", "-autoexit", "-loglevel", "error", audioFile}
	default:
		return "aplay", []string{"-q", audioFile}
	}
}

func (p *Player) findAudioPlayer() (string, error) {
	for _, player := range players {
		if _, err := p.lookPath(player); err == nil {
			return player, nil
		}
	}

	return "", fmt.Errorf("no audio player found (tried: %s)", strings.Join(players, ", "))
}

// Available reports whether any supported player is installed.
func (p *Player) Available() bool {
	_, err := p.findAudioPlayer()
	return err == nil
}
