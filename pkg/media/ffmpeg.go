package media

import (
	"errors"
	"fmt"
	"io"
	"os/exec"
	"runtime"
)

// ffmpegMic reads raw s16le PCM from an ffmpeg capture subprocess.
type ffmpegMic struct {
	cmd    *exec.Cmd
	stdout io.ReadCloser
}

// OpenFFmpegMic spawns ffmpeg against the platform capture backend and
// streams mono s16le PCM at the given sample rate.
func OpenFFmpegMic(sampleRateHz int) (Device, error) {
	if _, err := exec.LookPath("ffmpeg"); err != nil {
		return nil, errors.New("ffmpeg is required for mic capture (install ffmpeg and ensure it is in PATH)")
	}
	args, err := micFFmpegArgs(runtime.GOOS, sampleRateHz)
	if err != nil {
		return nil, err
	}
	cmd := exec.Command("ffmpeg", args...)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("open ffmpeg stdout: %w", err)
	}
	cmd.Stderr = io.Discard
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start ffmpeg mic capture: %w", err)
	}
	return &ffmpegMic{cmd: cmd, stdout: stdout}, nil
}

func micFFmpegArgs(goos string, sampleRateHz int) ([]string, error) {
	switch goos {
	case "darwin":
		return []string{
			"-hide_banner", "-loglevel", "error",
			"-f", "avfoundation", "-i", ":0",
			"-ac", "1", "-ar", fmt.Sprintf("%d", sampleRateHz),
			"-f", "s16le", "-",
		}, nil
	case "linux":
		return []string{
			"-hide_banner", "-loglevel", "error",
			"-f", "pulse", "-i", "default",
			"-ac", "1", "-ar", fmt.Sprintf("%d", sampleRateHz),
			"-f", "s16le", "-",
		}, nil
	default:
		return nil, fmt.Errorf("mic capture is not implemented for %s; supported platforms: darwin, linux", goos)
	}
}

func (m *ffmpegMic) Read(p []byte) (int, error) {
	if m == nil || m.stdout == nil {
		return 0, io.EOF
	}
	return m.stdout.Read(p)
}

func (m *ffmpegMic) Close() error {
	if m == nil {
		return nil
	}
	if m.cmd != nil && m.cmd.Process != nil {
		_ = m.cmd.Process.Kill()
		_ = m.cmd.Wait()
	}
	return nil
}

// ffplayProc plays one artifact piped to an ffplay subprocess.
type ffplayProc struct {
	cmd   *exec.Cmd
	stdin io.WriteCloser
}

// StartFFplay spawns ffplay reading one artifact from stdin. The process
// exits on its own when the artifact ends.
func StartFFplay() (PlaybackProc, error) {
	if _, err := exec.LookPath("ffplay"); err != nil {
		return nil, errors.New("ffplay is required for playback (install ffmpeg/ffplay and ensure it is in PATH)")
	}
	cmd := exec.Command("ffplay",
		"-nodisp",
		"-autoexit",
		"-loglevel", "error",
		"-i", "pipe:0",
	)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("open ffplay stdin: %w", err)
	}
	cmd.Stdout = io.Discard
	cmd.Stderr = io.Discard
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start ffplay: %w", err)
	}
	return &ffplayProc{cmd: cmd, stdin: stdin}, nil
}

func (p *ffplayProc) Write(data []byte) (int, error) {
	return p.stdin.Write(data)
}

func (p *ffplayProc) CloseWrite() error {
	return p.stdin.Close()
}

func (p *ffplayProc) Wait() error {
	return p.cmd.Wait()
}

func (p *ffplayProc) Kill() error {
	if p.cmd.Process != nil {
		return p.cmd.Process.Kill()
	}
	return nil
}
