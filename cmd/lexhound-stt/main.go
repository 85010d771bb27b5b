// Command lexhound-stt is the capture client: it reads 16 kHz mono 16-bit
// PCM from stdin (pipe it from arecord, sox, or ffmpeg), runs the
// voice-activity transcription loop against a whisper server, and streams
// the resulting transcriptions to the lexhound gateway over WebSocket.
//
// Example:
//
//	arecord -f S16_LE -r 16000 -c 1 -t raw | lexhound-stt -config config.yaml
package main

import (
	"bufio"
	"context"
	"encoding/binary"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	gonanoid "github.com/matoous/go-nanoid/v2"
	"golang.org/x/sync/errgroup"

	"github.com/lexhound/lexhound/internal/config"
	"github.com/lexhound/lexhound/internal/stt"
	"github.com/lexhound/lexhound/pkg/audio"
)

// frameDuration is the stdin read granularity fed into the VAD loop.
const frameDuration = 100 * time.Millisecond

func main() {
	os.Exit(run())
}

func run() int {
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	gatewayURL := flag.String("gateway", "ws://localhost:8000", "lexhound server base WebSocket URL")
	clientID := flag.String("client-id", "", "client id announced to the gateway (default stt_<random>)")
	verbose := flag.Bool("verbose", false, "enable debug logging")
	flag.Parse()

	level := slog.LevelInfo
	if *verbose {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "lexhound-stt: %v\n", err)
		return 1
	}

	id := *clientID
	if id == "" {
		id = "stt_" + gonanoid.MustGenerate("abcdefghijklmnopqrstuvwxyz0123456789", 6)
	}

	profile := stt.LoadProfile()
	slog.Info("capture client starting",
		"client_id", id,
		"profile", profile.Name,
		"model_size", profile.ModelSize,
		"whisper", cfg.STT.BaseURL,
	)

	transcriber, err := config.DefaultRegistry().CreateSTT("whisper", cfg.STT)
	if err != nil {
		slog.Error("transcriber setup failed", "error", err)
		return 1
	}

	client, err := stt.NewClient(*gatewayURL + "/ws/" + id)
	if err != nil {
		slog.Error("gateway client setup failed", "error", err)
		return 1
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	loop := stt.NewLoop(profile, transcriber, client, id)
	if err := runPipeline(ctx, client, loop, os.Stdin); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("capture client error", "error", err)
		return 1
	}
	slog.Info("capture client stopped")
	return 0
}

// gatewayRunner and frameConsumer are the two long-running halves of the
// client, narrowed to interfaces so the shutdown plumbing is testable.
type gatewayRunner interface {
	Run(ctx context.Context) error
}

type frameConsumer interface {
	Run(ctx context.Context, frames <-chan audio.Frame) error
}

// runPipeline runs the gateway client, the VAD loop, and the frame reader
// until ctx is cancelled or the audio source ends. When the loop finishes
// draining the final frames, the shared context is cancelled so the gateway
// client does not outlive its audio source.
func runPipeline(ctx context.Context, client gatewayRunner, loop frameConsumer, src io.Reader) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	frames := make(chan audio.Frame, 8)
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return client.Run(ctx) })
	g.Go(func() error {
		defer cancel()
		return loop.Run(ctx, frames)
	})
	g.Go(func() error {
		defer close(frames)
		return readFrames(ctx, src, frames)
	})
	return g.Wait()
}

// readFrames slices stdin PCM into fixed-duration frames until EOF or ctx
// cancellation. Samples are 16-bit signed little-endian mono at the loop's
// fixed rate.
func readFrames(ctx context.Context, r io.Reader, frames chan<- audio.Frame) error {
	samplesPerFrame := int(frameDuration.Seconds() * stt.SampleRate)
	buf := make([]byte, samplesPerFrame*2)
	reader := bufio.NewReaderSize(r, len(buf)*4)

	var elapsed time.Duration
	for {
		if ctx.Err() != nil {
			return nil
		}

		n, err := io.ReadFull(reader, buf)
		if errors.Is(err, io.EOF) {
			return nil
		}
		if errors.Is(err, io.ErrUnexpectedEOF) {
			// Trailing partial frame; still worth feeding to the VAD.
			n -= n % 2
			if n == 0 {
				return nil
			}
			err = nil
		}
		if err != nil {
			return fmt.Errorf("read audio: %w", err)
		}

		samples := make([]float32, n/2)
		for i := range samples {
			s := int16(binary.LittleEndian.Uint16(buf[i*2:]))
			samples[i] = float32(s) / 32768
		}

		frame := audio.Frame{
			Samples:    samples,
			SampleRate: stt.SampleRate,
			Timestamp:  elapsed,
		}
		elapsed += frame.Duration()

		select {
		case frames <- frame:
		case <-ctx.Done():
			return nil
		}
	}
}
