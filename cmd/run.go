package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/bnema/waydisplay/display"
	"github.com/bnema/waydisplay/internal/config"
	"github.com/bnema/waydisplay/internal/ipc"
	"github.com/bnema/waydisplay/internal/logger"
	"github.com/bnema/waydisplay/internal/vinput"
	"github.com/gogpu/gg"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	virtualInput  bool
	snapshotDir   string
	snapshotEvery int
	maxFrames     int
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the compositor",
	Long: `Run the headless compositor until interrupted.

The environment a client needs is printed on startup. Frames are pulled
continuously; with --snapshot-dir every Nth frame is written as a PNG.`,
	RunE: runDisplay,
}

func init() {
	f := runCmd.Flags()
	f.String("render-node", "", "DRM render node, or \"software\"")
	f.String("runtime-dir", "", "Directory for the display socket (default $XDG_RUNTIME_DIR)")
	f.Int("width", 0, "Output width")
	f.Int("height", 0, "Output height")
	f.String("format", "", "Raw video format, e.g. RGBx")
	f.String("framerate", "", "Framerate as num/den")
	f.StringSlice("input", nil, "evdev node to inject input from (repeatable)")
	f.Int("queue-capacity", 0, "Frames buffered between compositor and consumer")
	f.Bool("block", false, "Stall the compositor instead of dropping frames when the queue is full")
	f.BoolVar(&virtualInput, "virtual-input", false, "Create a uinput mouse and keyboard and inject from them")
	f.StringVar(&snapshotDir, "snapshot-dir", "", "Write PNG snapshots of frames to this directory")
	f.IntVar(&snapshotEvery, "snapshot-every", 60, "Write every Nth frame when --snapshot-dir is set")
	f.IntVar(&maxFrames, "frames", 0, "Stop after this many frames (0 runs until interrupted)")

	// Bind flags to viper
	viper.BindPFlag("display.render_node", f.Lookup("render-node"))
	viper.BindPFlag("display.runtime_dir", f.Lookup("runtime-dir"))
	viper.BindPFlag("display.width", f.Lookup("width"))
	viper.BindPFlag("display.height", f.Lookup("height"))
	viper.BindPFlag("display.format", f.Lookup("format"))
	viper.BindPFlag("display.framerate", f.Lookup("framerate"))
	viper.BindPFlag("input.devices", f.Lookup("input"))
	viper.BindPFlag("queue.capacity", f.Lookup("queue-capacity"))
	viper.BindPFlag("queue.block_producer", f.Lookup("block"))

	rootCmd.AddCommand(runCmd)
}

func runDisplay(cmd *cobra.Command, args []string) error {
	cfg := config.Get()

	caps, err := cfg.Display.Caps()
	if err != nil {
		return err
	}
	runtimeDir, err := cfg.Display.ResolveRuntimeDir()
	if err != nil {
		return err
	}

	d, err := display.Init(cfg.Display.RenderNode,
		display.WithRuntimeDir(runtimeDir),
		display.WithSocketPrefix(cfg.Display.SocketPrefix),
		display.WithVideoInfo(caps),
		display.WithQueue(cfg.Queue.Capacity, cfg.Queue.BlockProducer),
		display.WithInitTimeout(cfg.Display.InitTimeout),
		display.WithShutdownTimeout(cfg.Display.ShutdownTimeout),
	)
	if err != nil {
		return err
	}
	defer func() {
		if err := d.Finish(); err != nil {
			logger.Errorf("Shutdown: %v", err)
		}
	}()

	for _, path := range cfg.Input.Devices {
		if err := d.AddInputDevice(path); err != nil {
			return err
		}
	}

	if virtualInput {
		v, err := vinput.Create(vinput.DefaultUinput, "waydisplay", 2*time.Second)
		if err != nil {
			return fmt.Errorf("virtual input: %w", err)
		}
		defer v.Close()
		for _, node := range v.Nodes() {
			if err := d.AddInputDevice(node); err != nil {
				return err
			}
		}
		if err := v.Nudge(10); err != nil {
			logger.Warnf("Virtual pointer did not move: %v", err)
		}
	}

	env, err := d.EnvVars()
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	for _, kv := range env {
		fmt.Fprintln(out, kv)
	}

	if cfg.IPC.Enabled {
		srv := ipc.NewSocketServer(ipc.SocketPath(runtimeDir, d.Stats().Socket), &statusHandler{d: d})
		if err := srv.Start(); err != nil {
			logger.Warnf("Control socket disabled: %v", err)
		} else {
			defer srv.Stop()
		}
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	go func() {
		<-ctx.Done()
		// Finish releases the Frame call below.
		if err := d.Finish(); err != nil {
			logger.Errorf("Shutdown: %v", err)
		}
	}()

	return pullFrames(ctx, d)
}

func pullFrames(ctx context.Context, d *display.Display) error {
	var n int
	for maxFrames <= 0 || n < maxFrames {
		buf, err := d.Frame()
		if errors.Is(err, display.ErrTerminated) {
			if ctx.Err() != nil {
				logger.Info("Interrupted, shutting down")
				return nil
			}
			return err
		}
		if err != nil {
			return err
		}
		n++

		if snapshotDir != "" && snapshotEvery > 0 && n%snapshotEvery == 0 {
			if err := writeSnapshot(buf, snapshotDir); err != nil {
				logger.Warnf("Snapshot of frame %d failed: %v", buf.Seq, err)
			}
		}
	}
	logger.Info("Frame limit reached", "frames", n)
	return nil
}

// writeSnapshot stores buf as frame-<seq>.png in dir.
func writeSnapshot(buf *display.Buffer, dir string) error {
	img, err := buf.Image()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}
	path := filepath.Join(dir, fmt.Sprintf("frame-%06d.png", buf.Seq))
	if err := gg.ImageBufFromImage(img).SavePNG(path); err != nil {
		return err
	}
	logger.Debug("Snapshot written", "path", path, "digest", buf.Digest())
	return nil
}

// statusHandler answers control socket queries from a running display.
type statusHandler struct {
	d *display.Display
}

func (h *statusHandler) HandleStatusQuery() (*ipc.Status, error) {
	s := h.d.Stats()
	status := &ipc.Status{
		State:    s.State.String(),
		Socket:   s.Socket,
		Caps:     s.VideoInfo.String(),
		Sequence: s.Sequence,
		Pushed:   s.Pushed,
		Dropped:  s.Dropped,
		Clients:  uint64(s.Clients),
		Digest:   s.Digest,
	}
	// Both fail only once the display stopped; the state says so already.
	status.Devices, _ = h.d.Devices()
	status.Env, _ = h.d.EnvVars()
	for _, in := range s.Inputs {
		status.Inputs = append(status.Inputs, ipc.Input{Path: in.Path, Name: in.Name, Kinds: in.Kinds, Lost: in.Lost})
	}
	return status, nil
}
