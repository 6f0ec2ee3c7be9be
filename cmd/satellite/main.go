// Command satellite is the entry point: it loads configuration, wires
// every component described by the design (mic/snd/wake/event peers and
// pipelines, the satellite state machine, the main server listener,
// zeroconf discovery, and the optional debug monitor), and runs them
// until a shutdown signal or a fatal error.
package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/rhasspy/wyoming-satellite/pkg/audio"
	"github.com/rhasspy/wyoming-satellite/pkg/config"
	"github.com/rhasspy/wyoming-satellite/pkg/debugmon"
	"github.com/rhasspy/wyoming-satellite/pkg/discovery"
	"github.com/rhasspy/wyoming-satellite/pkg/events"
	"github.com/rhasspy/wyoming-satellite/pkg/hook"
	"github.com/rhasspy/wyoming-satellite/pkg/satellite"
	"github.com/rhasspy/wyoming-satellite/pkg/server"
	"github.com/rhasspy/wyoming-satellite/pkg/timer"
	"github.com/rhasspy/wyoming-satellite/pkg/wake"
	"github.com/rhasspy/wyoming-satellite/pkg/wyoming"
)

const softwareVersion = "1.0.0"

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(argv []string) int {
	cfg, err := config.Load(argv)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 2
	}
	if cfg.Version {
		fmt.Println(softwareVersion)
		return 0
	}

	logger := cfg.SetupLogging()

	if err := cfg.Validate(); err != nil {
		logger.Error("invalid configuration", "error", err)
		return 2
	}

	d, err := newDaemon(cfg, logger)
	if err != nil {
		logger.Error("invalid configuration", "error", err)
		return 2
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sig
		logger.Info("received shutdown signal")
		cancel()
	}()

	if err := d.run(ctx); err != nil {
		logger.Error("fatal error", "error", err)
		return 1
	}
	return 0
}

// daemon holds every wired component. Construction (newDaemon) never
// starts network activity; run(ctx) does that and blocks until shutdown.
type daemon struct {
	cfg    *config.Config
	logger *slog.Logger

	micSource audio.Source
	sndSink   audio.Sink

	micPeer   *wyoming.Peer
	sndPeer   *wyoming.Peer
	wakePeer  *wyoming.Peer
	eventPeer *wyoming.Peer

	micPipeline *audio.MicPipeline
	sndPipeline *audio.SndPipeline
	wakeCoord   *wake.Coordinator
	timers      *timer.Registry
	fanout      *events.FanOut
	sat         *satellite.Satellite
	listener    *server.Listener
	announcer   *discovery.Announcer
	monitor     *debugmon.Monitor
}

func newDaemon(cfg *config.Config, logger *slog.Logger) (*daemon, error) {
	d := &daemon{cfg: cfg, logger: logger}

	micFormat := audio.Format{Rate: cfg.MicCommandRate, Width: cfg.MicCommandWidth, Channels: cfg.MicCommandChannels}
	sndFormat := audio.Format{Rate: cfg.SndCommandRate, Width: cfg.SndCommandWidth, Channels: cfg.SndCommandChannels}

	d.micSource, d.micPeer = d.buildMicSource(micFormat)
	d.sndSink, d.sndPeer = d.buildSndSink()

	mode := satellite.Always
	switch {
	case cfg.Vad:
		mode = satellite.VadGated
	case cfg.WakeURI != "" || len(cfg.WakeCommand) > 0:
		mode = satellite.LocalWake
	}

	chunkInterval := time.Second
	if micFormat.Rate > 0 && cfg.MicSamplesPerChunk > 0 {
		chunkInterval = time.Duration(float64(cfg.MicSamplesPerChunk) / float64(micFormat.Rate) * float64(time.Second))
	}

	micCfg := audio.MicPipelineConfig{
		VolumeMultiplier:         cfg.MicVolumeMultiplier,
		AutoGainLevel:            cfg.MicAutoGain,
		NoiseSuppressionLevel:    cfg.MicNoiseSuppression,
		MuteSecondsAfterAwakeWav: durationFromSeconds(cfg.MicSecondsToMuteAfterAwakeWav),
		NoMuteDuringAwakeWav:     cfg.MicNoMuteDuringAwakeWav,
		PreRoll:                  durationFromSeconds(cfg.VadBufferSeconds),
		VADEnabled:               mode == satellite.VadGated,
		VADThreshold:             cfg.VadThreshold,
		VADTriggerLevel:          cfg.VadTriggerLevel,
		VADWindowFrames:          audio.FramesForDuration(durationFromSeconds(cfg.VadBufferSeconds), chunkInterval),
		VADSilenceFrames:         audio.FramesForDuration(500*time.Millisecond, chunkInterval),
	}
	if cfg.MicAutoGain > 0 {
		micCfg.AutoGain = audio.NoopDSP{NameStr: "auto-gain"}
	}
	if cfg.MicNoiseSuppression > 0 {
		micCfg.NoiseSuppression = audio.NoopDSP{NameStr: "noise-suppression"}
	}
	if cfg.MicChannelIndexSet {
		idx := cfg.MicChannelIndex
		micCfg.ChannelIndex = &idx
	}
	d.micPipeline = audio.NewMicPipeline(d.micSource, micCfg, logger)

	sndQueueMax := 16
	d.sndPipeline = audio.NewSndPipeline(d.sndSink, sndQueueMax, d.micPipeline,
		durationFromSeconds(cfg.MicSecondsToMuteAfterAwakeWav), cfg.MicNoMuteDuringAwakeWav, logger)

	if cfg.Debug {
		d.monitor = debugmon.NewMonitor(0, logger)
	}

	var extraSinks []events.Sink
	if d.monitor != nil {
		extraSinks = append(extraSinks, d.monitor)
	}
	d.fanout = d.buildFanOut(extraSinks...)
	d.timers = timer.NewRegistry(d.fanout.Enqueue, logger)

	var wakeDet <-chan wake.Detection
	if mode == satellite.LocalWake {
		d.wakePeer = d.buildWakePeer()
		names := make([]string, len(cfg.WakeWordNames))
		for i, w := range cfg.WakeWordNames {
			names[i] = w.Name
		}
		d.wakeCoord = wake.NewCoordinator(d.wakePeer, d.micPipeline, names, durationFromSeconds(cfg.WakeRefractorySeconds), logger)
		wakeDet = d.wakeCoord.Detections()
	}

	wakeWordNames := make([]string, len(cfg.WakeWordNames))
	wakeWordPipelines := map[string]string{}
	for i, w := range cfg.WakeWordNames {
		wakeWordNames[i] = w.Name
		if w.Pipeline != "" {
			wakeWordPipelines[w.Name] = w.Pipeline
		}
	}

	satCfg := satellite.Config{
		Mode:                       mode,
		Name:                       satelliteName(cfg),
		Area:                       cfg.Area,
		SupportsTrigger:            mode == satellite.LocalWake,
		WakeWordNames:              wakeWordNames,
		WakeWordPipelines:          wakeWordPipelines,
		VadWakeWordTimeout:         durationFromSeconds(cfg.VadWakeWordTimeout),
		MicFormat:                  micFormat,
		SndFormat:                  sndFormat,
		TtsExpectedDurationGraceMs: 500 * time.Millisecond,
	}

	var wakeCtl satellite.WakeController
	if d.wakeCoord != nil {
		wakeCtl = d.wakeCoord
	}
	d.sat = satellite.New(satCfg, d.micPipeline, d.sndPipeline, wakeCtl, wakeDet, d.timers, d.fanout, logger)

	d.listener = server.NewListener(cfg.URI, d.sat, logger)

	if !cfg.NoZeroconf {
		_, _, portStr, err := parseBindComponents(cfg.URI)
		if err != nil {
			return nil, fmt.Errorf("discovery: %w", err)
		}
		port := 0
		fmt.Sscanf(portStr, "%d", &port)
		d.announcer = discovery.NewAnnouncer(discovery.Config{Name: cfg.ZeroconfName, Host: cfg.ZeroconfHost, Port: port}, logger)
	}

	return d, nil
}

func satelliteName(cfg *config.Config) string {
	if cfg.Name != "" {
		return cfg.Name
	}
	return discovery.DefaultName()
}

func durationFromSeconds(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}

func parseBindComponents(uri string) (network, host, port string, err error) {
	network, address, err := server.ParseBindURI(uri)
	if err != nil {
		return "", "", "", err
	}
	idx := strings.LastIndex(address, ":")
	if idx < 0 {
		return network, address, "", nil
	}
	return network, address[:idx], address[idx+1:], nil
}

func (d *daemon) buildMicSource(format audio.Format) (audio.Source, *wyoming.Peer) {
	cfg := d.cfg
	switch {
	case cfg.MicURI != "":
		peer := wyoming.NewPeer(wyoming.PeerConfig{Name: "mic", Dial: dialOrFail(cfg.MicURI, d.logger), Describe: true, PingInterval: 30 * time.Second}, d.logger)
		return audio.NewPeerSource(peer), peer
	case len(cfg.MicCommand) > 0:
		return audio.NewCommandSource(cfg.MicCommand, format, cfg.MicSamplesPerChunk, d.logger), nil
	default:
		return audio.NewDeviceSource(format), nil
	}
}

func (d *daemon) buildSndSink() (audio.Sink, *wyoming.Peer) {
	cfg := d.cfg
	switch {
	case cfg.SndURI != "":
		peer := wyoming.NewPeer(wyoming.PeerConfig{Name: "snd", Dial: dialOrFail(cfg.SndURI, d.logger), Describe: true, PingInterval: 30 * time.Second}, d.logger)
		return audio.NewPeerSink(peer), peer
	case len(cfg.SndCommand) > 0:
		return audio.NewCommandSink(cfg.SndCommand, d.logger), nil
	default:
		return audio.NewDeviceSink(audio.Format{Rate: cfg.SndCommandRate, Width: cfg.SndCommandWidth, Channels: cfg.SndCommandChannels}), nil
	}
}

// buildWakePeer constructs the wake-word peer for LocalWake mode. Unlike
// mic/snd commands, a wake-command subprocess speaks full Wyoming framing,
// so it dials through DialCommand rather than a raw-PCM pipe.
func (d *daemon) buildWakePeer() *wyoming.Peer {
	cfg := d.cfg
	var dial wyoming.Dialer
	switch {
	case cfg.WakeURI != "":
		dial = dialOrFail(cfg.WakeURI, d.logger)
	case len(cfg.WakeCommand) > 0:
		dial = wyoming.DialCommand(cfg.WakeCommand)
	default:
		return nil
	}
	return wyoming.NewPeer(wyoming.PeerConfig{Name: "wake", Dial: dial, Describe: true, PingInterval: 30 * time.Second}, d.logger)
}

// dialOrFail builds a wyoming.Dialer from a uri, logging and returning a
// Dialer that always fails if the uri doesn't parse; the peer's own
// reconnect loop then backs off forever rather than crashing the daemon
// over a single bad address.
func dialOrFail(uri string, logger *slog.Logger) wyoming.Dialer {
	dial, err := wyoming.DialURI(uri)
	if err == nil {
		return dial
	}
	logger.Error("invalid peer uri", "uri", uri, "error", err)
	return func(ctx context.Context) (io.ReadWriteCloser, error) {
		return nil, err
	}
}

func (d *daemon) buildFanOut(extra ...events.Sink) *events.FanOut {
	cfg := d.cfg
	var sinks []events.Sink

	if cfg.EventURI != "" {
		d.eventPeer = wyoming.NewPeer(wyoming.PeerConfig{Name: "event", Dial: dialOrFail(cfg.EventURI, d.logger), Describe: true, PingInterval: 30 * time.Second}, d.logger)
		sinks = append(sinks, events.NewEventPeerSink(d.eventPeer))
	}

	if len(cfg.EventCommands) > 0 {
		hookConfigs := map[events.Kind]events.HookConfig{}
		for kind, argv := range cfg.EventCommands {
			k := events.Kind(kind)
			hookConfigs[k] = events.HookConfig{Argv: argv, Stdin: stdinPolicyFor(k), Timeout: hook.DefaultTimeout}
		}
		sinks = append(sinks, events.NewHookSink(hookConfigs, d.logger))
	}

	feedbackCfg := events.FeedbackConfig{
		TimerRepeat: cfg.TimerFinishedWavRepeat,
		TimerDelay:  durationFromSeconds(cfg.TimerFinishedWavDelay),
	}
	if wav, err := loadWav(cfg.AwakeWav); err == nil {
		feedbackCfg.AwakeWav = wav
	} else if cfg.AwakeWav != "" {
		d.logger.Warn("failed to load awake-wav", "path", cfg.AwakeWav, "error", err)
	}
	if wav, err := loadWav(cfg.DoneWav); err == nil {
		feedbackCfg.DoneWav = wav
	} else if cfg.DoneWav != "" {
		d.logger.Warn("failed to load done-wav", "path", cfg.DoneWav, "error", err)
	}
	if wav, err := loadWav(cfg.TimerFinishedWav); err == nil {
		feedbackCfg.TimerFinishedWav = wav
	} else if cfg.TimerFinishedWav != "" {
		d.logger.Warn("failed to load timer-finished-wav", "path", cfg.TimerFinishedWav, "error", err)
	}
	sinks = append(sinks, events.NewFeedbackSink(d.sndPipeline, feedbackCfg, d.logger))

	sinks = append(sinks, extra...)

	return events.NewFanOut(d.logger, sinks...)
}

// stdinPolicyFor picks what each hook kind receives on stdin: the wake
// word name for detections, the raw text for transcript-like events, a
// JSON snapshot for timer state, the bare id for terminal timer events,
// and nothing for pure edges like connected/disconnected.
func stdinPolicyFor(kind events.Kind) hook.StdinPolicy {
	switch kind {
	case events.Detection:
		return hook.StdinName
	case events.Transcript, events.Synthesize, events.Error:
		return hook.StdinText
	case events.TimerStarted, events.TimerUpdated:
		return hook.StdinJSON
	case events.TimerFinished, events.TimerCancelled:
		return hook.StdinName
	default:
		return hook.StdinNone
	}
}

// loadWav reads a cue sound and verifies it decodes; the raw container
// bytes are returned because the snd pipeline decodes at playback time.
func loadWav(path string) ([]byte, error) {
	if path == "" {
		return nil, fmt.Errorf("no path configured")
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if _, _, err := audio.DecodeWAV(raw); err != nil {
		return nil, err
	}
	return raw, nil
}

// run starts every long-lived component and blocks until ctx is cancelled
// or a component reports a fatal error: the main listener's bind failure,
// the zeroconf announcer or debug monitor failing to start, or a mic/snd
// backend start failure other than a busy device. Peers log and keep
// retrying.
func (d *daemon) run(ctx context.Context) error {
	d.fanout.Enqueue(events.Event{Kind: events.Startup})

	tasks := map[string]func(context.Context) error{
		"mic-pipeline":   d.micPipeline.Run,
		"snd-pipeline":   d.sndPipeline.Run,
		"timer-registry": d.timers.Run,
		"event-fanout":   d.fanout.Run,
		"satellite":      d.sat.Run,
		"server":         d.listener.Run,
	}
	if d.wakeCoord != nil {
		tasks["wake-coordinator"] = d.wakeCoord.Run
	}
	if d.announcer != nil {
		tasks["discovery"] = d.announcer.Run
	}
	if d.monitor != nil {
		tasks["debug-monitor"] = d.monitor.Run
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	// The mic and snd pipelines start and stop their own Source/Sink
	// inside Run; only the event peer needs its lifecycle driven here,
	// since EventPeerSink has none of its own.
	if d.eventPeer != nil {
		d.eventPeer.Start(runCtx)
		defer d.eventPeer.Stop()
	}

	var wg sync.WaitGroup
	errCh := make(chan error, len(tasks))
	for name, fn := range tasks {
		wg.Add(1)
		go func(name string, fn func(context.Context) error) {
			defer wg.Done()
			if err := fn(runCtx); err != nil {
				d.logger.Error("component stopped with an error", "component", name, "error", err)
				errCh <- fmt.Errorf("%s: %w", name, err)
				cancel()
			}
		}(name, fn)
	}

	wg.Wait()
	close(errCh)
	for err := range errCh {
		return err
	}
	return nil
}
