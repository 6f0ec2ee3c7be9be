// Package config implements the daemon's CLI/environment configuration
// surface: a single process's flag table, bound to an SATELLITE_-prefixed
// environment namespace and a .env bootstrap file, resolved into a typed
// Config and validated before anything starts.
package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// ErrConfig marks a configuration validation failure; the process exits
// with code 2 when it is returned.
var ErrConfig = errors.New("config: invalid configuration")

// WakeWord is one `wake-word-name` entry: a model name and its optional
// pipeline override.
type WakeWord struct {
	Name     string
	Pipeline string
}

// Config is the fully resolved process configuration, grouped the same
// way as the flag table in Load.
type Config struct {
	// Core
	URI  string
	Name string
	Area string

	// Mic
	MicURI                        string
	MicCommand                    []string
	MicCommandRate                int
	MicCommandWidth               int
	MicCommandChannels            int
	MicSamplesPerChunk            int
	MicVolumeMultiplier           float64
	MicNoiseSuppression           int
	MicAutoGain                   int
	MicChannelIndex               int
	MicChannelIndexSet            bool
	MicSecondsToMuteAfterAwakeWav float64
	MicNoMuteDuringAwakeWav       bool

	// Snd
	SndURI              string
	SndCommand          []string
	SndCommandRate      int
	SndCommandWidth     int
	SndCommandChannels  int
	SndVolumeMultiplier float64

	// Wake
	WakeURI               string
	WakeCommand           []string
	WakeCommandRate       int
	WakeCommandWidth      int
	WakeCommandChannels   int
	WakeWordNames         []WakeWord
	WakeRefractorySeconds float64

	// VAD
	Vad                bool
	VadThreshold       float64
	VadTriggerLevel    int
	VadBufferSeconds   float64
	VadWakeWordTimeout float64

	// Events
	EventURI      string
	EventCommands map[string][]string

	// Sounds
	AwakeWav               string
	DoneWav                string
	TimerFinishedWav       string
	TimerFinishedWavRepeat int
	TimerFinishedWavDelay  float64

	// Discovery
	NoZeroconf   bool
	ZeroconfName string
	ZeroconfHost string

	// Misc
	Debug             bool
	DebugRecordingDir string
	LogFormat         string
	Version           bool
}

// Load parses argv (typically os.Args[1:]) into a Config, having already
// attempted a .env bootstrap (ignored if absent) and bound the SATELLITE_
// environment namespace.
func Load(argv []string) (*Config, error) {
	_ = godotenv.Load()

	fs := pflag.NewFlagSet("satellite", pflag.ContinueOnError)

	fs.String("uri", "", "bind address for the main server listener")
	fs.String("name", "", "advertised satellite name")
	fs.String("area", "", "advertised satellite area")

	fs.String("mic-uri", "", "remote mic peer uri")
	fs.StringArray("mic-command", nil, "local mic capture subprocess (repeat for each arg)")
	fs.Int("mic-command-rate", 16000, "mic-command sample rate")
	fs.Int("mic-command-width", 2, "mic-command sample width in bytes")
	fs.Int("mic-command-channels", 1, "mic-command channel count")
	fs.Int("mic-samples-per-chunk", 1024, "mic-command frames per chunk")
	fs.Float64("mic-volume-multiplier", 1.0, "pre-DSP mic gain")
	fs.Int("mic-noise-suppression", 0, "noise suppression level (0..4)")
	fs.Int("mic-auto-gain", 0, "auto-gain level (0..31)")
	fs.Int("mic-channel-index", -1, "downmix channel selector (-1: disabled)")
	fs.Float64("mic-seconds-to-mute-after-awake-wav", 0.5, "post-feedback mute window")
	fs.Bool("mic-no-mute-during-awake-wav", false, "disable the feedback mute window")

	fs.String("snd-uri", "", "remote snd peer uri")
	fs.StringArray("snd-command", nil, "local playback subprocess (repeat for each arg)")
	fs.Int("snd-command-rate", 22050, "snd-command sample rate")
	fs.Int("snd-command-width", 2, "snd-command sample width in bytes")
	fs.Int("snd-command-channels", 1, "snd-command channel count")
	fs.Float64("snd-volume-multiplier", 1.0, "post-mix snd gain")

	fs.String("wake-uri", "", "remote wake peer uri")
	fs.StringArray("wake-command", nil, "local wake service subprocess (repeat for each arg)")
	fs.Int("wake-command-rate", 16000, "wake-command sample rate")
	fs.Int("wake-command-width", 2, "wake-command sample width in bytes")
	fs.Int("wake-command-channels", 1, "wake-command channel count")
	fs.StringArray("wake-word-name", nil, "armed wake word, \"name\" or \"name pipeline\" (repeatable)")
	fs.Float64("wake-refractory-seconds", 5.0, "wake detection debounce window")

	fs.Bool("vad", false, "enable VAD-gated mode")
	fs.Float64("vad-threshold", 0.5, "VAD RMS threshold")
	fs.Int("vad-trigger-level", 1, "VAD trigger count within the rolling window")
	fs.Float64("vad-buffer-seconds", 2.0, "pre-roll buffer window")
	fs.Float64("vad-wake-word-timeout", 5.0, "VAD-gated silence timeout")

	fs.String("event-uri", "", "external event peer uri")
	for _, kind := range eventHookKinds {
		fs.StringArray(kind+"-command", nil, "subprocess hook for the "+kind+" event (repeatable)")
	}

	fs.String("awake-wav", "", "feedback wav played on wake/run start")
	fs.String("done-wav", "", "feedback wav played on tts-stop")
	fs.String("timer-finished-wav", "", "feedback wav played on timer-finished")
	fs.Int("timer-finished-wav-repeat", 1, "timer-finished-wav repeat count")
	fs.Float64("timer-finished-wav-repeat-delay", 0, "delay in seconds between repeats")

	fs.Bool("no-zeroconf", false, "disable mDNS advertisement")
	fs.String("zeroconf-name", "", "mDNS instance name override")
	fs.String("zeroconf-host", "", "mDNS advertised host override")

	fs.Bool("debug", false, "enable debug logging and the loopback debug monitor")
	fs.String("debug-recording-dir", "", "directory to record raw mic/snd audio for debugging")
	fs.String("log-format", "json", "log output format: json or text")
	fs.Bool("version", false, "print version and exit")

	if err := fs.Parse(argv); err != nil {
		return nil, fmt.Errorf("%w: parsing flags: %v", ErrConfig, err)
	}

	v := viper.New()
	if err := v.BindPFlags(fs); err != nil {
		return nil, fmt.Errorf("%w: binding flags: %v", ErrConfig, err)
	}
	v.SetEnvPrefix("SATELLITE")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	cfg := &Config{
		URI:  v.GetString("uri"),
		Name: v.GetString("name"),
		Area: v.GetString("area"),

		MicURI:                        v.GetString("mic-uri"),
		MicCommand:                    v.GetStringSlice("mic-command"),
		MicCommandRate:                v.GetInt("mic-command-rate"),
		MicCommandWidth:               v.GetInt("mic-command-width"),
		MicCommandChannels:            v.GetInt("mic-command-channels"),
		MicSamplesPerChunk:            v.GetInt("mic-samples-per-chunk"),
		MicVolumeMultiplier:           v.GetFloat64("mic-volume-multiplier"),
		MicNoiseSuppression:           v.GetInt("mic-noise-suppression"),
		MicAutoGain:                   v.GetInt("mic-auto-gain"),
		MicSecondsToMuteAfterAwakeWav: v.GetFloat64("mic-seconds-to-mute-after-awake-wav"),
		MicNoMuteDuringAwakeWav:       v.GetBool("mic-no-mute-during-awake-wav"),

		SndURI:              v.GetString("snd-uri"),
		SndCommand:          v.GetStringSlice("snd-command"),
		SndCommandRate:      v.GetInt("snd-command-rate"),
		SndCommandWidth:     v.GetInt("snd-command-width"),
		SndCommandChannels:  v.GetInt("snd-command-channels"),
		SndVolumeMultiplier: v.GetFloat64("snd-volume-multiplier"),

		WakeURI:               v.GetString("wake-uri"),
		WakeCommand:           v.GetStringSlice("wake-command"),
		WakeCommandRate:       v.GetInt("wake-command-rate"),
		WakeCommandWidth:      v.GetInt("wake-command-width"),
		WakeCommandChannels:   v.GetInt("wake-command-channels"),
		WakeRefractorySeconds: v.GetFloat64("wake-refractory-seconds"),

		Vad:                v.GetBool("vad"),
		VadThreshold:       v.GetFloat64("vad-threshold"),
		VadTriggerLevel:    v.GetInt("vad-trigger-level"),
		VadBufferSeconds:   v.GetFloat64("vad-buffer-seconds"),
		VadWakeWordTimeout: v.GetFloat64("vad-wake-word-timeout"),

		EventURI: v.GetString("event-uri"),

		AwakeWav:               v.GetString("awake-wav"),
		DoneWav:                v.GetString("done-wav"),
		TimerFinishedWav:       v.GetString("timer-finished-wav"),
		TimerFinishedWavRepeat: v.GetInt("timer-finished-wav-repeat"),
		TimerFinishedWavDelay:  v.GetFloat64("timer-finished-wav-repeat-delay"),

		NoZeroconf:   v.GetBool("no-zeroconf"),
		ZeroconfName: v.GetString("zeroconf-name"),
		ZeroconfHost: v.GetString("zeroconf-host"),

		Debug:             v.GetBool("debug"),
		DebugRecordingDir: v.GetString("debug-recording-dir"),
		LogFormat:         v.GetString("log-format"),
		Version:           v.GetBool("version"),
	}

	if idx := v.GetInt("mic-channel-index"); idx >= 0 {
		cfg.MicChannelIndex = idx
		cfg.MicChannelIndexSet = true
	}

	cfg.WakeWordNames = parseWakeWords(v.GetStringSlice("wake-word-name"))

	cfg.EventCommands = map[string][]string{}
	for _, kind := range eventHookKinds {
		if argv := v.GetStringSlice(kind + "-command"); len(argv) > 0 {
			cfg.EventCommands[kind] = argv
		}
	}

	return cfg, nil
}

// eventHookKinds are the lifecycle event kinds a <kind>-command hook can
// be registered for.
var eventHookKinds = []string{
	"startup", "connected", "disconnected", "detect", "detection",
	"voice-started", "voice-stopped", "transcript", "synthesize",
	"tts-start", "tts-stop", "tts-played", "streaming-start",
	"streaming-stop", "error", "timer-started", "timer-updated",
	"timer-cancelled", "timer-finished",
}

func parseWakeWords(raw []string) []WakeWord {
	words := make([]WakeWord, 0, len(raw))
	for _, entry := range raw {
		fields := strings.Fields(entry)
		if len(fields) == 0 {
			continue
		}
		w := WakeWord{Name: fields[0]}
		if len(fields) > 1 {
			w.Pipeline = fields[1]
		}
		words = append(words, w)
	}
	return words
}

// Validate enforces the required/conflicting option rules, returning
// ErrConfig-wrapped errors for the config-error exit path (code 2).
func (c *Config) Validate() error {
	if c.URI == "" {
		return fmt.Errorf("%w: --uri is required", ErrConfig)
	}
	if c.MicURI != "" && len(c.MicCommand) > 0 {
		return fmt.Errorf("%w: --mic-uri and --mic-command are mutually exclusive", ErrConfig)
	}
	if c.SndURI != "" && len(c.SndCommand) > 0 {
		return fmt.Errorf("%w: --snd-uri and --snd-command are mutually exclusive", ErrConfig)
	}
	if c.WakeURI != "" && len(c.WakeCommand) > 0 {
		return fmt.Errorf("%w: --wake-uri and --wake-command are mutually exclusive", ErrConfig)
	}
	if c.Vad && (c.WakeURI != "" || len(c.WakeCommand) > 0) {
		return fmt.Errorf("%w: --vad and a configured wake peer are mutually exclusive modes", ErrConfig)
	}
	if (c.WakeURI != "" || len(c.WakeCommand) > 0) && len(c.WakeWordNames) == 0 {
		return fmt.Errorf("%w: a wake peer requires at least one --wake-word-name", ErrConfig)
	}
	switch strings.ToLower(c.LogFormat) {
	case "json", "text":
	default:
		return fmt.Errorf("%w: --log-format must be json or text, got %q", ErrConfig, c.LogFormat)
	}
	return nil
}
