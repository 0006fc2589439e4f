// mp4probe prints the structure and tags of an MP4 file and can dump the
// samples of one track, start codes restored.
package main

import (
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/phsym/console-slog"
	"gopkg.in/yaml.v3"
	"m7s.live/bmff"
)

type config struct {
	Input        string `yaml:"input"`
	Track        int    `yaml:"track"`
	Output       string `yaml:"output"`
	NALFragments bool   `yaml:"nalFragments"`
	SeekMs       int64  `yaml:"seekMs"`
	LogLevel     string `yaml:"logLevel"`
}

func parseLevel(s string) slog.Level {
	switch s {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func main() {
	var cfg config
	var cfgPath string
	flag.StringVar(&cfgPath, "c", "", "yaml config file")
	flag.StringVar(&cfg.Input, "i", "", "input file")
	flag.IntVar(&cfg.Track, "track", -1, "track index to dump")
	flag.StringVar(&cfg.Output, "o", "", "sample dump file")
	flag.BoolVar(&cfg.NALFragments, "nal", false, "dump NAL units instead of access units")
	flag.Int64Var(&cfg.SeekMs, "seek", 0, "seek position in ms before dumping")
	flag.StringVar(&cfg.LogLevel, "log", "info", "log level")
	flag.Parse()

	if cfgPath != "" {
		data, err := os.ReadFile(cfgPath)
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
	}
	logger := slog.New(console.NewHandler(os.Stderr, &console.HandlerOptions{
		Level:      parseLevel(cfg.LogLevel),
		TimeFormat: "15:04:05.000",
	}))
	if cfg.Input == "" {
		fmt.Fprintln(os.Stderr, "no input file")
		os.Exit(1)
	}
	if err := run(&cfg, logger); err != nil {
		logger.Error("probe failed", "err", err)
		os.Exit(1)
	}
}

func run(cfg *config, logger *slog.Logger) error {
	f, err := os.Open(cfg.Input)
	if err != nil {
		return err
	}
	defer f.Close()
	src := bmff.NewFileSource(f)

	if mime, confidence, ok := bmff.Sniff(src); ok {
		logger.Info("sniffed", "mime", mime, "confidence", confidence)
	} else {
		logger.Warn("unrecognized brand, trying anyway")
	}

	ex := bmff.NewExtractor(src, logger)
	if err := ex.ReadMetaData(); err != nil {
		return err
	}
	meta := ex.FileMetaData()
	logger.Info("file", "mime", meta.MIMEType, "fragmented", ex.Fragmented(),
		"title", meta.Title, "artist", meta.Artist, "date", meta.Date)
	for _, pssh := range meta.PSSH {
		logger.Info("protection", "system", pssh.SystemID, "bytes", len(pssh.Data))
	}
	for i, t := range ex.Tracks() {
		attrs := []any{
			"index", i, "id", t.ID, "mime", t.MIMEType,
			"durationMs", t.DurationUs / 1000, "maxInputSize", t.MaxInputSize,
		}
		if t.IsVideo() {
			attrs = append(attrs, "width", t.Width, "height", t.Height)
			if thumbUs, err := t.ThumbnailTimeUs(); err == nil {
				attrs = append(attrs, "thumbnailMs", thumbUs/1000)
			}
		} else {
			attrs = append(attrs, "channels", t.ChannelCount, "rate", t.SampleRate)
		}
		logger.Info("track", attrs...)
	}

	if cfg.Track < 0 {
		return nil
	}
	tracks := ex.Tracks()
	if cfg.Track >= len(tracks) {
		return fmt.Errorf("track %d out of range", cfg.Track)
	}
	var out io.Writer = io.Discard
	if cfg.Output != "" {
		of, err := os.Create(cfg.Output)
		if err != nil {
			return err
		}
		defer of.Close()
		out = of
	}
	r := ex.NewSampleReader(tracks[cfg.Track], cfg.NALFragments)
	if cfg.SeekMs > 0 {
		if err := r.Seek(cfg.SeekMs * 1000); err != nil {
			return err
		}
	}
	count, bytes := 0, 0
	for {
		pkt, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return err
		}
		if _, err := out.Write(pkt.Data); err != nil {
			return err
		}
		count++
		bytes += len(pkt.Data)
		r.Free(pkt)
	}
	logger.Info("dumped", "packets", count, "bytes", bytes)
	return nil
}
