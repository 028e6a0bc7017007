// Command mp4split rewrites the moov box of a progressive MP4 file to
// describe only a [start, end) time window and writes the resulting
// header plus the corresponding mdat byte range to an output file.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/teocci/go-mp4-splitter/splitter"
)

func main() {
	start := flag.Duration("start", 0, "start of the interval to keep, e.g. 30s")
	end := flag.Duration("end", 0, "end of the interval to keep, 0 means to the end of the file")
	clientIsFlash := flag.Bool("flash", false, "restrict output for a Flash-based player")
	maxTracks := flag.Int("max-tracks", 0, "reject files with more than this many tracks (0 = default)")
	verbose := flag.Bool("v", false, "enable debug logging")
	flag.Parse()

	if flag.NArg() != 2 {
		fmt.Fprintln(os.Stderr, "usage: mp4split [flags] input.mp4 output.mp4")
		flag.PrintDefaults()
		os.Exit(2)
	}

	log := logrus.New()
	if *verbose {
		log.SetLevel(logrus.DebugLevel)
	}

	if err := run(flag.Arg(0), flag.Arg(1), *start, *end, *clientIsFlash, *maxTracks, log); err != nil {
		log.WithError(err).Fatal("split failed")
	}
}

func run(inPath, outPath string, start, end time.Duration, clientIsFlash bool, maxTracks int, log *logrus.Logger) error {
	in, err := os.Open(inPath)
	if err != nil {
		return fmt.Errorf("opening input: %w", err)
	}
	defer in.Close()

	fi, err := in.Stat()
	if err != nil {
		return fmt.Errorf("statting input: %w", err)
	}

	opts := splitter.Options{
		Logger:        logrus.NewEntry(log),
		MaxTracks:     maxTracks,
		ClientIsFlash: clientIsFlash,
	}

	result, err := splitter.Split(context.Background(), in, fi.Size(), start, end, opts)
	if err != nil {
		return fmt.Errorf("splitting: %w", err)
	}

	out, err := os.Create(outPath)
	if err != nil {
		return fmt.Errorf("creating output: %w", err)
	}
	defer out.Close()

	if _, err := out.Write(result.Header); err != nil {
		return fmt.Errorf("writing header: %w", err)
	}

	if _, err := io.Copy(out, io.NewSectionReader(in, int64(result.MdatOffset), int64(result.MdatSize))); err != nil {
		return fmt.Errorf("writing mdat: %w", err)
	}

	log.WithFields(logrus.Fields{
		"header_bytes": len(result.Header),
		"mdat_bytes":   result.MdatSize,
	}).Info("wrote output")

	return nil
}
