package logsink

import (
	"fmt"
	"io"
	"os"

	"go.uber.org/zap"
)

const (
	DefaultRawPath      = "console.log"
	DefaultActivityPath = "latest.log"
)

// Sink appends text to the raw console log and the curated activity log.
// Append failures are reported through the logger and otherwise ignored, so a full disk
// or a deleted log file never takes the wrapper down.
type Sink struct {
	log      *zap.SugaredLogger
	raw      io.WriteCloser
	activity io.WriteCloser

	rawName      string
	activityName string
}

// Open creates or truncates both log files and returns a Sink appending to them.
func Open(rawPath, activityPath string, log *zap.SugaredLogger) (*Sink, error) {
	raw, err := openTruncated(rawPath)
	if err != nil {
		return nil, fmt.Errorf("initializing %s: %w", rawPath, err)
	}
	activity, err := openTruncated(activityPath)
	if err != nil {
		raw.Close()
		return nil, fmt.Errorf("initializing %s: %w", activityPath, err)
	}
	return &Sink{
		log:          log.Named("logsink"),
		raw:          raw,
		activity:     activity,
		rawName:      rawPath,
		activityName: activityPath,
	}, nil
}

func openTruncated(path string) (*os.File, error) {
	return os.OpenFile(path, os.O_CREATE|os.O_TRUNC|os.O_WRONLY|os.O_APPEND, 0o644)
}

// New builds a Sink over arbitrary writers, mostly useful for tests.
func New(raw, activity io.WriteCloser, log *zap.SugaredLogger) *Sink {
	return &Sink{
		log:          log.Named("logsink"),
		raw:          raw,
		activity:     activity,
		rawName:      "raw log",
		activityName: "activity log",
	}
}

// Raw appends text to the raw console log.
func (s *Sink) Raw(text string) {
	s.append(s.raw, s.rawName, text)
}

// Activity appends text to the curated activity log.
func (s *Sink) Activity(text string) {
	s.append(s.activity, s.activityName, text)
}

// Both appends the same text to both logs.
func (s *Sink) Both(text string) {
	s.Activity(text)
	s.Raw(text)
}

func (s *Sink) append(w io.Writer, name, text string) {
	if err := write(w, text); err != nil {
		s.log.Errorf("error writing to %s: %s", name, err)
	}
}

// write is a single bounded attempt; the error is returned as a value and never retried.
func write(w io.Writer, text string) error {
	n, err := io.WriteString(w, text)
	if err != nil {
		return err
	}
	if n != len(text) {
		return io.ErrShortWrite
	}
	return nil
}

func (s *Sink) Close() error {
	rawErr := s.raw.Close()
	activityErr := s.activity.Close()
	if rawErr != nil {
		return fmt.Errorf("closing %s: %w", s.rawName, rawErr)
	}
	if activityErr != nil {
		return fmt.Errorf("closing %s: %w", s.activityName, activityErr)
	}
	return nil
}
