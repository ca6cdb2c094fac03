package main

import (
	"bufio"
	"bytes"
	"io"
	"os"

	"github.com/pkg/errors"

	"github.com/go-go-golems/sessioncore/pkg/session"
)

const maxFrameLine = 4 << 20

// readFrames decodes one frame per line. Blank lines and lines starting with
// '#' are skipped.
func readFrames(r io.Reader) ([]session.Frame, error) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), maxFrameLine)
	var frames []session.Frame
	line := 0
	for sc.Scan() {
		line++
		b := bytes.TrimSpace(sc.Bytes())
		if len(b) == 0 || b[0] == '#' {
			continue
		}
		f, err := session.DecodeFrame(b)
		if err != nil {
			return nil, errors.Wrapf(err, "line %d", line)
		}
		frames = append(frames, f)
	}
	if err := sc.Err(); err != nil {
		return nil, errors.Wrap(err, "read frames")
	}
	return frames, nil
}

func readFramesFile(path string) ([]session.Frame, error) {
	if path == "-" {
		return readFrames(os.Stdin)
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "open %s", path)
	}
	defer func() { _ = f.Close() }()
	frames, err := readFrames(f)
	if err != nil {
		return nil, errors.Wrap(err, path)
	}
	return frames, nil
}
