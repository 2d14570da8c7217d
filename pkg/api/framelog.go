// Package api implements the development replay server: it serves a recorded
// frame log over the same WebSocket protocol the real backend speaks, so the
// client engine can be exercised end to end without a live execution.
package api

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
)

// FrameLog is a recorded frame stream: one JSON frame per line, in the order
// the backend emitted them.
type FrameLog struct {
	// Frames are the raw messages, ready to write to a socket
	Frames [][]byte
}

// LoadFrameLog reads a JSONL frame log from disk. Blank lines are skipped;
// a line that is not a JSON object fails the load, since a broken recording
// is a development error worth surfacing.
func LoadFrameLog(path string) (*FrameLog, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open frame log: %w", err)
	}
	defer f.Close()

	var frames [][]byte
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	line := 0
	for scanner.Scan() {
		line++
		raw := scanner.Bytes()
		if len(raw) == 0 {
			continue
		}
		if !json.Valid(raw) {
			return nil, fmt.Errorf("frame log line %d: invalid JSON", line)
		}
		frame := make([]byte, len(raw))
		copy(frame, raw)
		frames = append(frames, frame)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read frame log: %w", err)
	}
	return &FrameLog{Frames: frames}, nil
}
