package telemetry

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"os"

	"github.com/google/uuid"
	"github.com/sanjibansg/general-perceivers/metrics"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"
)

// RunLog appends metric records to a file as length-prefixed protobuf
// frames, one frame per record. Frames survive process restarts;
// reopening the same path appends to the existing log.
type RunLog struct {
	file  *os.File
	buf   *bufio.Writer
	runID string
}

// OpenRunLog opens or creates an append-only run log
func OpenRunLog(path string) (*RunLog, error) {
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("opening run log: %w", err)
	}
	return &RunLog{
		file:  file,
		buf:   bufio.NewWriter(file),
		runID: uuid.New().String(),
	}, nil
}

// RunID identifies this logging session
func (l *RunLog) RunID() string {
	return l.runID
}

// Log appends one record to the log
func (l *RunLog) Log(record metrics.Record) error {
	payload, err := structpb.NewStruct(record.AsMap())
	if err != nil {
		return fmt.Errorf("converting record: %w", err)
	}
	frame, err := proto.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encoding record: %w", err)
	}

	var header [binary.MaxVarintLen64]byte
	n := binary.PutUvarint(header[:], uint64(len(frame)))
	if _, err := l.buf.Write(header[:n]); err != nil {
		return err
	}
	if _, err := l.buf.Write(frame); err != nil {
		return err
	}
	return l.buf.Flush()
}

// Close flushes and closes the log file
func (l *RunLog) Close() error {
	if err := l.buf.Flush(); err != nil {
		l.file.Close()
		return err
	}
	return l.file.Close()
}

// ReadRunLog decodes every record in a run log file
func ReadRunLog(path string) ([]metrics.Record, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	reader := bufio.NewReader(file)
	var records []metrics.Record
	for {
		size, err := binary.ReadUvarint(reader)
		if err == io.EOF {
			return records, nil
		}
		if err != nil {
			return nil, fmt.Errorf("reading frame header: %w", err)
		}

		frame := make([]byte, size)
		if _, err := io.ReadFull(reader, frame); err != nil {
			return nil, fmt.Errorf("reading frame body: %w", err)
		}

		payload := &structpb.Struct{}
		if err := proto.Unmarshal(frame, payload); err != nil {
			return nil, fmt.Errorf("decoding frame: %w", err)
		}
		record, err := metrics.FromMap(payload.AsMap())
		if err != nil {
			return nil, fmt.Errorf("converting frame: %w", err)
		}
		records = append(records, record)
	}
}
