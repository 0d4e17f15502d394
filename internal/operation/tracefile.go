package operation

import (
	"bufio"
	"bytes"
	"encoding/json"
	"io"
	"os"

	"github.com/pkg/errors"

	"buildledger/internal/fsutil"
)

const (
	traceFormat  = "buildledger-operations"
	traceVersion = 1

	// maxRecordSize bounds a single trace line.
	maxRecordSize = 64 << 20
)

type traceHeader struct {
	Format  string `json:"format"`
	Version int    `json:"version"`
}

// record is one line of a trace file. Payloads are stored as JSON text so a
// corrupt payload only affects its own operation.
type record struct {
	ID           ID             `json:"id"`
	ParentID     ID             `json:"parentId,omitempty"`
	Name         string         `json:"name"`
	DisplayName  string         `json:"displayName"`
	StartTime    int64          `json:"startTime"`
	EndTime      int64          `json:"endTime"`
	Finished     bool           `json:"finished"`
	DetailsType  string         `json:"detailsType,omitempty"`
	Details      string         `json:"details,omitempty"`
	DetailsError string         `json:"detailsError,omitempty"`
	ResultType   string         `json:"resultType,omitempty"`
	Result       string         `json:"result,omitempty"`
	ResultError  string         `json:"resultError,omitempty"`
	Failure      *failureRecord `json:"failure,omitempty"`
}

type failureRecord struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// WriteFile persists the trace to path atomically.
func (t *Trace) WriteFile(path string) error {
	err := fsutil.WriteAtomic(path, 0o644, func(w io.Writer) error {
		return t.Encode(w)
	})
	if err != nil {
		return &IOError{Op: "write", Path: path, Err: err}
	}
	return nil
}

// Encode writes the trace format: a header line followed by one record per
// operation in start order.
func (t *Trace) Encode(w io.Writer) error {
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(traceHeader{Format: traceFormat, Version: traceVersion}); err != nil {
		return errors.Wrap(err, "encode trace header")
	}
	for _, op := range t.ops {
		if err := enc.Encode(toRecord(op)); err != nil {
			return errors.Wrapf(err, "encode operation %s", op.ID)
		}
	}
	return nil
}

func toRecord(op CompleteOperation) record {
	rec := record{
		ID:          op.ID,
		ParentID:    op.ParentID,
		Name:        op.Name,
		DisplayName: op.DisplayName,
		StartTime:   op.StartTime,
		EndTime:     op.EndTime,
		Finished:    op.Finished,
		DetailsType: op.DetailsType,
		ResultType:  op.ResultType,
	}
	rec.Details, rec.DetailsError = encodePayload(op, "details", op.DetailsType, op.Details)
	rec.Result, rec.ResultError = encodePayload(op, "result", op.ResultType, op.Result)
	if op.Failure != nil {
		rec.Failure = &failureRecord{Type: failureType(op.Failure), Message: op.Failure.Error()}
	}
	return rec
}

func encodePayload(op CompleteOperation, field, typ string, doc Document) (text, failure string) {
	for _, pe := range op.PayloadErrors {
		if pe.Field == field {
			return "", pe.Err.Error()
		}
	}
	if typ == "" {
		return "", ""
	}
	data, err := doc.MarshalJSON()
	if err != nil {
		return "", err.Error()
	}
	return string(data), ""
}

func failureType(err error) string {
	if rf, ok := err.(*RecordedFailure); ok {
		return rf.Type
	}
	return TypeName(err)
}

// Load reads a trace file written by Persist. A missing or unreadable file
// yields an *IOError; a foreign header yields ErrIncompatibleTrace.
func Load(path string) (*Trace, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, &IOError{Op: "open", Path: path, Err: err}
	}
	defer f.Close()
	t, err := Decode(f)
	if err != nil {
		if errors.Is(err, ErrIncompatibleTrace) || errors.Is(err, ErrCorruptTrace) {
			return nil, errors.Wrap(err, path)
		}
		return nil, &IOError{Op: "read", Path: path, Err: err}
	}
	return t, nil
}

// Decode reads the trace format from r.
func Decode(r io.Reader) (*Trace, error) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), maxRecordSize)

	if !sc.Scan() {
		if err := sc.Err(); err != nil {
			return nil, err
		}
		return nil, errors.Wrap(ErrIncompatibleTrace, "empty file")
	}
	var hdr traceHeader
	if err := json.Unmarshal(sc.Bytes(), &hdr); err != nil {
		return nil, errors.Wrap(ErrIncompatibleTrace, "unreadable header")
	}
	if hdr.Format != traceFormat || hdr.Version != traceVersion {
		return nil, errors.Wrapf(ErrIncompatibleTrace, "format %q version %d", hdr.Format, hdr.Version)
	}

	var ops []CompleteOperation
	seen := make(map[ID]bool)
	line := 1
	for sc.Scan() {
		line++
		raw := bytes.TrimSpace(sc.Bytes())
		if len(raw) == 0 {
			continue
		}
		var rec record
		dec := json.NewDecoder(bytes.NewReader(raw))
		dec.DisallowUnknownFields()
		if err := dec.Decode(&rec); err != nil {
			return nil, errors.Wrapf(ErrCorruptTrace, "line %d: %v", line, err)
		}
		if rec.ID == "" {
			return nil, errors.Wrapf(ErrCorruptTrace, "line %d: missing id", line)
		}
		if seen[rec.ID] {
			return nil, errors.Wrapf(ErrCorruptTrace, "line %d: duplicate id %s", line, rec.ID)
		}
		seen[rec.ID] = true
		ops = append(ops, fromRecord(rec))
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	return newTrace(ops), nil
}

func fromRecord(rec record) CompleteOperation {
	op := CompleteOperation{
		ID:          rec.ID,
		ParentID:    rec.ParentID,
		Name:        rec.Name,
		DisplayName: rec.DisplayName,
		StartTime:   rec.StartTime,
		EndTime:     rec.EndTime,
		Finished:    rec.Finished,
		DetailsType: rec.DetailsType,
		ResultType:  rec.ResultType,
	}
	op.Details = decodePayload(&op, "details", rec.DetailsType, rec.Details, rec.DetailsError)
	op.Result = decodePayload(&op, "result", rec.ResultType, rec.Result, rec.ResultError)
	if rec.Failure != nil {
		op.Failure = &RecordedFailure{Type: rec.Failure.Type, Message: rec.Failure.Message}
	}
	return op
}

func decodePayload(op *CompleteOperation, field, typ, text, failure string) Document {
	if failure != "" {
		op.PayloadErrors = append(op.PayloadErrors, &PayloadError{
			Operation: op.ID, Field: field, Type: typ, Err: errors.New(failure),
		})
		return Null()
	}
	if text == "" {
		return Null()
	}
	doc, err := ParseDocument([]byte(text))
	if err != nil {
		op.PayloadErrors = append(op.PayloadErrors, &PayloadError{Operation: op.ID, Field: field, Type: typ, Err: err})
		return Null()
	}
	return doc
}
