package domain

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"fmt"
)

// QueryState is the execution engine's view of a query, as delivered on
// lifecycle callbacks and tunnel responses.
type QueryState string

// Engine query states.
const (
	QueryStateStarting  QueryState = "STARTING"
	QueryStateRunning   QueryState = "RUNNING"
	QueryStateEnqueued  QueryState = "ENQUEUED"
	QueryStateCompleted QueryState = "COMPLETED"
	QueryStateCanceled  QueryState = "CANCELED"
	QueryStateFailed    QueryState = "FAILED"
)

// JobState maps an engine query state to the control plane's job state.
// Anything unrecognized maps to NOT_SUBMITTED.
func (s QueryState) JobState() JobState {
	switch s {
	case QueryStateStarting, QueryStateRunning, QueryStateEnqueued:
		return JobStateRunning
	case QueryStateCompleted:
		return JobStateCompleted
	case QueryStateCanceled:
		return JobStateCanceled
	case QueryStateFailed:
		return JobStateFailed
	default:
		return JobStateNotSubmitted
	}
}

// NodeProfile is one node's slice of an execution profile.
type NodeProfile struct {
	Endpoint       NodeEndpoint `json:"endpoint"`
	PeakMemory     int64        `json:"peakMemory,omitempty"`
	TotalFragments int          `json:"totalFragments,omitempty"`
	DoneFragments  int          `json:"doneFragments,omitempty"`
}

// QueryProfile is the execution profile snapshot the engine reports at exec
// start and at attempt completion.
type QueryProfile struct {
	Query         string        `json:"query"`
	State         QueryState    `json:"state"`
	Start         int64         `json:"start"` // unix millis
	End           int64         `json:"end,omitempty"`
	Error         string        `json:"error,omitempty"`
	Plan          string        `json:"plan,omitempty"`
	User          string        `json:"user,omitempty"`
	InputBytes    int64         `json:"inputBytes,omitempty"`
	OutputBytes   int64         `json:"outputBytes,omitempty"`
	InputRecords  int64         `json:"inputRecords,omitempty"`
	OutputRecords int64         `json:"outputRecords,omitempty"`
	PlanningEnd   int64         `json:"planningEnd,omitempty"`
	NodeProfiles  []NodeProfile `json:"nodeProfiles,omitempty"`
}

// ToJSON serializes the profile for the Profile Store's JSON form.
func (p *QueryProfile) ToJSON() ([]byte, error) {
	return json.Marshal(p)
}

// ProfileFromJSON parses the Profile Store JSON form.
func ProfileFromJSON(b []byte) (*QueryProfile, error) {
	var p QueryProfile
	if err := json.Unmarshal(b, &p); err != nil {
		return nil, fmt.Errorf("parse profile json: %w", err)
	}
	return &p, nil
}

// profileWireMagic frames the engine's raw binary profile form.
var profileWireMagic = [4]byte{'Q', 'P', 'R', 'O'}

const profileWireVersion byte = 1

// MarshalWire renders the profile in the engine's raw binary wire form,
// independent of the JSON form.
func (p *QueryProfile) MarshalWire() ([]byte, error) {
	var buf bytes.Buffer
	buf.Write(profileWireMagic[:])
	buf.WriteByte(profileWireVersion)

	writeString := func(s string) {
		var n [4]byte
		binary.BigEndian.PutUint32(n[:], uint32(len(s)))
		buf.Write(n[:])
		buf.WriteString(s)
	}
	writeInt64 := func(v int64) {
		var n [8]byte
		binary.BigEndian.PutUint64(n[:], uint64(v))
		buf.Write(n[:])
	}

	writeString(p.Query)
	writeString(string(p.State))
	writeInt64(p.Start)
	writeInt64(p.End)
	writeString(p.Error)
	writeString(p.Plan)
	writeString(p.User)
	writeInt64(p.InputBytes)
	writeInt64(p.OutputBytes)
	writeInt64(p.InputRecords)
	writeInt64(p.OutputRecords)
	writeInt64(p.PlanningEnd)
	return buf.Bytes(), nil
}

// ProfileFromWire parses the engine's raw binary wire form.
func ProfileFromWire(b []byte) (*QueryProfile, error) {
	r := bytes.NewReader(b)

	var magic [4]byte
	if _, err := r.Read(magic[:]); err != nil || magic != profileWireMagic {
		return nil, fmt.Errorf("profile wire form: bad magic")
	}
	version, err := r.ReadByte()
	if err != nil || version != profileWireVersion {
		return nil, fmt.Errorf("profile wire form: unsupported version")
	}

	readString := func() (string, error) {
		var n [4]byte
		if _, err := r.Read(n[:]); err != nil {
			return "", fmt.Errorf("profile wire form: truncated length")
		}
		size := binary.BigEndian.Uint32(n[:])
		if uint32(r.Len()) < size {
			return "", fmt.Errorf("profile wire form: truncated string")
		}
		s := make([]byte, size)
		if _, err := r.Read(s); err != nil {
			return "", fmt.Errorf("profile wire form: truncated string")
		}
		return string(s), nil
	}
	readInt64 := func() (int64, error) {
		var n [8]byte
		if _, err := r.Read(n[:]); err != nil {
			return 0, fmt.Errorf("profile wire form: truncated int")
		}
		return int64(binary.BigEndian.Uint64(n[:])), nil
	}

	var p QueryProfile
	var state string
	fields := []func() error{
		func() (err error) { p.Query, err = readString(); return },
		func() (err error) { state, err = readString(); return },
		func() (err error) { p.Start, err = readInt64(); return },
		func() (err error) { p.End, err = readInt64(); return },
		func() (err error) { p.Error, err = readString(); return },
		func() (err error) { p.Plan, err = readString(); return },
		func() (err error) { p.User, err = readString(); return },
		func() (err error) { p.InputBytes, err = readInt64(); return },
		func() (err error) { p.OutputBytes, err = readInt64(); return },
		func() (err error) { p.InputRecords, err = readInt64(); return },
		func() (err error) { p.OutputRecords, err = readInt64(); return },
		func() (err error) { p.PlanningEnd, err = readInt64(); return },
	}
	for _, read := range fields {
		if err := read(); err != nil {
			return nil, err
		}
	}
	p.State = QueryState(state)
	return &p, nil
}
