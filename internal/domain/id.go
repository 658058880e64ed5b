package domain

import (
	"encoding/binary"
	"fmt"
	"strconv"
	"strings"

	"github.com/google/uuid"
)

// JobID identifies one query submission for its whole lifetime. It is the
// string form of the 128-bit execution identifier the engine allocates.
type JobID string

func (id JobID) String() string { return string(id) }

// ExternalID is the engine-side 128-bit execution identifier, split into two
// 64-bit halves the way it travels on the wire.
type ExternalID struct {
	Part1 int64 `json:"part1"`
	Part2 int64 `json:"part2"`
}

// NewExternalID allocates a fresh random execution identifier.
func NewExternalID() ExternalID {
	return externalIDFromUUID(uuid.New())
}

func externalIDFromUUID(u uuid.UUID) ExternalID {
	return ExternalID{
		Part1: int64(binary.BigEndian.Uint64(u[0:8])),
		Part2: int64(binary.BigEndian.Uint64(u[8:16])),
	}
}

// JobID converts the execution identifier to its job identifier form.
func (e ExternalID) JobID() JobID {
	var u uuid.UUID
	binary.BigEndian.PutUint64(u[0:8], uint64(e.Part1))
	binary.BigEndian.PutUint64(u[8:16], uint64(e.Part2))
	return JobID(u.String())
}

func (e ExternalID) String() string {
	return string(e.JobID())
}

// ExternalID converts a job identifier back to the engine's execution
// identifier. Fails if the job id is not a well-formed 128-bit identifier.
func (id JobID) ExternalID() (ExternalID, error) {
	u, err := uuid.Parse(string(id))
	if err != nil {
		return ExternalID{}, ErrValidation("job id %q is not a valid identifier", id)
	}
	return externalIDFromUUID(u), nil
}

// AttemptID identifies one execution attempt of a job. It is the Profile
// Store key.
type AttemptID struct {
	Job JobID
	Num int
}

// String renders the attempt id in its stored "jobid/num" form.
func (a AttemptID) String() string {
	return fmt.Sprintf("%s/%d", a.Job, a.Num)
}

// ParseAttemptID parses the stored "jobid/num" form.
func ParseAttemptID(s string) (AttemptID, error) {
	jobPart, numPart, ok := strings.Cut(s, "/")
	if !ok {
		return AttemptID{}, ErrValidation("attempt id %q is malformed", s)
	}
	num, err := strconv.Atoi(numPart)
	if err != nil || num < 0 {
		return AttemptID{}, ErrValidation("attempt id %q has an invalid attempt number", s)
	}
	return AttemptID{Job: JobID(jobPart), Num: num}, nil
}
