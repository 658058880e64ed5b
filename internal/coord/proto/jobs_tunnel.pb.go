package coordproto

type ExternalQueryId struct {
	Part1 int64 `json:"part1,omitempty"`
	Part2 int64 `json:"part2,omitempty"`
}

type QueryProfileRequest struct {
	QueryId *ExternalQueryId `json:"query_id,omitempty"`
	Attempt int32            `json:"attempt,omitempty"`
}

type NodeProfile struct {
	Address        string `json:"address,omitempty"`
	FabricPort     int32  `json:"fabric_port,omitempty"`
	PeakMemory     int64  `json:"peak_memory,omitempty"`
	TotalFragments int32  `json:"total_fragments,omitempty"`
	DoneFragments  int32  `json:"done_fragments,omitempty"`
}

type QueryProfile struct {
	Query         string         `json:"query,omitempty"`
	State         string         `json:"state,omitempty"`
	Start         int64          `json:"start,omitempty"`
	End           int64          `json:"end,omitempty"`
	Error         string         `json:"error,omitempty"`
	Plan          string         `json:"plan,omitempty"`
	User          string         `json:"user,omitempty"`
	InputBytes    int64          `json:"input_bytes,omitempty"`
	OutputBytes   int64          `json:"output_bytes,omitempty"`
	InputRecords  int64          `json:"input_records,omitempty"`
	OutputRecords int64          `json:"output_records,omitempty"`
	PlanningEnd   int64          `json:"planning_end,omitempty"`
	NodeProfiles  []*NodeProfile `json:"node_profiles,omitempty"`
}

type QueryProfileResponse struct {
	Profile *QueryProfile `json:"profile,omitempty"`
}

type CancelQueryRequest struct {
	QueryId *ExternalQueryId `json:"query_id,omitempty"`
}

type Ack struct {
	Ok      bool   `json:"ok,omitempty"`
	Message string `json:"message,omitempty"`
}
