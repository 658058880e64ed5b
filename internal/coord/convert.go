package coord

import (
	coordproto "queryplane/internal/coord/proto"
	"queryplane/internal/domain"
)

func externalIDToProto(id domain.ExternalID) *coordproto.ExternalQueryId {
	return &coordproto.ExternalQueryId{Part1: id.Part1, Part2: id.Part2}
}

func externalIDFromProto(id *coordproto.ExternalQueryId) domain.ExternalID {
	if id == nil {
		return domain.ExternalID{}
	}
	return domain.ExternalID{Part1: id.Part1, Part2: id.Part2}
}

func profileToProto(p *domain.QueryProfile) *coordproto.QueryProfile {
	if p == nil {
		return nil
	}
	out := &coordproto.QueryProfile{
		Query:         p.Query,
		State:         string(p.State),
		Start:         p.Start,
		End:           p.End,
		Error:         p.Error,
		Plan:          p.Plan,
		User:          p.User,
		InputBytes:    p.InputBytes,
		OutputBytes:   p.OutputBytes,
		InputRecords:  p.InputRecords,
		OutputRecords: p.OutputRecords,
		PlanningEnd:   p.PlanningEnd,
	}
	for _, np := range p.NodeProfiles {
		out.NodeProfiles = append(out.NodeProfiles, &coordproto.NodeProfile{
			Address:        np.Endpoint.Address,
			FabricPort:     int32(np.Endpoint.FabricPort),
			PeakMemory:     np.PeakMemory,
			TotalFragments: int32(np.TotalFragments),
			DoneFragments:  int32(np.DoneFragments),
		})
	}
	return out
}

func profileFromProto(p *coordproto.QueryProfile) *domain.QueryProfile {
	if p == nil {
		return nil
	}
	out := &domain.QueryProfile{
		Query:         p.Query,
		State:         domain.QueryState(p.State),
		Start:         p.Start,
		End:           p.End,
		Error:         p.Error,
		Plan:          p.Plan,
		User:          p.User,
		InputBytes:    p.InputBytes,
		OutputBytes:   p.OutputBytes,
		InputRecords:  p.InputRecords,
		OutputRecords: p.OutputRecords,
		PlanningEnd:   p.PlanningEnd,
	}
	for _, np := range p.NodeProfiles {
		if np == nil {
			continue
		}
		out.NodeProfiles = append(out.NodeProfiles, domain.NodeProfile{
			Endpoint: domain.NodeEndpoint{
				Address:    np.Address,
				FabricPort: int(np.FabricPort),
			},
			PeakMemory:     np.PeakMemory,
			TotalFragments: int(np.TotalFragments),
			DoneFragments:  int(np.DoneFragments),
		})
	}
	return out
}
