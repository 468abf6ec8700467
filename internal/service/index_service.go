package service

import (
	"context"
	"fmt"
	"math"
	"strconv"
	"strings"

	"yarrow/pkg/constants"
	"yarrow/pkg/interfaces"
	"yarrow/pkg/logger"
)

// IndexService allocates sequential per-session indexes to workers
type IndexService struct {
	store interfaces.CounterStore
}

// NewIndexService creates a new index service
func NewIndexService(store interfaces.CounterStore) *IndexService {
	return &IndexService{store: store}
}

// NextID allocates the next index of session. vmid is informational and echoed back.
func (s *IndexService) NextID(ctx context.Context, session, vmid string) (*interfaces.NextIDResponse, error) {
	id, err := s.store.Next(ctx, session)
	if err != nil {
		return nil, fmt.Errorf("failed to allocate index for session %s: %w", session, err)
	}

	resp := &interfaces.NextIDResponse{
		ID:      id,
		Session: session,
		VMID:    strconv.FormatInt(int64(ParseVMID(vmid)), 10),
	}
	logger.DebugCtx(ctx, "Allocated index: session=%s, vmid=%s, id=%d", session, resp.VMID, id)
	return resp, nil
}

// ParseVMID coerces the raw vmid parameter to int32. Digits are always base 10
// (leading zeros included), fractions truncate and out-of-range values wrap.
// Anything unparsable is 0.
func ParseVMID(raw string) int32 {
	s := strings.TrimSpace(raw)
	if s == "" {
		return 0
	}
	if len(s) > 2 && s[0] == '0' {
		switch s[1] {
		case 'x', 'X', 'o', 'O', 'b', 'B':
			n, err := strconv.ParseUint(s, 0, 64)
			if err != nil {
				return 0
			}
			return int32(uint32(n))
		}
	}
	if strings.ContainsAny(s, "_xXpP") || strings.EqualFold(strings.TrimLeft(s, "+-"), "nan") {
		return 0
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsInf(f, 0) || math.IsNaN(f) {
		return 0
	}
	f = math.Mod(math.Trunc(f), 1<<32)
	return int32(uint32(int64(f)))
}

// DefaultSession returns the session used when a request names none
func DefaultSession() string {
	return constants.IndexDefaultSession
}
