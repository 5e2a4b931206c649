package agent

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vladmesh/codegen-orchestrator-sub002/pkg/types"
)

func TestExtractVerdict(t *testing.T) {
	tests := []struct {
		name     string
		segments []string
		want     *types.AgentVerdict
		wantErr  bool
	}{
		{
			name:     "success verdict with data",
			segments: []string{`I finished the refactor.` + "\n" + `<result>{"status":"success","summary":"refactor done","data":{"files_changed":3}}</result>`},
			want: &types.AgentVerdict{
				Status:  types.VerdictSuccess,
				Summary: "refactor done",
				Data:    map[string]any{"files_changed": float64(3)},
			},
		},
		{
			name: "block split across segments",
			segments: []string{
				"working on it <result>",
				`{"status":"failure","summary":"tests red"}`,
				"</result> done",
			},
			want: &types.AgentVerdict{Status: types.VerdictFailure, Summary: "tests red"},
		},
		{
			name:     "no block",
			segments: []string{"just chatting, no structured outcome"},
			want:     nil,
		},
		{
			name:     "first block wins",
			segments: []string{`<result>{"status":"in_progress","summary":"first"}</result><result>{"status":"success","summary":"second"}</result>`},
			want:     &types.AgentVerdict{Status: types.VerdictInProgress, Summary: "first"},
		},
		{
			name:     "unterminated block",
			segments: []string{`<result>{"status":"success","summary":"oops"`},
			wantErr:  true,
		},
		{
			name:     "payload is not JSON",
			segments: []string{"<result>definitely not json</result>"},
			wantErr:  true,
		},
		{
			name:     "unknown status",
			segments: []string{`<result>{"status":"maybe","summary":"?"}</result>`},
			wantErr:  true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ExtractVerdict(tt.segments)
			if tt.wantErr {
				require.Error(t, err)
				var perr *types.AgentProtocolError
				assert.True(t, errors.As(err, &perr))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}
